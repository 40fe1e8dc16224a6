package server

import (
	"fmt"
	"net/http"
	"time"

	"cleanspot/admission"
	"cleanspot/approval"
	"cleanspot/config"
	"cleanspot/middleware"
	"cleanspot/models"
	"cleanspot/points"
	"cleanspot/ratelimit"
	"cleanspot/status"
	"cleanspot/tasks"
	"cleanspot/verification"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	EndPointHealth         = "/health"
	EndPointSubmitReport   = "/api/v1/reports"
	EndPointAssignReport   = "/api/v1/reports/assign"
	EndPointUnassignReport = "/api/v1/reports/unassign"
	EndPointStartTask      = "/api/v1/verifications/start"
	EndPointCompleteTask   = "/api/v1/verifications/complete"
	EndPointApprove        = "/api/v1/verifications/approve"
	EndPointReject         = "/api/v1/verifications/reject"
	EndPointListTasks      = "/api/v1/tasks"
	EndPointCitizenLedger  = "/api/v1/citizens/:deviceID/ledger"
)

type Server struct {
	cfg          *config.Config
	admission    *admission.Service
	machine      *status.Machine
	verification *verification.Service
	approval     *approval.Service
	points       *points.Service
	tasks        *tasks.Service
	limiter      *ratelimit.Limiter
}

func New(cfg *config.Config, adm *admission.Service, machine *status.Machine,
	verif *verification.Service, appr *approval.Service, pts *points.Service,
	tsk *tasks.Service, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:          cfg,
		admission:    adm,
		machine:      machine,
		verification: verif,
		approval:     appr,
		points:       pts,
		tasks:        tsk,
		limiter:      limiter,
	}
}

// Router wires the endpoints. Submission is open to anonymous devices
// behind the per-IP throttle; worker and admin routes require tokens.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.SetTrustedProxies(s.cfg.TrustedProxies)
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecurityHeaders())

	router.GET(EndPointHealth, s.Health)

	rateLimited := middleware.RateLimitMiddleware(s.limiter, s.cfg.IPRateLimit, s.cfg.IPRateWindow)
	workerAuth := middleware.AuthMiddleware(s.cfg.JWTSecret, middleware.RoleWorker)
	adminAuth := middleware.AuthMiddleware(s.cfg.JWTSecret, middleware.RoleAdmin)

	router.POST(EndPointSubmitReport, rateLimited, s.SubmitReport)
	router.GET(EndPointCitizenLedger, rateLimited, s.CitizenLedger)

	router.POST(EndPointAssignReport, workerAuth, s.AssignReport)
	router.POST(EndPointUnassignReport, workerAuth, s.UnassignReport)
	router.POST(EndPointStartTask, workerAuth, s.StartTask)
	router.POST(EndPointCompleteTask, workerAuth, s.CompleteTask)
	router.GET(EndPointListTasks, workerAuth, s.ListTasks)

	router.POST(EndPointApprove, adminAuth, s.Approve)
	router.POST(EndPointReject, adminAuth, s.Reject)

	return router
}

// Run starts the HTTP service and blocks.
func (s *Server) Run() error {
	log.Infof("Starting the service on port %s...", s.cfg.Port)
	return s.Router().Run(fmt.Sprintf(":%s", s.cfg.Port))
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError renders a domain error with its canonical code and, for
// throttles, the Retry-After header.
func respondError(c *gin.Context, err error) {
	de := models.AsError(err)
	if de.RetryAfterSec > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", de.RetryAfterSec))
	}
	c.JSON(de.HTTPStatus(), de)
}
