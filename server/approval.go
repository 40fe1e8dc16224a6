package server

import (
	"net/http"

	"cleanspot/models"
	"cleanspot/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// Approve finalizes a verification and resolves its report.
func (s *Server) Approve(c *gin.Context) {
	var args api.DecisionArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointApprove, err)
		return
	}

	adminID := c.GetString("actor_id")
	awarded, err := s.approval.Approve(c.Request.Context(), args.VerificationID, adminID)
	if err != nil {
		log.Errorf("Failed to approve verification %s: %v", args.VerificationID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ApproveResponse{
		VerificationID: args.VerificationID,
		Status:         string(models.StatusResolved),
		PointsAwarded:  awarded,
	})
}

// Reject reopens the verification cycle for a report.
func (s *Server) Reject(c *gin.Context) {
	var args api.DecisionArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointReject, err)
		return
	}

	adminID := c.GetString("actor_id")
	if err := s.approval.Reject(c.Request.Context(), args.VerificationID, adminID, args.Reason); err != nil {
		log.Errorf("Failed to reject verification %s: %v", args.VerificationID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.RejectResponse{
		VerificationID: args.VerificationID,
		Status:         string(models.StatusAssigned),
	})
}
