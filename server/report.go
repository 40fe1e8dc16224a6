package server

import (
	"net/http"

	"cleanspot/admission"
	"cleanspot/middleware"
	"cleanspot/models"
	"cleanspot/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// SubmitReport runs the admission gate for a citizen submission.
func (s *Server) SubmitReport(c *gin.Context) {
	var args api.SubmitReportArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointSubmitReport, err)
		return
	}

	report, err := s.admission.Submit(c.Request.Context(), &admission.SubmitRequest{
		DeviceID: args.DeviceID,
		Location: models.Location{
			Latitude:  args.Latitude,
			Longitude: args.Longitude,
			Accuracy:  args.Accuracy,
		},
		PhotoURL:              args.PhotoURL,
		CapturedAt:            args.CapturedAt,
		Description:           args.Description,
		Severity:              models.Severity(args.Severity),
		WasteTypes:            args.WasteTypes,
		TimezoneOffsetMinutes: args.TimezoneOffsetMinutes,
	})
	if err != nil {
		log.Errorf("Report submission rejected: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.SubmitReportResponse{
		ReportID: report.ID,
		Status:   string(report.Status),
	})
}

// AssignReport moves an open report to a worker.
func (s *Server) AssignReport(c *gin.Context) {
	var args api.AssignArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointAssignReport, err)
		return
	}

	workerID := args.WorkerID
	if workerID == "" {
		workerID = c.GetString("actor_id")
	}

	if err := s.machine.Transition(c.Request.Context(), args.ReportID, models.StatusAssigned, workerID); err != nil {
		log.Errorf("Failed to assign report %s: %v", args.ReportID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.StatusResponse{
		ReportID: args.ReportID,
		Status:   string(models.StatusAssigned),
	})
}

// UnassignReport gives an assigned report back to the open pool. Only
// the assigned worker may give a report back; admins may unassign any.
func (s *Server) UnassignReport(c *gin.Context) {
	var args api.UnassignArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointUnassignReport, err)
		return
	}

	force := c.GetString("actor_role") == middleware.RoleAdmin
	if err := s.machine.Unassign(c.Request.Context(), args.ReportID, c.GetString("actor_id"), force); err != nil {
		log.Errorf("Failed to unassign report %s: %v", args.ReportID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.StatusResponse{
		ReportID: args.ReportID,
		Status:   string(models.StatusOpen),
	})
}

// CitizenLedger reads a submitter's points standing.
func (s *Server) CitizenLedger(c *gin.Context) {
	deviceID := c.Param("deviceID")
	citizen, err := s.points.Ledger(c.Request.Context(), deviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, citizen)
}
