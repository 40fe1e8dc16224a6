package server

import (
	"net/http"

	"cleanspot/models"
	"cleanspot/server/api"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// StartTask begins field verification for the authenticated worker.
func (s *Server) StartTask(c *gin.Context) {
	var args api.StartTaskArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointStartTask, err)
		return
	}

	workerID := c.GetString("actor_id")
	v, err := s.verification.StartTask(c.Request.Context(), args.ReportID, workerID,
		models.Location{
			Latitude:  args.Latitude,
			Longitude: args.Longitude,
			Accuracy:  args.Accuracy,
		}, args.BeforePhotoURL)
	if err != nil {
		log.Errorf("Failed to start task on report %s: %v", args.ReportID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.StartTaskResponse{
		VerificationID: v.ID,
		ReportID:       args.ReportID,
		Status:         string(models.StatusInProgress),
	})
}

// CompleteTask finishes field verification for the authenticated worker.
func (s *Server) CompleteTask(c *gin.Context) {
	var args api.CompleteTaskArgs
	if err := c.BindJSON(&args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", EndPointCompleteTask, err)
		return
	}

	workerID := c.GetString("actor_id")
	timeSpent, err := s.verification.CompleteTask(c.Request.Context(), args.ReportID, workerID, args.AfterPhotoURL)
	if err != nil {
		log.Errorf("Failed to complete task on report %s: %v", args.ReportID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.CompleteTaskResponse{
		ReportID:         args.ReportID,
		TimeSpentMinutes: timeSpent,
		Status:           string(models.StatusVerified),
	})
}
