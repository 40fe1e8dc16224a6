package server

import (
	"net/http"
	"strings"

	"cleanspot/models"
	"cleanspot/server/api"
	"cleanspot/tasks"

	"github.com/gin-gonic/gin"
)

// ListTasks returns the authenticated worker's queue ordered by
// priority. Optional query params: status (exact filter) and zones
// (comma-separated zone names).
func (s *Server) ListTasks(c *gin.Context) {
	q := tasks.Query{
		WorkerID: c.GetString("actor_id"),
	}

	if raw := c.Query("status"); raw != "" {
		st := models.ReportStatus(raw)
		if !st.Valid() {
			respondError(c, models.NewValidationError("status", "unknown status filter"))
			return
		}
		q.Status = st
	}
	if raw := c.Query("zones"); raw != "" {
		q.Zones = strings.Split(raw, ",")
	}

	ranked, err := s.tasks.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.TaskListResponse{Tasks: ranked})
}
