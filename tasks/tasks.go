// Package tasks is the read-only view that orders open and assigned
// work for a field worker by urgency. It performs no writes and ranks a
// snapshot, so it tolerates concurrent mutation of the underlying rows.
package tasks

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"cleanspot/geo"
	"cleanspot/models"

	"github.com/apex/log"
)

// Severity weights for the priority score. Unset severity ranks as low.
const (
	weightHigh   = 100
	weightMedium = 50
	weightLow    = 10
)

// Task is a report paired with its computed priority.
type Task struct {
	Report   models.Report `json:"report"`
	Priority float64       `json:"priority"`
}

// Query filters the task list. WorkerID limits the list to reports
// assigned to that worker plus unassigned open ones; Status narrows to
// an exact status; Zones keeps only reports inside the worker's zones.
type Query struct {
	WorkerID string
	Status   models.ReportStatus
	Zones    []string
}

type Service struct {
	db    *sql.DB
	zones *geo.ZoneIndex
	now   func() time.Time
}

// NewService builds the scheduler. zones may be nil when no zone
// membership is configured; zone filters then match everything.
func NewService(db *sql.DB, zones *geo.ZoneIndex) *Service {
	return &Service{db: db, zones: zones, now: time.Now}
}

// PriorityScore combines the severity weight with the report's age in
// hours, so old low-severity reports eventually outrank fresh high ones.
func PriorityScore(severity models.Severity, createdAt, now time.Time) float64 {
	weight := weightLow
	switch severity {
	case models.SeverityHigh:
		weight = weightHigh
	case models.SeverityMedium:
		weight = weightMedium
	}
	return float64(weight) + now.Sub(createdAt).Hours()
}

// Rank scores the snapshot and orders it by descending priority. The
// sort is stable, so reports with equal priority keep insertion order.
func Rank(reports []models.Report, now time.Time) []Task {
	ranked := make([]Task, 0, len(reports))
	for _, r := range reports {
		ranked = append(ranked, Task{
			Report:   r,
			Priority: PriorityScore(r.Severity, r.CreatedAt, now),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	return ranked
}

// List reads the non-terminal reports visible to the worker and returns
// them ranked.
func (s *Service) List(ctx context.Context, q Query) ([]Task, error) {
	query := `SELECT id, device_id, latitude, longitude, accuracy, severity, description, photo_url, status, assigned_worker_id, created_at
	  FROM reports
	  WHERE status != ?`
	args := []interface{}{string(models.StatusResolved)}

	if q.WorkerID != "" {
		query += ` AND (assigned_worker_id = ? OR status = ?)`
		args = append(args, q.WorkerID, string(models.StatusOpen))
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Errorf("Error querying tasks: %v", err)
		return nil, err
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var (
			r        models.Report
			severity sql.NullString
			desc     sql.NullString
			worker   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.DeviceID,
			&r.Location.Latitude, &r.Location.Longitude, &r.Location.Accuracy,
			&severity, &desc, &r.PhotoURL, &r.Status, &worker, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Severity = models.Severity(severity.String)
		r.Description = desc.String
		r.AssignedWorkerID = worker.String

		if s.zones != nil && len(q.Zones) > 0 && !s.zones.ContainsAny(q.Zones, r.Location) {
			continue
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return Rank(reports, s.now().UTC()), nil
}
