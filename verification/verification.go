// Package verification implements the field-verification gate: a worker
// has to be physically at the report location to start a task, and the
// completion has to land inside the plausible time window. Each
// operation runs its precondition checks and writes in one transaction
// holding the report row lock, so of two racing workers exactly one
// proceeds.
package verification

import (
	"context"
	"database/sql"
	"math"
	"time"

	"cleanspot/config"
	"cleanspot/database"
	"cleanspot/geo"
	"cleanspot/models"
	"cleanspot/status"

	"github.com/apex/log"
)

type Service struct {
	db      *sql.DB
	machine *status.Machine
	cfg     *config.Config
	now     func() time.Time
}

func NewService(db *sql.DB, machine *status.Machine, cfg *config.Config) *Service {
	return &Service{db: db, machine: machine, cfg: cfg, now: time.Now}
}

// StartTask verifies the worker is assigned and within the geofence,
// records the before photo and flips the report to in_progress.
func (s *Service) StartTask(ctx context.Context, reportID, workerID string, workerLoc models.Location, beforePhotoURL string) (*models.Verification, error) {
	if beforePhotoURL == "" {
		return nil, models.NewValidationError("before_photo", "before photo is required")
	}
	if err := geo.ValidateCoordinates(workerLoc); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	var (
		current  models.ReportStatus
		assigned sql.NullString
		lat, lng float64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, assigned_worker_id, latitude, longitude FROM reports WHERE id = ? FOR UPDATE`,
		reportID).Scan(&current, &assigned, &lat, &lng)
	if err == sql.ErrNoRows {
		return nil, models.NewNotFoundError("report")
	}
	if err != nil {
		log.Errorf("Error reading report %s: %v", reportID, err)
		return nil, err
	}

	if current != models.StatusAssigned {
		return nil, models.NewStateError(current, models.StatusInProgress)
	}
	if !assigned.Valid || assigned.String != workerID {
		return nil, models.NewForbiddenError("report is not assigned to this worker")
	}

	if err := geo.CheckGeofence(workerLoc, models.Location{Latitude: lat, Longitude: lng}, s.cfg.GeofenceRadiusM); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	v := &models.Verification{
		ID:             models.NewID(),
		ReportID:       reportID,
		WorkerID:       workerID,
		BeforePhotoURL: beforePhotoURL,
		WorkerLocation: workerLoc,
		StartedAt:      now,
		ApprovalStatus: models.ApprovalPending,
	}

	result, err := tx.ExecContext(ctx, `INSERT
	  INTO verifications (id, report_id, worker_id, before_photo_url, worker_latitude, worker_longitude, started_at, approval_status)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ReportID, v.WorkerID, v.BeforePhotoURL,
		workerLoc.Latitude, workerLoc.Longitude, now, string(v.ApprovalStatus))
	database.LogResult("startTask", result, err, true)
	if err != nil {
		log.Errorf("Error inserting verification: %v", err)
		return nil, err
	}

	from, err := s.machine.TransitionTx(ctx, tx, reportID, models.StatusInProgress, workerID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing startTask for report %s: %v", reportID, err)
		return nil, err
	}

	s.machine.Announce(reportID, from, models.StatusInProgress, workerID)
	return v, nil
}

// CompleteTask records the after photo and the time spent, then flips
// the report to verified. Elapsed time outside the window is rejected:
// too fast implies fraud, too slow implies the scene went stale.
func (s *Service) CompleteTask(ctx context.Context, reportID, workerID, afterPhotoURL string) (int, error) {
	if afterPhotoURL == "" {
		return 0, models.NewValidationError("after_photo", "after photo is required")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return 0, err
	}
	defer tx.Rollback()

	var current models.ReportStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM reports WHERE id = ? FOR UPDATE`, reportID).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, models.NewNotFoundError("report")
	}
	if err != nil {
		log.Errorf("Error reading report %s: %v", reportID, err)
		return 0, err
	}
	if current != models.StatusInProgress {
		return 0, models.NewStateError(current, models.StatusVerified)
	}

	var (
		verificationID string
		ownerID        string
		startedAt      time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT id, worker_id, started_at
	  FROM verifications
	  WHERE report_id = ? AND approval_status = ? AND completed_at IS NULL
	  ORDER BY started_at DESC LIMIT 1 FOR UPDATE`,
		reportID, string(models.ApprovalPending)).Scan(&verificationID, &ownerID, &startedAt)
	if err == sql.ErrNoRows {
		return 0, models.NewNotFoundError("verification")
	}
	if err != nil {
		log.Errorf("Error reading verification for report %s: %v", reportID, err)
		return 0, err
	}
	if ownerID != workerID {
		return 0, models.NewForbiddenError("verification belongs to another worker")
	}

	now := s.now().UTC()
	elapsedMinutes := now.Sub(startedAt).Minutes()
	if err := geo.CheckTiming(elapsedMinutes, s.cfg.MinTaskMinutes, s.cfg.MaxTaskMinutes); err != nil {
		return 0, err
	}
	timeSpent := int(math.Round(elapsedMinutes))

	result, err := tx.ExecContext(ctx, `UPDATE verifications
	  SET after_photo_url = ?, completed_at = ?, time_spent_minutes = ?
	  WHERE id = ?`,
		afterPhotoURL, now, timeSpent, verificationID)
	database.LogResult("completeTask", result, err, true)
	if err != nil {
		log.Errorf("Error updating verification %s: %v", verificationID, err)
		return 0, err
	}

	from, err := s.machine.TransitionTx(ctx, tx, reportID, models.StatusVerified, workerID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing completeTask for report %s: %v", reportID, err)
		return 0, err
	}

	s.machine.Announce(reportID, from, models.StatusVerified, workerID)
	return timeSpent, nil
}
