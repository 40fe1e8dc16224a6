// Package status owns the report lifecycle state machine. The adjacency
// table below is the single source of truth for legal transitions; every
// write goes through Transition, which holds a row lock for the whole
// read-modify-write so two racing callers can never both advance a
// report out of the same state.
package status

import (
	"context"
	"database/sql"
	"time"

	"cleanspot/database"
	"cleanspot/events"
	"cleanspot/models"

	"github.com/apex/log"
)

// adjacency lists the legal target states per source state. The two
// backward edges are deliberate: assigned->open is un-assignment,
// verified->assigned is the admin rejection rollback. resolved is
// terminal and maps to nothing.
var adjacency = map[models.ReportStatus][]models.ReportStatus{
	models.StatusOpen:       {models.StatusAssigned},
	models.StatusAssigned:   {models.StatusInProgress, models.StatusOpen},
	models.StatusInProgress: {models.StatusVerified},
	models.StatusVerified:   {models.StatusResolved, models.StatusAssigned},
	models.StatusResolved:   {},
}

// CanTransition reports whether from -> to is a legal edge. Same-state
// transitions are always illegal.
func CanTransition(from, to models.ReportStatus) bool {
	for _, next := range adjacency[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine executes status transitions against storage.
type Machine struct {
	db  *sql.DB
	pub events.Sink
	now func() time.Time
}

func NewMachine(db *sql.DB, pub events.Sink) *Machine {
	return &Machine{db: db, pub: pub, now: time.Now}
}

// Transition moves the report to target if the edge is legal, stamping
// the stage timestamp and binding or clearing the assigned worker as
// required. actorID is the worker being bound when target is assigned.
func (m *Machine) Transition(ctx context.Context, reportID string, target models.ReportStatus, actorID string) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return err
	}
	defer tx.Rollback()

	from, err := m.transitionTx(ctx, tx, reportID, target, actorID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing transition for report %s: %v", reportID, err)
		return err
	}

	m.Announce(reportID, from, target, actorID)
	return nil
}

// Announce publishes the status-changed event for a committed
// transition. Callers that run TransitionTx inside their own
// transaction call this after their commit.
func (m *Machine) Announce(reportID string, from, to models.ReportStatus, actorID string) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(events.RouteStatusChanged, events.StatusChangedEvent{
		ReportID:  reportID,
		From:      from,
		To:        to,
		ActorID:   actorID,
		Timestamp: m.now().UTC(),
	})
}

// Unassign gives an assigned report back to the open pool. Only the
// assigned worker may give a report back; force bypasses the ownership
// check for administrative reassignment.
func (m *Machine) Unassign(ctx context.Context, reportID, actorID string, force bool) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return err
	}
	defer tx.Rollback()

	var (
		current  models.ReportStatus
		assigned sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, assigned_worker_id FROM reports WHERE id = ? FOR UPDATE`,
		reportID).Scan(&current, &assigned)
	if err == sql.ErrNoRows {
		return models.NewNotFoundError("report")
	}
	if err != nil {
		log.Errorf("Error reading report %s: %v", reportID, err)
		return err
	}
	if !CanTransition(current, models.StatusOpen) {
		return models.NewStateError(current, models.StatusOpen)
	}
	if !force && (!assigned.Valid || assigned.String != actorID) {
		return models.NewForbiddenError("report is assigned to another worker")
	}

	result, err := tx.ExecContext(ctx, `UPDATE reports
		SET status = ?, assigned_worker_id = NULL
		WHERE id = ? AND status = ?`,
		models.StatusOpen, reportID, current)
	database.LogResult("unassign", result, err, true)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		return models.NewStateError(current, models.StatusOpen)
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing unassign of report %s: %v", reportID, err)
		return err
	}

	m.Announce(reportID, current, models.StatusOpen, actorID)
	return nil
}

// TransitionTx runs the transition inside the caller's transaction so
// the verification and approval subsystems can couple it with their own
// writes. Returns the source status.
func (m *Machine) TransitionTx(ctx context.Context, tx *sql.Tx, reportID string, target models.ReportStatus, actorID string) (models.ReportStatus, error) {
	return m.transitionTx(ctx, tx, reportID, target, actorID)
}

func (m *Machine) transitionTx(ctx context.Context, tx *sql.Tx, reportID string, target models.ReportStatus, actorID string) (models.ReportStatus, error) {
	var current models.ReportStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM reports WHERE id = ? FOR UPDATE`, reportID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", models.NewNotFoundError("report")
	}
	if err != nil {
		log.Errorf("Error reading report %s status: %v", reportID, err)
		return "", err
	}

	if !CanTransition(current, target) {
		return current, models.NewStateError(current, target)
	}

	now := m.now().UTC()
	var result sql.Result
	switch target {
	case models.StatusAssigned:
		if current == models.StatusVerified {
			// Admin rejection rollback: the cycle restarts, so the
			// in-progress and verified stamps are cleared. The worker
			// keeps the assignment.
			result, err = tx.ExecContext(ctx, `UPDATE reports
				SET status = ?, in_progress_at = NULL, verified_at = NULL
				WHERE id = ? AND status = ?`,
				target, reportID, current)
		} else {
			result, err = tx.ExecContext(ctx, `UPDATE reports
				SET status = ?, assigned_at = COALESCE(assigned_at, ?), assigned_worker_id = ?
				WHERE id = ? AND status = ?`,
				target, now, actorID, reportID, current)
		}
	case models.StatusOpen:
		result, err = tx.ExecContext(ctx, `UPDATE reports
			SET status = ?, assigned_worker_id = NULL
			WHERE id = ? AND status = ?`,
			target, reportID, current)
	case models.StatusInProgress:
		result, err = tx.ExecContext(ctx, `UPDATE reports
			SET status = ?, in_progress_at = COALESCE(in_progress_at, ?)
			WHERE id = ? AND status = ?`,
			target, now, reportID, current)
	case models.StatusVerified:
		result, err = tx.ExecContext(ctx, `UPDATE reports
			SET status = ?, verified_at = COALESCE(verified_at, ?)
			WHERE id = ? AND status = ?`,
			target, now, reportID, current)
	case models.StatusResolved:
		result, err = tx.ExecContext(ctx, `UPDATE reports
			SET status = ?, resolved_at = COALESCE(resolved_at, ?)
			WHERE id = ? AND status = ?`,
			target, now, reportID, current)
	default:
		return current, models.NewStateError(current, target)
	}
	database.LogResult("transition", result, err, true)
	if err != nil {
		return current, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return current, err
	}
	if rows != 1 {
		// The guarded UPDATE lost a race despite the row lock; report
		// a conflict rather than pretending the transition happened.
		return current, models.NewStateError(current, target)
	}
	return current, nil
}
