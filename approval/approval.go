// Package approval implements the administrative gate that finalizes or
// reopens a verified report. The decision and the status transition
// commit together; crediting the submitter happens after the commit and
// is allowed to fail, because reversing a citizen-visible "resolved" is
// worse than a temporarily missing credit.
package approval

import (
	"context"
	"database/sql"
	"time"

	"cleanspot/database"
	"cleanspot/events"
	"cleanspot/models"
	"cleanspot/points"
	"cleanspot/status"

	"github.com/apex/log"
)

type Service struct {
	db      *sql.DB
	machine *status.Machine
	points  *points.Service
	pub     events.Sink
	now     func() time.Time
}

func NewService(db *sql.DB, machine *status.Machine, pointsSvc *points.Service, pub events.Sink) *Service {
	return &Service{db: db, machine: machine, points: pointsSvc, pub: pub, now: time.Now}
}

// decision loads and locks the verification plus its report, enforcing
// the pending-only and report-verified preconditions shared by both
// decisions.
type decision struct {
	verificationID string
	reportID       string
	deviceID       string
	severity       models.Severity
}

func (s *Service) loadPending(ctx context.Context, tx *sql.Tx, verificationID string) (*decision, error) {
	var (
		reportID       string
		approvalStatus models.ApprovalStatus
	)
	err := tx.QueryRowContext(ctx,
		`SELECT report_id, approval_status FROM verifications WHERE id = ? FOR UPDATE`,
		verificationID).Scan(&reportID, &approvalStatus)
	if err == sql.ErrNoRows {
		return nil, models.NewNotFoundError("verification")
	}
	if err != nil {
		log.Errorf("Error reading verification %s: %v", verificationID, err)
		return nil, err
	}
	if approvalStatus != models.ApprovalPending {
		return nil, models.NewAlreadyDecidedError(approvalStatus)
	}

	// Defensive re-check: the report must still be in verified even
	// though status and approval are coupled by the state machine.
	var (
		reportStatus models.ReportStatus
		deviceID     string
		severity     sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, device_id, severity FROM reports WHERE id = ? FOR UPDATE`,
		reportID).Scan(&reportStatus, &deviceID, &severity)
	if err == sql.ErrNoRows {
		return nil, models.NewNotFoundError("report")
	}
	if err != nil {
		log.Errorf("Error reading report %s: %v", reportID, err)
		return nil, err
	}
	if reportStatus != models.StatusVerified {
		return nil, models.NewStateError(reportStatus, models.StatusResolved)
	}

	return &decision{
		verificationID: verificationID,
		reportID:       reportID,
		deviceID:       deviceID,
		severity:       models.Severity(severity.String),
	}, nil
}

// decide flips the pending verification. The guarded WHERE makes a
// double decision impossible even if the lock ordering ever changes.
func (s *Service) decide(ctx context.Context, tx *sql.Tx, verificationID string, to models.ApprovalStatus, reason string) error {
	var result sql.Result
	var err error
	if to == models.ApprovalRejected {
		result, err = tx.ExecContext(ctx, `UPDATE verifications
		  SET approval_status = ?, reject_reason = ?
		  WHERE id = ? AND approval_status = ?`,
			string(to), reason, verificationID, string(models.ApprovalPending))
	} else {
		result, err = tx.ExecContext(ctx, `UPDATE verifications
		  SET approval_status = ?
		  WHERE id = ? AND approval_status = ?`,
			string(to), verificationID, string(models.ApprovalPending))
	}
	database.LogResult("decide", result, err, true)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		// Report the decision actually stored, not the one attempted.
		var actual models.ApprovalStatus
		if err := tx.QueryRowContext(ctx,
			`SELECT approval_status FROM verifications WHERE id = ?`,
			verificationID).Scan(&actual); err != nil {
			log.Errorf("Error re-reading verification %s after lost decision race: %v", verificationID, err)
			return models.NewAlreadyDecidedError(to)
		}
		return models.NewAlreadyDecidedError(actual)
	}
	return nil
}

// Approve finalizes the verification, resolves the report and credits
// the submitter. Returns the credited points; zero with a nil error
// means the credit is parked for reconciliation.
func (s *Service) Approve(ctx context.Context, verificationID, adminID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return 0, err
	}
	defer tx.Rollback()

	d, err := s.loadPending(ctx, tx, verificationID)
	if err != nil {
		return 0, err
	}
	if err := s.decide(ctx, tx, verificationID, models.ApprovalApproved, ""); err != nil {
		return 0, err
	}
	from, err := s.machine.TransitionTx(ctx, tx, d.reportID, models.StatusResolved, adminID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing approval of %s: %v", verificationID, err)
		return 0, err
	}
	s.machine.Announce(d.reportID, from, models.StatusResolved, adminID)

	// The approval is committed. A failing credit is logged and parked,
	// never rolled back.
	awarded, err := s.points.Award(ctx, d.deviceID, d.reportID, d.severity)
	if err != nil {
		log.Errorf("Points credit failed for report %s after approval: %v", d.reportID, err)
		s.points.Park(ctx, d.deviceID, d.reportID, d.severity, err)
		awarded = 0
	}

	if s.pub != nil {
		s.pub.Publish(events.RouteVerificationDecided, events.VerificationDecidedEvent{
			VerificationID: verificationID,
			ReportID:       d.reportID,
			Decision:       models.ApprovalApproved,
			AdminID:        adminID,
			PointsAwarded:  awarded,
			Timestamp:      s.now().UTC(),
		})
	}
	return awarded, nil
}

// Reject reopens the cycle: the verification is marked rejected and the
// report rolls back to assigned. The worker keeps the assignment and
// must re-attempt the verification.
func (s *Service) Reject(ctx context.Context, verificationID, adminID, reason string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return err
	}
	defer tx.Rollback()

	d, err := s.loadPending(ctx, tx, verificationID)
	if err != nil {
		return err
	}
	if err := s.decide(ctx, tx, verificationID, models.ApprovalRejected, reason); err != nil {
		return err
	}
	from, err := s.machine.TransitionTx(ctx, tx, d.reportID, models.StatusAssigned, adminID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing rejection of %s: %v", verificationID, err)
		return err
	}
	s.machine.Announce(d.reportID, from, models.StatusAssigned, adminID)

	if s.pub != nil {
		s.pub.Publish(events.RouteVerificationDecided, events.VerificationDecidedEvent{
			VerificationID: verificationID,
			ReportID:       d.reportID,
			Decision:       models.ApprovalRejected,
			AdminID:        adminID,
			Timestamp:      s.now().UTC(),
		})
	}
	return nil
}
