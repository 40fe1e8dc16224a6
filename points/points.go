// Package points keeps the citizen scoring ledger. Credits are keyed by
// report id: the guarded UPDATE on reports.points_awarded makes a retried
// credit a no-op, so a report can never pay out twice no matter how often
// the approval path retries.
package points

import (
	"context"
	"database/sql"
	"time"

	"cleanspot/database"
	"cleanspot/models"

	"github.com/apex/log"
)

// Scoring constants. The badge ladder lives in models.BadgeForPoints.
const (
	basePoints    = 10
	bonusHigh     = 15
	bonusMedium   = 10
	bonusLow      = 5
	bonusStreak   = 5
	bonusPioneer  = 20
	minStreakDays = 3
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// severityBonus treats an unset severity as low.
func severityBonus(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return bonusHigh
	case models.SeverityMedium:
		return bonusMedium
	default:
		return bonusLow
	}
}

// Award credits the submitter for a resolved report and returns the
// credited amount. A second call for the same report returns the amount
// already credited without touching the ledger.
func (s *Service) Award(ctx context.Context, deviceID, reportID string, severity models.Severity) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO citizens (device_id) VALUES (?)`, deviceID); err != nil {
		log.Errorf("Error ensuring citizen row for %s: %v", deviceID, err)
		return 0, err
	}

	var (
		totalPoints  int
		reportsCount int
		streakDays   int
		lastCredit   sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `SELECT total_points, reports_count, streak_days, last_credit_at
	  FROM citizens WHERE device_id = ? FOR UPDATE`, deviceID).
		Scan(&totalPoints, &reportsCount, &streakDays, &lastCredit)
	if err != nil {
		log.Errorf("Error locking citizen ledger for %s: %v", deviceID, err)
		return 0, err
	}

	awarded := basePoints + severityBonus(severity)
	if reportsCount == 0 {
		awarded += bonusPioneer
	}

	newStreak := nextStreak(streakDays, lastCredit, s.now().UTC())
	if newStreak >= minStreakDays {
		awarded += bonusStreak
	}

	// The exactly-once claim: only the call that flips points_awarded
	// from zero gets to touch the ledger.
	result, err := tx.ExecContext(ctx,
		`UPDATE reports SET points_awarded = ? WHERE id = ? AND points_awarded = 0`,
		awarded, reportID)
	if err != nil {
		log.Errorf("Error claiming credit for report %s: %v", reportID, err)
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT points_awarded FROM reports WHERE id = ?`, reportID).Scan(&existing); err != nil {
			if err == sql.ErrNoRows {
				return 0, models.NewNotFoundError("report")
			}
			return 0, err
		}
		log.Infof("Report %s already credited %d points, skipping", reportID, existing)
		return existing, tx.Commit()
	}

	now := s.now().UTC()
	newTotal := totalPoints + awarded
	result, err = tx.ExecContext(ctx, `UPDATE citizens
	  SET total_points = total_points + ?,
	      reports_count = reports_count + 1,
	      streak_days = ?,
	      current_badge = ?,
	      last_credit_at = ?
	  WHERE device_id = ?`,
		awarded, newStreak, string(models.BadgeForPoints(newTotal)), now, deviceID)
	database.LogResult("award", result, err, true)
	if err != nil {
		log.Errorf("Error crediting citizen %s: %v", deviceID, err)
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing credit for report %s: %v", reportID, err)
		return 0, err
	}

	log.Infof("Credited %d points to %s for report %s", awarded, deviceID, reportID)
	return awarded, nil
}

// nextStreak advances the consecutive-day ladder: a credit on the day
// after the last credited day extends the streak, a same-day credit
// keeps it, any gap resets it.
func nextStreak(current int, lastCredit sql.NullTime, now time.Time) int {
	if !lastCredit.Valid || current == 0 {
		return 1
	}
	lastDay := lastCredit.Time.UTC().Truncate(24 * time.Hour)
	today := now.Truncate(24 * time.Hour)
	switch today.Sub(lastDay) {
	case 0:
		return current
	case 24 * time.Hour:
		return current + 1
	default:
		return 1
	}
}

// Park records a failed credit for out-of-band retry. Called from the
// approval path after its transaction has already committed.
func (s *Service) Park(ctx context.Context, deviceID, reportID string, severity models.Severity, cause error) {
	msg := cause.Error()
	if len(msg) > 512 {
		msg = msg[:512]
	}
	var sev interface{}
	if severity != "" {
		sev = string(severity)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO points_reconciliation (report_id, device_id, severity, attempts, last_error)
	  VALUES (?, ?, ?, 1, ?)
	  ON DUPLICATE KEY UPDATE attempts = attempts + 1, last_error = VALUES(last_error)`,
		reportID, deviceID, sev, msg)
	if err != nil {
		log.Errorf("Failed to park credit for report %s: %v", reportID, err)
		return
	}
	log.Warnf("Parked credit for report %s pending reconciliation", reportID)
}

// Reconcile retries parked credits. Award is idempotent, so replaying a
// row that actually succeeded earlier is harmless.
func (s *Service) Reconcile(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id, device_id, severity FROM points_reconciliation ORDER BY created_at LIMIT 100`)
	if err != nil {
		log.Errorf("Error reading reconciliation queue: %v", err)
		return err
	}
	defer rows.Close()

	type parked struct {
		reportID string
		deviceID string
		severity sql.NullString
	}
	var queue []parked
	for rows.Next() {
		var p parked
		if err := rows.Scan(&p.reportID, &p.deviceID, &p.severity); err != nil {
			return err
		}
		queue = append(queue, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range queue {
		if _, err := s.Award(ctx, p.deviceID, p.reportID, models.Severity(p.severity.String)); err != nil {
			log.Errorf("Reconciliation credit failed for report %s: %v", p.reportID, err)
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM points_reconciliation WHERE report_id = ?`, p.reportID); err != nil {
			log.Errorf("Failed to clear reconciled report %s: %v", p.reportID, err)
		}
	}
	return nil
}

// Ledger reads a citizen's current standing.
func (s *Service) Ledger(ctx context.Context, deviceID string) (*models.Citizen, error) {
	c := &models.Citizen{DeviceID: deviceID}
	var lastCredit sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT total_points, reports_count, current_badge, streak_days, last_credit_at
	  FROM citizens WHERE device_id = ?`, deviceID).
		Scan(&c.TotalPoints, &c.ReportsCount, &c.CurrentBadge, &c.StreakDays, &lastCredit)
	if err == sql.ErrNoRows {
		return nil, models.NewNotFoundError("citizen")
	}
	if err != nil {
		log.Errorf("Error reading ledger for %s: %v", deviceID, err)
		return nil, err
	}
	if lastCredit.Valid {
		t := lastCredit.Time
		c.LastCreditAt = &t
	}
	return c, nil
}
