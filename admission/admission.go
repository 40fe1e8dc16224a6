// Package admission gates report creation. A submission has to clear
// the daily cap, the cooldown, the capture-freshness window, duplicate
// suppression and field validation before anything is written. The
// authoritative cap and cooldown checks run inside the same transaction
// as the insert, holding the citizen row lock, so two near-simultaneous
// submissions from one device cannot both slip through.
package admission

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"cleanspot/config"
	"cleanspot/database"
	"cleanspot/events"
	"cleanspot/geo"
	"cleanspot/models"
	"cleanspot/ratelimit"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// Redis key scopes for the fast pre-checks. The durable ledger stays
// authoritative; these only short-circuit obviously throttled devices
// before a database round trip.
const (
	scopeCooldown = "cooldown"
	scopeDayCount = "daycount"
)

// openCycleStatuses are the statuses that still count as "the same
// hotspot is being handled" for duplicate suppression. A resolved spot
// can legitimately be re-reported.
var openCycleStatuses = []models.ReportStatus{
	models.StatusOpen,
	models.StatusAssigned,
	models.StatusInProgress,
}

// SubmitRequest is the transport-independent submission payload.
type SubmitRequest struct {
	DeviceID    string          `validate:"required"`
	Location    models.Location
	PhotoURL    string          `validate:"required"`
	CapturedAt  time.Time       `validate:"required"`
	Description string
	Severity    models.Severity
	WasteTypes  []string

	// Minutes east of UTC on the device, used to compute the
	// device-local calendar day for the daily cap.
	TimezoneOffsetMinutes int
}

type Service struct {
	db       *sql.DB
	limiter  *ratelimit.Limiter
	pub      events.Sink
	cfg      *config.Config
	validate *validator.Validate
	now      func() time.Time
}

func NewService(db *sql.DB, limiter *ratelimit.Limiter, pub events.Sink, cfg *config.Config) *Service {
	return &Service{
		db:       db,
		limiter:  limiter,
		pub:      pub,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Submit runs the admission checks in order and, on acceptance, inserts
// the report and updates the submitter's counters in one transaction.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*models.Report, error) {
	now := s.now().UTC()

	// Fast pre-checks against the shared cache. Failures here are
	// advisory only; the transaction below re-checks authoritatively.
	if err := s.precheck(ctx, req, now); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Errorf("Error creating transaction: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	// Make sure the citizen row exists, then lock it. The row lock is
	// what serializes concurrent submissions from the same device.
	if _, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO citizens (device_id) VALUES (?)`, req.DeviceID); err != nil {
		log.Errorf("Error ensuring citizen row for %s: %v", req.DeviceID, err)
		return nil, err
	}

	var lastSubmission sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT last_submission_at FROM citizens WHERE device_id = ? FOR UPDATE`,
		req.DeviceID).Scan(&lastSubmission); err != nil {
		log.Errorf("Error locking citizen row for %s: %v", req.DeviceID, err)
		return nil, err
	}

	// 1. Daily cap, counted on the device-local calendar day.
	dayStart := localDayStart(now, req.TimezoneOffsetMinutes)
	var todayCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE device_id = ? AND created_at >= ?`,
		req.DeviceID, dayStart).Scan(&todayCount); err != nil {
		log.Errorf("Error counting today's reports for %s: %v", req.DeviceID, err)
		return nil, err
	}
	if todayCount >= s.cfg.DailyReportCap {
		return nil, models.NewDailyLimitError(s.cfg.DailyReportCap)
	}

	// 2. Cooldown since the last accepted report.
	if lastSubmission.Valid {
		elapsed := now.Sub(lastSubmission.Time)
		if elapsed < s.cfg.Cooldown {
			retryAfter := int(math.Ceil((s.cfg.Cooldown - elapsed).Seconds()))
			return nil, models.NewCooldownError(retryAfter)
		}
	}

	// 3. Stale capture: the photo must represent a just-taken scene.
	if age := now.Sub(req.CapturedAt.UTC()); age > s.cfg.FreshnessWindow {
		return nil, models.NewStalePhotoError(int(age.Seconds()))
	}

	// 4. Duplicate suppression against recent open-cycle reports nearby.
	if err := s.checkDuplicate(ctx, tx, req, now); err != nil {
		return nil, err
	}

	// 5. Field validation.
	if err := s.validateFields(req); err != nil {
		return nil, err
	}

	report := &models.Report{
		ID:          models.NewID(),
		DeviceID:    req.DeviceID,
		Location:    req.Location,
		Severity:    req.Severity,
		WasteTypes:  req.WasteTypes,
		Description: req.Description,
		PhotoURL:    req.PhotoURL,
		Status:      models.StatusOpen,
		CreatedAt:   now,
	}

	result, err := tx.ExecContext(ctx, `INSERT
	  INTO reports (id, device_id, latitude, longitude, accuracy, severity, waste_types, description, photo_url, status, created_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.DeviceID,
		report.Location.Latitude, report.Location.Longitude, report.Location.Accuracy,
		nullableSeverity(report.Severity), joinTags(report.WasteTypes),
		report.Description, report.PhotoURL, string(report.Status), report.CreatedAt)
	database.LogResult("saveReport", result, err, true)
	if err != nil {
		log.Errorf("Error inserting report: %v", err)
		return nil, err
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE citizens SET last_submission_at = ? WHERE device_id = ?`,
		now, req.DeviceID)
	database.LogResult("saveReport", result, err, true)
	if err != nil {
		log.Errorf("Error updating citizen counters: %v", err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Errorf("Error committing report submission: %v", err)
		return nil, err
	}

	s.recordAcceptance(ctx, req, now)

	if s.pub != nil {
		s.pub.Publish(events.RouteReportSubmitted, events.ReportSubmittedEvent{
			ReportID:  report.ID,
			DeviceID:  report.DeviceID,
			Location:  report.Location,
			Severity:  report.Severity,
			Timestamp: now,
		})
	}
	return report, nil
}

// precheck consults the shared cache counters. Both counters are
// written only after a committed accept, so rejected attempts never eat
// into the cap or the cooldown. Cache misses and cache errors fall
// through to the transactional checks.
func (s *Service) precheck(ctx context.Context, req *SubmitRequest, now time.Time) error {
	ttl, err := s.limiter.Remaining(ctx, ratelimit.Key(scopeCooldown, req.DeviceID))
	if err != nil {
		log.Warnf("Cooldown precheck unavailable for %s: %v", req.DeviceID, err)
	} else if ttl > 0 {
		return models.NewCooldownError(int(math.Ceil(ttl.Seconds())))
	}

	count, err := s.limiter.Count(ctx,
		ratelimit.Key(scopeDayCount, dayKey(req.DeviceID, now, req.TimezoneOffsetMinutes)))
	if err != nil {
		log.Warnf("Day-count precheck unavailable for %s: %v", req.DeviceID, err)
		return nil
	}
	if count >= int64(s.cfg.DailyReportCap) {
		return models.NewDailyLimitError(s.cfg.DailyReportCap)
	}
	return nil
}

// recordAcceptance bumps the accepted-report counter and refreshes the
// cooldown marker after a commit.
func (s *Service) recordAcceptance(ctx context.Context, req *SubmitRequest, now time.Time) {
	if _, err := s.limiter.Hit(ctx,
		ratelimit.Key(scopeDayCount, dayKey(req.DeviceID, now, req.TimezoneOffsetMinutes)),
		48*time.Hour); err != nil {
		log.Warnf("Failed to count acceptance for %s: %v", req.DeviceID, err)
	}
	if err := s.limiter.Mark(ctx,
		ratelimit.Key(scopeCooldown, req.DeviceID), s.cfg.Cooldown); err != nil {
		log.Warnf("Failed to record cooldown marker for %s: %v", req.DeviceID, err)
	}
}

func (s *Service) checkDuplicate(ctx context.Context, tx *sql.Tx, req *SubmitRequest, now time.Time) error {
	// Bounding box first, exact haversine second.
	latDelta := s.cfg.DuplicateRadiusM / 111320.0
	lonDelta := latDelta / math.Cos(req.Location.Latitude*math.Pi/180)
	since := now.Add(-s.cfg.DuplicateWindow)

	rows, err := tx.QueryContext(ctx, `SELECT id, latitude, longitude
	  FROM reports
	  WHERE status IN (?, ?, ?)
	    AND created_at >= ?
	    AND latitude BETWEEN ? AND ?
	    AND longitude BETWEEN ? AND ?`,
		string(openCycleStatuses[0]), string(openCycleStatuses[1]), string(openCycleStatuses[2]),
		since,
		req.Location.Latitude-latDelta, req.Location.Latitude+latDelta,
		req.Location.Longitude-lonDelta, req.Location.Longitude+lonDelta)
	if err != nil {
		log.Errorf("Error querying nearby reports: %v", err)
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var lat, lng float64
		if err := rows.Scan(&id, &lat, &lng); err != nil {
			return err
		}
		d := geo.HaversineMeters(req.Location, models.Location{Latitude: lat, Longitude: lng})
		if d <= s.cfg.DuplicateRadiusM {
			return models.NewDuplicateReportError(id, d)
		}
	}
	return rows.Err()
}

func (s *Service) validateFields(req *SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return models.NewValidationError(fe.Field(), "failed on rule "+fe.Tag())
		}
		return models.NewValidationError("", err.Error())
	}
	if err := geo.ValidateCoordinates(req.Location); err != nil {
		return err
	}
	if !req.Severity.Valid() {
		return models.NewValidationError("severity", "severity must be low, medium or high")
	}
	if len(req.Description) > s.cfg.MaxDescriptionLen {
		return models.NewValidationError("description", "description too long")
	}
	return nil
}

// localDayStart returns midnight of the device-local day containing now.
func localDayStart(now time.Time, tzOffsetMinutes int) time.Time {
	local := now.Add(time.Duration(tzOffsetMinutes) * time.Minute)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return dayStart.Add(-time.Duration(tzOffsetMinutes) * time.Minute)
}

func dayKey(deviceID string, now time.Time, tzOffsetMinutes int) string {
	local := now.Add(time.Duration(tzOffsetMinutes) * time.Minute)
	return deviceID + ":" + local.Format("2006-01-02")
}

func nullableSeverity(s models.Severity) interface{} {
	if s == "" {
		return nil
	}
	return string(s)
}

func joinTags(tags []string) interface{} {
	if len(tags) == 0 {
		return nil
	}
	return strings.Join(tags, ",")
}
