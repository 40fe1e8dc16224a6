package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the closed set of lifecycle states for a report.
type ReportStatus string

const (
	StatusOpen       ReportStatus = "open"
	StatusAssigned   ReportStatus = "assigned"
	StatusInProgress ReportStatus = "in_progress"
	StatusVerified   ReportStatus = "verified"
	StatusResolved   ReportStatus = "resolved"
)

// Valid reports whether s is one of the five lifecycle states.
func (s ReportStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusVerified, StatusResolved:
		return true
	}
	return false
}

// Severity of the reported waste. The empty value means the submitter
// did not classify it; scoring and scheduling treat it as low.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case "", SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// ApprovalStatus of a verification. Transitions pending->approved or
// pending->rejected exactly once.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Badge is the citizen's rank, derived from total points.
type Badge string

const (
	BadgeRookie   Badge = "rookie"
	BadgeScout    Badge = "scout"
	BadgeGuardian Badge = "guardian"
	BadgeChampion Badge = "champion"
	BadgeLegend   Badge = "legend"
)

// Location is a GPS fix as reported by a device.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"` // meters, informational
}

// Report is a citizen-submitted waste observation. Reports are never
// physically deleted; resolved rows are retained for audit.
type Report struct {
	ID               string       `json:"id"`
	DeviceID         string       `json:"device_id"`
	Location         Location     `json:"location"`
	Severity         Severity     `json:"severity,omitempty"`
	WasteTypes       []string     `json:"waste_types,omitempty"`
	Description      string       `json:"description,omitempty"`
	PhotoURL         string       `json:"photo_url"`
	Status           ReportStatus `json:"status"`
	AssignedWorkerID string       `json:"assigned_worker_id,omitempty"`
	PointsAwarded    int          `json:"points_awarded"`

	CreatedAt    time.Time  `json:"created_at"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	InProgressAt *time.Time `json:"in_progress_at,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Verification is the worker-submitted before/after proof for a report's
// cleanup. At most one active verification exists per report.
type Verification struct {
	ID               string         `json:"id"`
	ReportID         string         `json:"report_id"`
	WorkerID         string         `json:"worker_id"`
	BeforePhotoURL   string         `json:"before_photo_url"`
	AfterPhotoURL    string         `json:"after_photo_url,omitempty"`
	WorkerLocation   Location       `json:"worker_location"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	TimeSpentMinutes int            `json:"time_spent_minutes"`
	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	RejectReason     string         `json:"reject_reason,omitempty"`
}

// Citizen is the per-device points ledger. TotalPoints only grows except
// for irreversible manual corrections.
type Citizen struct {
	DeviceID     string     `json:"device_id"`
	TotalPoints  int        `json:"total_points"`
	ReportsCount int        `json:"reports_count"`
	CurrentBadge Badge      `json:"current_badge"`
	StreakDays   int        `json:"streak_days"`
	LastCreditAt *time.Time `json:"last_credit_at,omitempty"`
}

// NewID returns an opaque unique identifier for reports and verifications.
func NewID() string {
	return uuid.NewString()
}

// BadgeForPoints maps a total-points value onto the badge ladder. The
// ladder is monotonic: points never decrease, so a badge never regresses.
func BadgeForPoints(points int) Badge {
	switch {
	case points >= 5000:
		return BadgeLegend
	case points >= 1500:
		return BadgeChampion
	case points >= 500:
		return BadgeGuardian
	case points >= 100:
		return BadgeScout
	default:
		return BadgeRookie
	}
}
