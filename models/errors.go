package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Canonical machine-readable error codes returned by the workflow engine.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeDailyLimitReached = "DAILY_LIMIT_REACHED"
	CodeCooldownActive    = "COOLDOWN_ACTIVE"
	CodeStalePhoto        = "STALE_PHOTO"
	CodeDuplicateReport   = "DUPLICATE_REPORT"
	CodeStateError        = "STATE_ERROR"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeProximityError    = "PROXIMITY_ERROR"
	CodeTimingError       = "TIMING_ERROR"
	CodeAlreadyApproved   = "ALREADY_APPROVED"
	CodeAlreadyRejected   = "ALREADY_REJECTED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL"
)

// Error is a domain error with a machine-readable code plus the
// measured value the client needs to display (retry delay, distance,
// elapsed time, offending field).
type Error struct {
	Code           string  `json:"code"`
	Message        string  `json:"message"`
	Field          string  `json:"field,omitempty"`
	RetryAfterSec  int     `json:"retry_after_sec,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	ElapsedMinutes float64 `json:"elapsed_minutes,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the error code onto the transport status. Admission
// throttles are 429 so clients back off; double decisions and duplicate
// hotspots are conflicts; everything the client can fix is 400.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeDailyLimitReached, CodeCooldownActive, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeDuplicateReport, CodeAlreadyApproved, CodeAlreadyRejected:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// AsError unwraps err into a domain *Error, or wraps it as INTERNAL so a
// storage failure is never presented as a client mistake.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

func NewValidationError(field, msg string) *Error {
	return &Error{Code: CodeValidationError, Message: msg, Field: field}
}

func NewDailyLimitError(limit int) *Error {
	return &Error{
		Code:    CodeDailyLimitReached,
		Message: fmt.Sprintf("daily limit of %d reports reached", limit),
	}
}

func NewCooldownError(retryAfterSec int) *Error {
	return &Error{
		Code:          CodeCooldownActive,
		Message:       fmt.Sprintf("cooldown active, retry in %d seconds", retryAfterSec),
		RetryAfterSec: retryAfterSec,
	}
}

func NewStalePhotoError(ageSec int) *Error {
	return &Error{
		Code:    CodeStalePhoto,
		Message: fmt.Sprintf("photo captured %d seconds ago, too old to accept", ageSec),
	}
}

func NewDuplicateReportError(existingID string, distanceMeters float64) *Error {
	return &Error{
		Code:           CodeDuplicateReport,
		Message:        fmt.Sprintf("an open report %.0fm away already covers this spot", distanceMeters),
		Field:          existingID,
		DistanceMeters: distanceMeters,
	}
}

func NewStateError(from, to ReportStatus) *Error {
	return &Error{
		Code:    CodeStateError,
		Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
	}
}

func NewForbiddenError(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

func NewNotFoundError(what string) *Error {
	return &Error{Code: CodeNotFound, Message: what + " not found"}
}

func NewProximityError(distanceMeters, maxMeters float64) *Error {
	return &Error{
		Code:           CodeProximityError,
		Message:        fmt.Sprintf("worker is %.1fm from the report, must be within %.0fm", distanceMeters, maxMeters),
		DistanceMeters: distanceMeters,
	}
}

func NewTimingError(elapsedMinutes, minMinutes, maxMinutes float64) *Error {
	return &Error{
		Code:           CodeTimingError,
		Message:        fmt.Sprintf("task took %.1f minutes, expected between %.0f and %.0f", elapsedMinutes, minMinutes, maxMinutes),
		ElapsedMinutes: elapsedMinutes,
	}
}

func NewAlreadyDecidedError(status ApprovalStatus) *Error {
	code := CodeAlreadyApproved
	if status == ApprovalRejected {
		code = CodeAlreadyRejected
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("verification already %s", status),
	}
}

func NewRateLimitedError(retryAfterSec int) *Error {
	return &Error{
		Code:          CodeRateLimited,
		Message:       fmt.Sprintf("too many requests, retry in %d seconds", retryAfterSec),
		RetryAfterSec: retryAfterSec,
	}
}
