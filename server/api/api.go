// Package api holds the request and response shapes of the HTTP surface.
package api

import (
	"time"

	"cleanspot/tasks"
)

type SubmitReportArgs struct {
	DeviceID              string    `json:"device_id"`
	Latitude              float64   `json:"latitude"`
	Longitude             float64   `json:"longitude"`
	Accuracy              float64   `json:"accuracy"`
	Severity              string    `json:"severity,omitempty"`
	WasteTypes            []string  `json:"waste_types,omitempty"`
	Description           string    `json:"description,omitempty"`
	PhotoURL              string    `json:"photo_url"`
	CapturedAt            time.Time `json:"captured_at"`
	TimezoneOffsetMinutes int       `json:"tz_offset_minutes"`
}

type SubmitReportResponse struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
}

type AssignArgs struct {
	ReportID string `json:"report_id"`
	WorkerID string `json:"worker_id"`
}

type UnassignArgs struct {
	ReportID string `json:"report_id"`
}

type StatusResponse struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
}

type StartTaskArgs struct {
	ReportID       string  `json:"report_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Accuracy       float64 `json:"accuracy"`
	BeforePhotoURL string  `json:"before_photo_url"`
}

type StartTaskResponse struct {
	VerificationID string `json:"verification_id"`
	ReportID       string `json:"report_id"`
	Status         string `json:"status"`
}

type CompleteTaskArgs struct {
	ReportID      string `json:"report_id"`
	AfterPhotoURL string `json:"after_photo_url"`
}

type CompleteTaskResponse struct {
	ReportID         string `json:"report_id"`
	TimeSpentMinutes int    `json:"time_spent_minutes"`
	Status           string `json:"status"`
}

type DecisionArgs struct {
	VerificationID string `json:"verification_id"`
	Reason         string `json:"reason,omitempty"`
}

type ApproveResponse struct {
	VerificationID string `json:"verification_id"`
	Status         string `json:"status"`
	PointsAwarded  int    `json:"points_awarded"`
}

type RejectResponse struct {
	VerificationID string `json:"verification_id"`
	Status         string `json:"status"`
}

type TaskListResponse struct {
	Tasks []tasks.Task `json:"tasks"`
}
