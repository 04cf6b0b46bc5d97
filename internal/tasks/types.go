package tasks

import (
	"fieldservice-backend/internal/capture"
	"fieldservice-backend/internal/geo"
)

type TransitionRequest struct {
	Status     string `json:"status"`
	AssigneeID *int64 `json:"assignee_id"`
}

type PriorityRequest struct {
	Priority string `json:"priority"`
}

type DependencyRequest struct {
	DependsOn int64 `json:"depends_on"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type AttachmentRequest struct {
	Ref string `json:"ref"`
}

type ScanRequest struct {
	Kind string `json:"kind"` // before/after
	Ref  string `json:"ref"`
}

type FinalCostRequest struct {
	Amount *float64 `json:"amount"`
}

type ReceiptRequest struct {
	// base64 encoded image bytes
	Image string `json:"image"`
}

type BillingRequest struct {
	Region  string  `json:"region"`
	Store   string  `json:"store"`
	Manager string  `json:"manager"`
	TaskIDs []int64 `json:"task_ids"`
}

type LocationRequest = capture.AddressInput

type TravelResponse struct {
	TaskID          int64    `json:"task_id"`
	Available       bool     `json:"available"`
	DurationSeconds *int64   `json:"duration_seconds,omitempty"`
	DistanceMeters  *float64 `json:"distance_meters,omitempty"`
}

func travelResponse(taskID int64, est geo.TravelEstimate) TravelResponse {
	out := TravelResponse{TaskID: taskID, Available: est.Available}
	if est.Available {
		secs := int64(est.Duration.Seconds())
		dist := float64(est.Distance)
		out.DurationSeconds, out.DistanceMeters = &secs, &dist
	}
	return out
}

type ErrorResponse struct {
	Error    string  `json:"error"`
	Kind     string  `json:"kind,omitempty"`
	TaskID   int64   `json:"task_id,omitempty"`
	Blocking []int64 `json:"blocking,omitempty"`
	Required string  `json:"required_role,omitempty"`
}
