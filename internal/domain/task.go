package domain

import (
	"fmt"
	"slices"
	"time"

	"fieldservice-backend/internal/geo"
)

type Status string

const (
	StatusOpen          Status = "Open"
	StatusAssigned      Status = "Assigned"
	StatusInProgress    Status = "InProgress"
	StatusPendingReview Status = "PendingReview"
	StatusCompleted     Status = "Completed"
	StatusCancelled     Status = "Cancelled"
)

// legacyOpen is what older backend rows carry for a freshly created task.
const legacyOpen = "Not Started"

var statuses = []Status{
	StatusOpen,
	StatusAssigned,
	StatusInProgress,
	StatusPendingReview,
	StatusCompleted,
	StatusCancelled,
}

// ParseStatus maps a wire value to a Status. Unknown values are rejected.
func ParseStatus(s string) (Status, error) {
	if s == legacyOpen {
		return StatusOpen, nil
	}
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Weight orders priorities for dispatch; higher is more pressing.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type Location struct {
	Address    string          `json:"address"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
}

type Task struct {
	ID                    int64      `json:"id"`
	Description           string     `json:"description"`
	Category              string     `json:"category,omitempty"`
	Location              Location   `json:"location"`
	EstimatedCost         float64    `json:"estimated_cost"`
	FinalCost             *float64   `json:"final_cost,omitempty"`
	Status                Status     `json:"status"`
	Priority              Priority   `json:"priority"`
	Deadline              *time.Time `json:"deadline,omitempty"`
	AssigneeID            *int64     `json:"assignee_id,omitempty"`
	RequiresDocumentation bool       `json:"requires_documentation"`
	Dependencies          []int64    `json:"dependencies"`
	Comments              []string   `json:"comments"`
	Attachments           []string   `json:"attachments"`
	BeforeScan            *string    `json:"before_scan,omitempty"`
	AfterScan             *string    `json:"after_scan,omitempty"`
}

// Clone returns a deep copy; mutations are applied to clones and committed
// only on success.
func (t Task) Clone() Task {
	c := t
	if t.Location.Coordinate != nil {
		coord := *t.Location.Coordinate
		c.Location.Coordinate = &coord
	}
	c.FinalCost = clonePtr(t.FinalCost)
	c.Deadline = clonePtr(t.Deadline)
	c.AssigneeID = clonePtr(t.AssigneeID)
	c.BeforeScan = clonePtr(t.BeforeScan)
	c.AfterScan = clonePtr(t.AfterScan)
	c.Dependencies = slices.Clone(t.Dependencies)
	c.Comments = slices.Clone(t.Comments)
	c.Attachments = slices.Clone(t.Attachments)
	return c
}

// DependsOn reports whether id is in the task's dependency set.
func (t Task) DependsOn(id int64) bool {
	_, found := slices.BinarySearch(t.Dependencies, id)
	return found
}

// IsAssignedTo reports whether userID is the task's assignee.
func (t Task) IsAssignedTo(userID int64) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
