// Package notify derives notification events from task changes and hands
// them to delivery backends. Derivation is pure; delivery lives in
// dispatch.go.
package notify

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
)

type Kind string

const (
	KindStatusChanged  Kind = "status_changed"
	KindReviewRequired Kind = "review_required"
	KindCancelled      Kind = "cancelled"
	KindUrgent         Kind = "urgent"
)

// Audience is either a set of roles, a single assignee, or both.
type Audience struct {
	Roles      []domain.Role `json:"roles,omitempty"`
	AssigneeID *int64        `json:"assignee_id,omitempty"`
}

// Includes reports whether u is a recipient.
func (a Audience) Includes(u domain.User) bool {
	if a.AssigneeID != nil && *a.AssigneeID == u.ID {
		return true
	}
	return slices.Contains(a.Roles, u.Role)
}

// Recipients filters users down to the audience, keeping input order.
func (a Audience) Recipients(users []domain.User) []domain.User {
	var out []domain.User
	for _, u := range users {
		if a.Includes(u) {
			out = append(out, u)
		}
	}
	return out
}

type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	TaskID    int64     `json:"task_id"`
	Audience  Audience  `json:"audience"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func newEvent(kind Kind, taskID int64, aud Audience, now time.Time, format string, args ...any) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		TaskID:    taskID,
		Audience:  aud,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: now.UTC(),
	}
}

// ForTransition returns the events for task having moved from -> task.Status.
// The assignee event is skipped for unassigned tasks.
func ForTransition(task domain.Task, from domain.Status, now time.Time) []Event {
	var out []Event
	if task.AssigneeID != nil {
		id := *task.AssigneeID
		out = append(out, newEvent(KindStatusChanged, task.ID, Audience{AssigneeID: &id}, now,
			"Task #%d moved from %s to %s", task.ID, from, task.Status))
	}

	admins := Audience{Roles: auth.RolesAtLeast(domain.RoleOfficeAdmin)}
	switch task.Status {
	case domain.StatusPendingReview:
		out = append(out, newEvent(KindReviewRequired, task.ID, admins, now,
			"Task #%d is waiting for review: %s", task.ID, task.Description))
	case domain.StatusCancelled:
		out = append(out, newEvent(KindCancelled, task.ID, admins, now,
			"Task #%d was cancelled (was %s)", task.ID, from))
	}
	return out
}

// ForPriority returns the events for a priority change. Only escalation to
// Urgent is announced.
func ForPriority(task domain.Task, from domain.Priority, now time.Time) []Event {
	if task.Priority != domain.PriorityUrgent || from == domain.PriorityUrgent {
		return nil
	}
	aud := Audience{Roles: auth.RolesAtLeast(domain.RoleDispatcher)}
	return []Event{newEvent(KindUrgent, task.ID, aud, now,
		"Task #%d is now urgent: %s", task.ID, task.Description)}
}
