package notify

import (
	"context"
	"errors"
	"log"
	"strings"

	"fieldservice-backend/internal/domain"
)

// Notifier delivers a single event. Implementations own their retry policy.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Directory lists the users an audience is resolved against.
type Directory interface {
	Users() []domain.User
}

// LogNotifier writes events to the process log. Used in development and as
// the fallback when no push backend is configured. With a Directory the
// line names the resolved recipients.
type LogNotifier struct {
	Directory Directory
	Logf      func(format string, args ...any)
}

func (n LogNotifier) Notify(_ context.Context, e Event) error {
	logf := n.Logf
	if logf == nil {
		logf = log.Printf
	}
	to := "-"
	if n.Directory != nil {
		to = usernames(e.Audience.Recipients(n.Directory.Users()))
	}
	logf("notify %s task=%d kind=%s roles=%v assignee=%v to=%s: %s",
		e.ID, e.TaskID, e.Kind, e.Audience.Roles, derefID(e.Audience.AssigneeID), to, e.Message)
	return nil
}

func usernames(users []domain.User) string {
	if len(users) == 0 {
		return "nobody"
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return strings.Join(names, ",")
}

func derefID(p *int64) any {
	if p == nil {
		return "-"
	}
	return *p
}

// Dispatcher fans events out to every configured notifier.
type Dispatcher struct {
	notifiers []Notifier
}

func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

// Dispatch attempts every (event, notifier) pair and returns the joined
// failures. A failing notifier does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) error {
	var errs []error
	for _, e := range events {
		for _, n := range d.notifiers {
			if err := n.Notify(ctx, e); err != nil {
				log.Printf("[WARN] notify %s for task %d: %v", e.Kind, e.TaskID, err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
