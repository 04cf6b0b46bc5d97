// Package writeback drains committed store changes into the slow
// collaborators: the database, the event journal, notification delivery
// and the deadline calendar.
package writeback

import (
	"context"
	"errors"
	"fmt"

	"fieldservice-backend/internal/analytics"
	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/notify"
	"fieldservice-backend/internal/store"
)

// ErrPersist marks a batch whose task did not reach the database.
var ErrPersist = errors.New("persist failed")

type Persister interface {
	Persist(ctx context.Context, t domain.Task) error
}

type CalendarSyncer interface {
	Sync(ctx context.Context, t domain.Task) error
}

// Latest returns the current committed version of a task.
type Latest func(id int64) (domain.Task, error)

// Writer handles one batch at a time. Any collaborator may be nil.
type Writer struct {
	Latest   Latest
	Repo     Persister
	Journal  analytics.Execer
	Notify   *notify.Dispatcher
	Calendar CalendarSyncer
}

// HandleBatch writes back everything pending for one task. The task is
// re-read, so its latest version is persisted and synced once however many
// changes the batch holds. Each change is still journaled and its events
// dispatched.
func (w *Writer) HandleBatch(ctx context.Context, b Batch) error {
	t, ok := w.current(b)
	if !ok {
		return fmt.Errorf("task %d: no version to write", b.TaskID)
	}

	var errs []error
	if w.Repo != nil {
		if err := w.Repo.Persist(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrPersist, err))
		}
	}
	for _, c := range b.Changes {
		if err := w.journal(ctx, c); err != nil {
			errs = append(errs, err)
		}
		if w.Notify != nil && len(c.Events) > 0 {
			if err := w.Notify.Dispatch(ctx, c.Events); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if w.Calendar != nil {
		if err := w.Calendar.Sync(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) current(b Batch) (domain.Task, bool) {
	if w.Latest != nil {
		if cur, err := w.Latest(b.TaskID); err == nil {
			return cur, true
		}
	}
	if n := len(b.Changes); n > 0 {
		return b.Changes[n-1].Task, true
	}
	return domain.Task{}, false
}

func (w *Writer) journal(ctx context.Context, c store.Change) error {
	if w.Journal == nil {
		return nil
	}
	env := analytics.Envelope{UserID: c.Requester.ID, Platform: "unknown"}
	// the first event id makes a retried change journal once
	var key string
	if len(c.Events) > 0 {
		key = c.Events[0].ID.String()
	}
	return analytics.Log(ctx, w.Journal, env, analytics.Entry{
		Key:    key,
		Name:   "task_" + c.Mutation,
		TaskID: c.Task.ID,
		Props: map[string]any{
			"status":   c.Task.Status,
			"priority": c.Task.Priority,
			"events":   len(c.Events),
		},
	})
}
