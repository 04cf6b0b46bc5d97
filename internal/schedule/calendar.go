// Package schedule mirrors task deadlines into a Google Calendar so field
// staff see due work next to their appointments.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"fieldservice-backend/internal/domain"
)

// taskIDProperty links an event back to its task.
const taskIDProperty = "fieldservice_task_id"

// deadlineSlot is how long the calendar block before a deadline lasts.
const deadlineSlot = time.Hour

// colorIDs follow the Calendar API's fixed event palette.
var colorIDs = map[domain.Priority]string{
	domain.PriorityUrgent: "11", // tomato
	domain.PriorityHigh:   "6",  // tangerine
	domain.PriorityMedium: "5",  // banana
	domain.PriorityLow:    "2",  // sage
}

type Publisher struct {
	srv        *calendar.Service
	calendarID string
}

// NewPublisher authenticates with application default credentials.
func NewPublisher(ctx context.Context, calendarID string) (*Publisher, error) {
	client, err := google.DefaultClient(ctx, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("calendar credentials: %w", err)
	}
	return NewPublisherWithOptions(ctx, calendarID, option.WithHTTPClient(client))
}

func NewPublisherWithOptions(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Publisher, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return &Publisher{srv: srv, calendarID: calendarID}, nil
}

// EventForTask converts a task into its deadline event. ok is false when
// the task should have no event: no deadline, or already closed.
func EventForTask(t domain.Task) (ev *calendar.Event, ok bool) {
	if t.Deadline == nil || t.Status.Terminal() {
		return nil, false
	}
	end := t.Deadline.UTC()
	start := end.Add(-deadlineSlot)

	var desc strings.Builder
	fmt.Fprintf(&desc, "Task #%d (%s, %s)\n", t.ID, t.Status, t.Priority)
	if t.Description != "" {
		desc.WriteString(t.Description)
		desc.WriteString("\n")
	}
	if t.EstimatedCost > 0 {
		fmt.Fprintf(&desc, "Estimate: %.2f\n", t.EstimatedCost)
	}

	summary := t.Description
	if summary == "" {
		summary = fmt.Sprintf("Task #%d", t.ID)
	}

	return &calendar.Event{
		Summary:     "Due: " + summary,
		Location:    t.Location.Address,
		Description: desc.String(),
		ColorId:     colorIDs[t.Priority],
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: strconv.FormatInt(t.ID, 10)},
		},
	}, true
}

// Sync makes the calendar agree with the task: it creates, patches or
// removes the task's deadline event.
func (p *Publisher) Sync(ctx context.Context, t domain.Task) error {
	existing, err := p.find(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("error searching for event: %w", err)
	}

	want, ok := EventForTask(t)
	switch {
	case !ok && existing == nil:
		return nil
	case !ok:
		return p.srv.Events.Delete(p.calendarID, existing.Id).Context(ctx).Do()
	case existing == nil:
		_, err = p.srv.Events.Insert(p.calendarID, want).Context(ctx).Do()
		return err
	}

	if !needsUpdate(existing, want) {
		return nil
	}
	_, err = p.srv.Events.Patch(p.calendarID, existing.Id, want).Context(ctx).Do()
	return err
}

func (p *Publisher) find(ctx context.Context, taskID int64) (*calendar.Event, error) {
	events, err := p.srv.Events.List(p.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%d", taskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(events.Items) > 0 {
		return events.Items[0], nil
	}
	return nil, nil
}

func needsUpdate(existing, want *calendar.Event) bool {
	if existing.Summary != want.Summary ||
		existing.Location != want.Location ||
		existing.Description != want.Description ||
		existing.ColorId != want.ColorId {
		return true
	}
	return !sameInstant(existing.Start, want.Start) || !sameInstant(existing.End, want.End)
}

func sameInstant(a, b *calendar.EventDateTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, errA := time.Parse(time.RFC3339, a.DateTime)
	tb, errB := time.Parse(time.RFC3339, b.DateTime)
	if errA != nil || errB != nil {
		return a.DateTime == b.DateTime
	}
	return ta.Equal(tb)
}
