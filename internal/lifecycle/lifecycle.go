// Package lifecycle is the task status state machine.
//
// Every check runs in a fixed order: the transition must be defined for the
// current status, its structural preconditions must hold, dependencies must
// be satisfied (InProgress only) and finally the requester's role must be
// sufficient. The first failing check decides the error. Functions mutate
// the task they are given only when every check passes.
package lifecycle

import (
	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/graph"
)

type edge struct {
	from, to domain.Status
}

// forward holds the non-cancelling transitions and the action gating each.
var forward = map[edge]auth.Action{
	{domain.StatusOpen, domain.StatusAssigned}:            auth.AssignTask,
	{domain.StatusAssigned, domain.StatusInProgress}:      auth.StartWork,
	{domain.StatusInProgress, domain.StatusPendingReview}: auth.SubmitForReview,
	{domain.StatusPendingReview, domain.StatusCompleted}:  auth.CompleteTask,
}

// ActionFor returns the action that gates from -> to, and false if the
// transition is not defined.
func ActionFor(from, to domain.Status) (auth.Action, bool) {
	if to == domain.StatusCancelled {
		return auth.CancelTask, !from.Terminal()
	}
	a, ok := forward[edge{from, to}]
	return a, ok
}

// Next lists the statuses reachable from s in one step.
func Next(s domain.Status) []domain.Status {
	var out []domain.Status
	for _, to := range []domain.Status{
		domain.StatusAssigned,
		domain.StatusInProgress,
		domain.StatusPendingReview,
		domain.StatusCompleted,
		domain.StatusCancelled,
	} {
		if _, ok := ActionFor(s, to); ok {
			out = append(out, to)
		}
	}
	return out
}

// Transition moves task to status to. assigneeID is only consulted for
// Open -> Assigned, where it replaces any assignee already on the task.
func Transition(requester *domain.User, task *domain.Task, to domain.Status, assigneeID *int64, src graph.Source) error {
	from := task.Status
	action, ok := ActionFor(from, to)
	if !ok {
		return domain.Errorf(domain.ErrInvalidTransition, task.ID, "%s -> %s", from, to)
	}

	assignee := task.AssigneeID
	switch to {
	case domain.StatusAssigned:
		if assigneeID != nil {
			assignee = assigneeID
		}
		if assignee == nil || *assignee <= 0 {
			return domain.Errorf(domain.ErrPreconditionNotMet, task.ID, "assignee required")
		}
	case domain.StatusPendingReview:
		if task.RequiresDocumentation && task.BeforeScan == nil {
			return domain.Errorf(domain.ErrPreconditionNotMet, task.ID, "before scan required")
		}
	case domain.StatusCompleted:
		if task.FinalCost == nil {
			return domain.Errorf(domain.ErrPreconditionNotMet, task.ID, "final cost required")
		}
	}

	if to == domain.StatusInProgress {
		if err := graph.CanTransitionToInProgress(*task, src); err != nil {
			return err
		}
	}

	if err := authorize(requester, *task, action); err != nil {
		return err
	}

	if to == domain.StatusAssigned {
		id := *assignee
		task.AssigneeID = &id
	}
	task.Status = to
	return nil
}

// ChangePriority sets the priority without moving the state machine.
func ChangePriority(requester *domain.User, task *domain.Task, p domain.Priority) error {
	if task.Status.Terminal() {
		return domain.Errorf(domain.ErrInvalidTransition, task.ID, "priority is frozen once %s", task.Status)
	}
	if p.Weight() == 0 {
		return domain.Errorf(domain.ErrPreconditionNotMet, task.ID, "unknown priority %q", p)
	}
	if err := authorize(requester, *task, auth.ChangePriority); err != nil {
		return err
	}
	task.Priority = p
	return nil
}

// authorize applies the role gate. Working a task as an Employee is
// limited to the Employee's own assignments.
func authorize(requester *domain.User, task domain.Task, action auth.Action) error {
	if !auth.Authorize(requester, action) {
		return domain.Denied(task.ID, action.MinRole, "%s", action.Name)
	}
	if auth.Rank(requester.Role) == auth.Rank(domain.RoleEmployee) &&
		(action == auth.StartWork || action == auth.SubmitForReview) &&
		!task.IsAssignedTo(requester.ID) {
		return domain.Denied(task.ID, domain.RoleDispatcher, "%s on a task assigned to someone else", action.Name)
	}
	return nil
}
