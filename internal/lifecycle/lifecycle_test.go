package lifecycle

import (
	"errors"
	"reflect"
	"testing"

	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/graph"
)

var (
	superAdmin  = &domain.User{ID: 1, Username: "root", Role: domain.RoleSuperAdmin}
	officeAdmin = &domain.User{ID: 2, Username: "office", Role: domain.RoleOfficeAdmin}
	dispatcher  = &domain.User{ID: 3, Username: "dispatch", Role: domain.RoleDispatcher}
	employee    = &domain.User{ID: 4, Username: "tech", Role: domain.RoleEmployee}
	otherTech   = &domain.User{ID: 5, Username: "tech2", Role: domain.RoleEmployee}
)

func ptr[T any](v T) *T { return &v }

func newTask(id int64, status domain.Status) domain.Task {
	return domain.Task{ID: id, Status: status, Priority: domain.PriorityMedium}
}

func TestTransition_UndefinedIsInvalid(t *testing.T) {
	task := newTask(1, domain.StatusOpen)
	before := task.Clone()

	err := Transition(employee, &task, domain.StatusCompleted, nil, graph.Tasks{})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err=%v, want %v", err, domain.ErrInvalidTransition)
	}
	if !reflect.DeepEqual(task, before) {
		t.Fatalf("task mutated on rejection: %+v", task)
	}
}

func TestTransition_CompleteWithoutFinalCost(t *testing.T) {
	task := newTask(5, domain.StatusPendingReview)
	err := Transition(dispatcher, &task, domain.StatusCompleted, nil, graph.Tasks{})
	if !errors.Is(err, domain.ErrPreconditionNotMet) {
		t.Fatalf("err=%v, want %v", err, domain.ErrPreconditionNotMet)
	}
	if task.Status != domain.StatusPendingReview {
		t.Fatalf("status=%s, want unchanged", task.Status)
	}
}

func TestTransition_CompleteRequiresOfficeAdmin(t *testing.T) {
	task := newTask(5, domain.StatusPendingReview)
	task.FinalCost = ptr(120.0)

	err := Transition(employee, &task, domain.StatusCompleted, nil, graph.Tasks{})
	var de *domain.Error
	if !errors.As(err, &de) || !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err=%v, want permission denied", err)
	}
	if de.Required != domain.RoleOfficeAdmin {
		t.Fatalf("Required=%s, want %s", de.Required, domain.RoleOfficeAdmin)
	}

	if err := Transition(officeAdmin, &task, domain.StatusCompleted, nil, graph.Tasks{}); err != nil {
		t.Fatalf("office admin: %v", err)
	}
	if task.Status != domain.StatusCompleted {
		t.Fatalf("status=%s, want Completed", task.Status)
	}
}

func TestTransition_AssignNeedsAssignee(t *testing.T) {
	task := newTask(1, domain.StatusOpen)
	if err := Transition(dispatcher, &task, domain.StatusAssigned, nil, graph.Tasks{}); !errors.Is(err, domain.ErrPreconditionNotMet) {
		t.Fatalf("err=%v, want %v", err, domain.ErrPreconditionNotMet)
	}
	if err := Transition(employee, &task, domain.StatusAssigned, ptr(employee.ID), graph.Tasks{}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("employee assign: err=%v, want %v", err, domain.ErrPermissionDenied)
	}
	if err := Transition(dispatcher, &task, domain.StatusAssigned, ptr(employee.ID), graph.Tasks{}); err != nil {
		t.Fatalf("dispatcher assign: %v", err)
	}
	if !task.IsAssignedTo(employee.ID) || task.Status != domain.StatusAssigned {
		t.Fatalf("task=%+v, want assigned to %d", task, employee.ID)
	}
}

func TestTransition_EmployeeWorksOnlyOwnTasks(t *testing.T) {
	task := newTask(1, domain.StatusAssigned)
	task.AssigneeID = ptr(employee.ID)

	if err := Transition(otherTech, &task, domain.StatusInProgress, nil, graph.Tasks{}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("other employee: err=%v, want %v", err, domain.ErrPermissionDenied)
	}
	if err := Transition(employee, &task, domain.StatusInProgress, nil, graph.Tasks{}); err != nil {
		t.Fatalf("assignee: %v", err)
	}

	// higher roles may act on anyone's task
	if err := Transition(dispatcher, &task, domain.StatusPendingReview, nil, graph.Tasks{}); err != nil {
		t.Fatalf("dispatcher submit: %v", err)
	}
}

func TestTransition_DocumentationPolicy(t *testing.T) {
	task := newTask(1, domain.StatusInProgress)
	task.AssigneeID = ptr(employee.ID)
	task.RequiresDocumentation = true

	if err := Transition(employee, &task, domain.StatusPendingReview, nil, graph.Tasks{}); !errors.Is(err, domain.ErrPreconditionNotMet) {
		t.Fatalf("err=%v, want %v", err, domain.ErrPreconditionNotMet)
	}
	task.BeforeScan = ptr("scan://before/1")
	if err := Transition(employee, &task, domain.StatusPendingReview, nil, graph.Tasks{}); err != nil {
		t.Fatalf("with scan: %v", err)
	}
}

func TestTransition_DependenciesGateInProgress(t *testing.T) {
	a := newTask(1, domain.StatusAssigned)
	a.AssigneeID = ptr(employee.ID)
	a.Dependencies = []int64{2}
	src := graph.Tasks{1: a, 2: newTask(2, domain.StatusOpen)}

	err := Transition(employee, &a, domain.StatusInProgress, nil, src)
	var de *domain.Error
	if !errors.As(err, &de) || !errors.Is(err, domain.ErrDependencyNotSatisfied) {
		t.Fatalf("err=%v, want dependency not satisfied", err)
	}
	if !reflect.DeepEqual(de.Blocking, []int64{2}) {
		t.Fatalf("Blocking=%v, want [2]", de.Blocking)
	}

	src[2] = newTask(2, domain.StatusCompleted)
	if err := Transition(employee, &a, domain.StatusInProgress, nil, src); err != nil {
		t.Fatalf("after dependency completed: %v", err)
	}
}

func TestTransition_Cancel(t *testing.T) {
	for _, from := range []domain.Status{domain.StatusOpen, domain.StatusAssigned, domain.StatusInProgress, domain.StatusPendingReview} {
		task := newTask(1, from)
		if err := Transition(employee, &task, domain.StatusCancelled, nil, graph.Tasks{}); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Errorf("employee cancel from %s: err=%v, want denied", from, err)
		}
		if err := Transition(dispatcher, &task, domain.StatusCancelled, nil, graph.Tasks{}); err != nil {
			t.Errorf("dispatcher cancel from %s: %v", from, err)
		}
	}

	for _, from := range []domain.Status{domain.StatusCompleted, domain.StatusCancelled} {
		task := newTask(1, from)
		if err := Transition(superAdmin, &task, domain.StatusCancelled, nil, graph.Tasks{}); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("cancel from %s: err=%v, want invalid transition", from, err)
		}
	}
}

func TestChangePriority(t *testing.T) {
	task := newTask(1, domain.StatusInProgress)

	if err := ChangePriority(employee, &task, domain.PriorityUrgent); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("employee: err=%v, want %v", err, domain.ErrPermissionDenied)
	}
	if err := ChangePriority(dispatcher, &task, domain.PriorityUrgent); err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if task.Priority != domain.PriorityUrgent || task.Status != domain.StatusInProgress {
		t.Fatalf("task=%+v, want Urgent and still InProgress", task)
	}

	done := newTask(2, domain.StatusCompleted)
	if err := ChangePriority(superAdmin, &done, domain.PriorityLow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("terminal: err=%v, want %v", err, domain.ErrInvalidTransition)
	}
}

func TestNext(t *testing.T) {
	cases := map[domain.Status][]domain.Status{
		domain.StatusOpen:          {domain.StatusAssigned, domain.StatusCancelled},
		domain.StatusPendingReview: {domain.StatusCompleted, domain.StatusCancelled},
		domain.StatusCompleted:     nil,
	}
	for from, want := range cases {
		if got := Next(from); !reflect.DeepEqual(got, want) {
			t.Errorf("Next(%s)=%v, want %v", from, got, want)
		}
	}
}
