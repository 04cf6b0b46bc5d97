package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
	"fieldservice-backend/internal/graph"
	"fieldservice-backend/internal/records"
)

var (
	superAdmin  = &domain.User{ID: 1, Username: "root", Role: domain.RoleSuperAdmin}
	officeAdmin = &domain.User{ID: 2, Username: "office", Role: domain.RoleOfficeAdmin}
	dispatcher  = &domain.User{ID: 3, Username: "dispatch", Role: domain.RoleDispatcher}
	employee    = &domain.User{ID: 4, Username: "tech", Role: domain.RoleEmployee}
)

func ptr[T any](v T) *T { return &v }

// fakeSource implements Source with function fields.
type fakeSource struct {
	tasksFn func(ctx context.Context) ([]records.RawTask, error)
	usersFn func(ctx context.Context) ([]records.RawUser, error)
}

func (f fakeSource) LoadTasks(ctx context.Context) ([]records.RawTask, error) {
	return f.tasksFn(ctx)
}

func (f fakeSource) LoadUsers(ctx context.Context) ([]records.RawUser, error) {
	return f.usersFn(ctx)
}

func defaultUsers() []domain.User {
	return []domain.User{*superAdmin, *officeAdmin, *dispatcher, *employee}
}

func newStore(t *testing.T, tasks ...domain.Task) *Store {
	t.Helper()
	s := New(nil)
	s.now = func() time.Time { return time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC) }
	if err := s.Replace(tasks, defaultUsers()); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	return s
}

func task(id int64, status domain.Status, deps ...int64) domain.Task {
	if deps == nil {
		deps = []int64{}
	}
	return domain.Task{
		ID:           id,
		Description:  fmt.Sprintf("task %d", id),
		Status:       status,
		Priority:     domain.PriorityMedium,
		Dependencies: deps,
		Comments:     []string{},
		Attachments:  []string{},
	}
}

func mustJSON(t *testing.T, s *Store, id int64) []byte {
	t.Helper()
	tk, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get(%d): %v", id, err)
	}
	b, err := json.Marshal(tk)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestApplyMutation_DependencyScenario(t *testing.T) {
	a := task(1, domain.StatusAssigned, 2)
	a.AssigneeID = ptr(employee.ID)
	s := newStore(t, a, task(2, domain.StatusOpen))
	ctx := context.Background()

	start := Request{TaskID: 1, Mutation: Transition{To: domain.StatusInProgress}}
	_, err := s.ApplyMutation(ctx, employee, start)
	var de *domain.Error
	if !errors.As(err, &de) || !errors.Is(err, domain.ErrDependencyNotSatisfied) {
		t.Fatalf("err=%v, want dependency not satisfied", err)
	}
	if !slices.Equal(de.Blocking, []int64{2}) {
		t.Fatalf("Blocking=%v, want [2]", de.Blocking)
	}

	// walk B to Completed
	steps := []struct {
		user *domain.User
		m    Mutation
	}{
		{dispatcher, Transition{To: domain.StatusAssigned, AssigneeID: ptr(employee.ID)}},
		{employee, Transition{To: domain.StatusInProgress}},
		{officeAdmin, SetFinalCost{Amount: 80}},
		{employee, Transition{To: domain.StatusPendingReview}},
		{officeAdmin, Transition{To: domain.StatusCompleted}},
	}
	for _, st := range steps {
		if _, err := s.ApplyMutation(ctx, st.user, Request{TaskID: 2, Mutation: st.m}); err != nil {
			t.Fatalf("%s on B: %v", Name(st.m), err)
		}
	}

	res, err := s.ApplyMutation(ctx, employee, start)
	if err != nil {
		t.Fatalf("after B completed: %v", err)
	}
	if res.Task.Status != domain.StatusInProgress {
		t.Fatalf("status=%s, want InProgress", res.Task.Status)
	}
	if len(res.Events) != 1 || res.Events[0].Audience.AssigneeID == nil {
		t.Fatalf("events=%+v, want one assignee event", res.Events)
	}
}

func TestApplyMutation_RejectionLeavesTaskByteIdentical(t *testing.T) {
	base := task(5, domain.StatusPendingReview, 6)
	base.AssigneeID = ptr(employee.ID)
	base.Location = domain.Location{Address: "1 Elm", Coordinate: &geo.Coordinate{Lat: 10, Lng: 20}}
	s := newStore(t, base, task(6, domain.StatusCompleted), task(7, domain.StatusOpen, 5))

	rejected := []struct {
		user *domain.User
		m    Mutation
	}{
		{dispatcher, Transition{To: domain.StatusCompleted}},      // no final cost
		{employee, Transition{To: domain.StatusOpen}},             // undefined
		{employee, ChangePriority{Priority: domain.PriorityHigh}}, // role
		{dispatcher, AddDependency{DependsOn: 5}},                 // self
		{dispatcher, AddDependency{DependsOn: 7}},                 // cycle
		{dispatcher, AddDependency{DependsOn: 404}},               // unknown
		{employee, AddComment{Text: "   "}},
		{officeAdmin, SetFinalCost{Amount: -1}},
		{employee, SetFinalCost{Amount: 10}},
		{employee, RecordScan{Kind: "sideways", Ref: "scan://x"}},
		{dispatcher, SetLocation{Location: domain.Location{Address: "x", Coordinate: &geo.Coordinate{Lat: 120}}}},
		{nil, AddComment{Text: "anonymous"}},
	}

	before := mustJSON(t, s, 5)
	for _, r := range rejected {
		if _, err := s.ApplyMutation(context.Background(), r.user, Request{TaskID: 5, Mutation: r.m}); err == nil {
			t.Fatalf("%s by %v: expected rejection", Name(r.m), r.user)
		}
		if after := mustJSON(t, s, 5); !bytes.Equal(before, after) {
			t.Fatalf("%s: task changed\nbefore %s\nafter  %s", Name(r.m), before, after)
		}
	}
}

func TestApplyMutation_OneTimeFields(t *testing.T) {
	s := newStore(t, task(1, domain.StatusInProgress))
	ctx := context.Background()

	if _, err := s.ApplyMutation(ctx, officeAdmin, Request{TaskID: 1, Mutation: SetFinalCost{Amount: 99.5}}); err != nil {
		t.Fatalf("first final cost: %v", err)
	}
	_, err := s.ApplyMutation(ctx, officeAdmin, Request{TaskID: 1, Mutation: SetFinalCost{Amount: 120}})
	if !errors.Is(err, domain.ErrPreconditionNotMet) {
		t.Fatalf("second final cost: err=%v, want %v", err, domain.ErrPreconditionNotMet)
	}

	scan := Request{TaskID: 1, Mutation: RecordScan{Kind: ScanBefore, Ref: "scan://before/1"}}
	if _, err := s.ApplyMutation(ctx, employee, scan); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if _, err := s.ApplyMutation(ctx, employee, scan); !errors.Is(err, domain.ErrPreconditionNotMet) {
		t.Fatalf("second scan: err=%v, want %v", err, domain.ErrPreconditionNotMet)
	}

	got, _ := s.Get(1)
	if *got.FinalCost != 99.5 || *got.BeforeScan != "scan://before/1" || got.AfterScan != nil {
		t.Fatalf("task=%+v", got)
	}
}

func TestApplyMutation_AppendOnlyLists(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen))
	ctx := context.Background()
	for _, m := range []Mutation{
		AddComment{Text: "gate code 4411"},
		AddAttachment{Ref: "att://photo/1"},
		AddComment{Text: "dog on site"},
	} {
		if _, err := s.ApplyMutation(ctx, employee, Request{TaskID: 1, Mutation: m}); err != nil {
			t.Fatalf("%s: %v", Name(m), err)
		}
	}
	got, _ := s.Get(1)
	if !slices.Equal(got.Comments, []string{"gate code 4411", "dog on site"}) {
		t.Fatalf("Comments=%v", got.Comments)
	}
	if !slices.Equal(got.Attachments, []string{"att://photo/1"}) {
		t.Fatalf("Attachments=%v", got.Attachments)
	}
}

func TestApplyMutation_UnknownAssigneeAndTask(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen))
	ctx := context.Background()

	_, err := s.ApplyMutation(ctx, dispatcher, Request{TaskID: 1, Mutation: Transition{To: domain.StatusAssigned, AssigneeID: ptr(int64(999))}})
	if !errors.Is(err, domain.ErrPreconditionNotMet) {
		t.Fatalf("unknown assignee: err=%v", err)
	}
	_, err = s.ApplyMutation(ctx, dispatcher, Request{TaskID: 42, Mutation: AddComment{Text: "hi"}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown task: err=%v", err)
	}
}

func TestApplyMutation_UndefinedTransitionBeatsUnknownAssignee(t *testing.T) {
	done := task(1, domain.StatusCompleted)
	done.FinalCost = ptr(120.0)
	s := newStore(t, done)

	_, err := s.ApplyMutation(context.Background(), superAdmin, Request{TaskID: 1, Mutation: Transition{To: domain.StatusAssigned, AssigneeID: ptr(int64(999))}})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err=%v, want %v", err, domain.ErrInvalidTransition)
	}
}

func TestApplyMutation_UrgentNotifiesDispatchers(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen))
	res, err := s.ApplyMutation(context.Background(), dispatcher, Request{TaskID: 1, Mutation: ChangePriority{Priority: domain.PriorityUrgent}})
	if err != nil {
		t.Fatalf("ChangePriority: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("events=%+v", res.Events)
	}
	want := []domain.Role{domain.RoleSuperAdmin, domain.RoleOfficeAdmin, domain.RoleDispatcher}
	if !slices.Equal(res.Events[0].Audience.Roles, want) {
		t.Fatalf("roles=%v, want %v", res.Events[0].Audience.Roles, want)
	}
}

func TestApplyMutation_CancelledContext(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ApplyMutation(ctx, superAdmin, Request{TaskID: 1, Mutation: AddComment{Text: "x"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want %v", err, context.Canceled)
	}
}

func TestApplyMutation_ConcurrentDependencyEdits(t *testing.T) {
	const n = 12
	var tasks []domain.Task
	for id := int64(1); id <= n; id++ {
		tasks = append(tasks, task(id, domain.StatusOpen))
	}
	s := newStore(t, tasks...)

	var wg sync.WaitGroup
	for from := int64(1); from <= n; from++ {
		for to := int64(1); to <= n; to++ {
			wg.Add(1)
			go func(from, to int64) {
				defer wg.Done()
				_, _ = s.ApplyMutation(context.Background(), dispatcher, Request{TaskID: from, Mutation: AddDependency{DependsOn: to}})
			}(from, to)
		}
	}
	wg.Wait()

	all := s.All()
	for _, tk := range all {
		if tk.DependsOn(tk.ID) {
			t.Fatalf("task %d depends on itself", tk.ID)
		}
	}
	if cycle := graph.Build(all).DetectCycle(); cycle != nil {
		t.Fatalf("cycle after concurrent edits: %v", cycle)
	}
}

func TestApplyMutation_ConcurrentCommentsAreAllKept(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen), task(2, domain.StatusOpen))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []int64{1, 2} {
			wg.Add(1)
			go func(id int64, i int) {
				defer wg.Done()
				m := AddComment{Text: fmt.Sprintf("note %d", i)}
				if _, err := s.ApplyMutation(context.Background(), employee, Request{TaskID: id, Mutation: m}); err != nil {
					t.Errorf("comment: %v", err)
				}
			}(id, i)
		}
	}
	wg.Wait()
	for _, id := range []int64{1, 2} {
		got, _ := s.Get(id)
		if len(got.Comments) != 50 {
			t.Fatalf("task %d has %d comments, want 50", id, len(got.Comments))
		}
	}
}

func TestReplace_WaitsForInFlightMutation(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen))

	entered := make(chan struct{})
	release := make(chan struct{})
	s.Observe(func(c Change) {
		if c.Mutation == "add_comment" {
			close(entered)
			<-release
		}
	})

	go func() {
		_, _ = s.ApplyMutation(context.Background(), employee, Request{TaskID: 1, Mutation: AddComment{Text: "old state"}})
	}()
	<-entered

	replaced := make(chan error, 1)
	go func() {
		fresh := task(1, domain.StatusOpen)
		fresh.Description = "reloaded"
		replaced <- s.Replace([]domain.Task{fresh}, defaultUsers())
	}()

	select {
	case <-replaced:
		t.Fatal("Replace returned while a mutation held the task lock")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-replaced; err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, _ := s.Get(1)
	if got.Description != "reloaded" || len(got.Comments) != 0 {
		t.Fatalf("task=%+v, want the reloaded version", got)
	}
}

func TestObserve_SeesEveryCommit(t *testing.T) {
	var tasks []domain.Task
	for id := int64(1); id <= 100; id++ {
		tasks = append(tasks, task(id, domain.StatusOpen))
	}
	s := newStore(t, tasks...)

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	s.Observe(func(c Change) {
		mu.Lock()
		seen[c.Task.ID]++
		mu.Unlock()
	})
	_ = s.Subscribe() // never drained

	for id := int64(1); id <= 100; id++ {
		if _, err := s.ApplyMutation(context.Background(), employee, Request{TaskID: id, Mutation: AddComment{Text: "seen"}}); err != nil {
			t.Fatalf("comment %d: %v", id, err)
		}
	}
	if len(seen) != 100 {
		t.Fatalf("observer saw %d tasks, want 100", len(seen))
	}
}

func TestSubscribe_ReceivesCommittedChanges(t *testing.T) {
	s := newStore(t, task(1, domain.StatusOpen))
	ch := s.Subscribe()

	if _, err := s.ApplyMutation(context.Background(), employee, Request{TaskID: 1, Mutation: ChangePriority{Priority: domain.PriorityHigh}}); err == nil {
		t.Fatalf("employee priority change should fail")
	}
	if _, err := s.ApplyMutation(context.Background(), dispatcher, Request{TaskID: 1, Mutation: Transition{To: domain.StatusCancelled}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case c := <-ch:
		if c.Task.Status != domain.StatusCancelled || c.Requester.ID != dispatcher.ID || c.Mutation != "transition" {
			t.Fatalf("change=%+v", c)
		}
		if len(c.Events) != 1 {
			t.Fatalf("events=%+v, want admin cancellation event only", c.Events)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
	select {
	case c := <-ch:
		t.Fatalf("unexpected extra change %+v", c)
	default:
	}

	s.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Close")
	}
}

func TestLoad(t *testing.T) {
	s := New(nil)
	src := fakeSource{
		tasksFn: func(ctx context.Context) ([]records.RawTask, error) {
			return []records.RawTask{
				{ID: 1, Status: "Open", Dependencies: []int64{2}},
				{ID: 2, Status: "Not Started"},
			}, nil
		},
		usersFn: func(ctx context.Context) ([]records.RawUser, error) {
			return []records.RawUser{{ID: 4, Username: "tech", Role: "Employee"}}, nil
		},
	}
	if err := s.Load(context.Background(), src); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.All()) != 2 || len(s.Users()) != 1 {
		t.Fatalf("tasks=%d users=%d", len(s.All()), len(s.Users()))
	}

	cyclic := src
	cyclic.tasksFn = func(ctx context.Context) ([]records.RawTask, error) {
		return []records.RawTask{
			{ID: 1, Status: "Open", Dependencies: []int64{2}},
			{ID: 2, Status: "Open", Dependencies: []int64{1}},
		}, nil
	}
	if err := s.Load(context.Background(), cyclic); !errors.Is(err, domain.ErrCyclicDependency) {
		t.Fatalf("err=%v, want %v", err, domain.ErrCyclicDependency)
	}
	if len(s.All()) != 2 {
		t.Fatalf("previous state not kept after failed load")
	}

	boom := errors.New("backend unreachable")
	failing := src
	failing.usersFn = func(ctx context.Context) ([]records.RawUser, error) { return nil, boom }
	if err := s.Load(context.Background(), failing); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}

func TestQueries(t *testing.T) {
	london := geo.Coordinate{Lat: 51.5074, Lng: -0.1278}
	nearby := task(1, domain.StatusOpen)
	nearby.Location.Coordinate = &geo.Coordinate{Lat: 51.51, Lng: -0.13}
	far := task(2, domain.StatusAssigned)
	far.AssigneeID = ptr(employee.ID)
	far.Location.Coordinate = &geo.Coordinate{Lat: 48.8566, Lng: 2.3522}
	far.Priority = domain.PriorityUrgent
	done := task(3, domain.StatusCompleted)
	done.Priority = domain.PriorityUrgent
	dated := task(4, domain.StatusOpen)
	dated.Deadline = ptr(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	s := newStore(t, nearby, far, done, dated)

	open, err := s.ByStatus("Not Started")
	if err != nil || len(open) != 2 {
		t.Fatalf("ByStatus=%v err=%v", open, err)
	}
	if _, err := s.ByStatus("Sleeping"); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("bad status err=%v", err)
	}

	mine, err := s.ByAssignee(employee.ID)
	if err != nil || len(mine) != 1 || mine[0].ID != 2 {
		t.Fatalf("ByAssignee=%v err=%v", mine, err)
	}
	if _, err := s.ByAssignee(0); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("ByAssignee(0) err=%v", err)
	}

	near, err := s.Near(london, 5000)
	if err != nil || len(near) != 1 || near[0].Task.ID != 1 {
		t.Fatalf("Near=%v err=%v", near, err)
	}
	all, _ := s.Near(london, 500_000)
	if len(all) != 2 || all[0].Task.ID != 1 || all[1].Task.ID != 2 {
		t.Fatalf("Near ordering=%v", all)
	}
	if _, err := s.Near(geo.Coordinate{Lat: 95}, 10); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("bad origin err=%v", err)
	}
	if _, err := s.Near(london, -1); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("negative radius err=%v", err)
	}

	order, err := s.Prioritized(&london)
	if err != nil {
		t.Fatalf("Prioritized: %v", err)
	}
	var ids []int64
	for _, tk := range order {
		ids = append(ids, tk.ID)
	}
	if !slices.Equal(ids, []int64{2, 4, 1}) {
		t.Fatalf("Prioritized=%v, want [2 4 1]", ids)
	}

	if _, err := s.Get(77); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(77) err=%v", err)
	}
}

type routerFunc func(ctx context.Context, o, d geo.Coordinate) (geo.Leg, error)

func (f routerFunc) Route(ctx context.Context, o, d geo.Coordinate) (geo.Leg, error) {
	return f(ctx, o, d)
}

func TestTravelTo(t *testing.T) {
	withCoord := task(1, domain.StatusOpen)
	withCoord.Location.Coordinate = &geo.Coordinate{Lat: 40.0, Lng: -73.0}
	s := newStore(t, withCoord, task(2, domain.StatusOpen))
	s.geo = geo.NewService(routerFunc(func(ctx context.Context, o, d geo.Coordinate) (geo.Leg, error) {
		return geo.Leg{Duration: 25 * time.Minute, Distance: 18000}, nil
	}))
	origin := geo.Coordinate{Lat: 40.1, Lng: -73.1}

	est, err := s.TravelTo(context.Background(), 1, origin)
	if err != nil || !est.Available || est.Duration != 25*time.Minute {
		t.Fatalf("estimate=%+v err=%v", est, err)
	}
	est, err = s.TravelTo(context.Background(), 2, origin)
	if err != nil || est.Available {
		t.Fatalf("no coordinate: estimate=%+v err=%v", est, err)
	}
	if _, err := s.TravelTo(context.Background(), 9, origin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing task err=%v", err)
	}
}
