// Package store owns the authoritative in-memory task set. Every change
// goes through ApplyMutation; readers get copies.
package store

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
	"fieldservice-backend/internal/graph"
	"fieldservice-backend/internal/lifecycle"
	"fieldservice-backend/internal/notify"
	"fieldservice-backend/internal/records"
)

// Source is the sync layer's read side.
type Source interface {
	LoadTasks(ctx context.Context) ([]records.RawTask, error)
	LoadUsers(ctx context.Context) ([]records.RawUser, error)
}

// Result is what a successful mutation returns: the committed task and the
// notification events it produced.
type Result struct {
	Task   domain.Task    `json:"task"`
	Events []notify.Event `json:"events"`
}

// Change is published to subscribers after every committed mutation.
type Change struct {
	Task      domain.Task
	Events    []notify.Event
	Requester domain.User
	Mutation  string
}

const subscriberBuffer = 64

type Store struct {
	mu    sync.RWMutex
	tasks map[int64]domain.Task
	users map[int64]domain.User

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	// serializes edge additions so concurrent cycle checks see each other
	depMu sync.Mutex

	subsMu    sync.Mutex
	subs      []chan Change
	observers []func(Change)

	geo *geo.Service
	now func() time.Time
}

func New(geoSvc *geo.Service) *Store {
	return &Store{
		tasks: make(map[int64]domain.Task),
		users: make(map[int64]domain.User),
		locks: make(map[int64]*sync.Mutex),
		geo:   geoSvc,
		now:   time.Now,
	}
}

// Load replaces the whole state with what src returns. A set containing a
// dependency cycle is refused and the previous state kept.
func (s *Store) Load(ctx context.Context, src Source) error {
	rawTasks, err := src.LoadTasks(ctx)
	if err != nil {
		return err
	}
	rawUsers, err := src.LoadUsers(ctx)
	if err != nil {
		return err
	}
	tasks, err := records.Tasks(rawTasks)
	if err != nil {
		return err
	}
	users, err := records.Users(rawUsers)
	if err != nil {
		return err
	}
	return s.Replace(tasks, users)
}

// Replace installs an already-decoded state.
func (s *Store) Replace(tasks []domain.Task, users []domain.User) error {
	if cycle := graph.Build(tasks).DetectCycle(); cycle != nil {
		return &domain.Error{Kind: domain.ErrCyclicDependency, TaskID: cycle[0], Msg: fmt.Sprintf("cycle %v", cycle)}
	}

	nextTasks := make(map[int64]domain.Task, len(tasks))
	for _, t := range tasks {
		if slices.Contains(t.Dependencies, t.ID) {
			return domain.Errorf(domain.ErrSelfDependency, t.ID, "loaded task depends on itself")
		}
		nextTasks[t.ID] = t.Clone()
	}
	nextUsers := make(map[int64]domain.User, len(users))
	for _, u := range users {
		nextUsers[u.ID] = u
	}

	s.depMu.Lock()
	defer s.depMu.Unlock()

	// Hold every task lock, old and new, so no mutation that read the old
	// map can commit over the new one.
	s.mu.RLock()
	ids := make([]int64, 0, len(s.tasks)+len(nextTasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for id := range nextTasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		l := s.lockFor(id)
		l.Lock()
		defer l.Unlock()
	}

	s.mu.Lock()
	s.tasks, s.users = nextTasks, nextUsers
	s.mu.Unlock()
	return nil
}

// view resolves ids against the committed state.
type view struct{ s *Store }

func (v view) Task(id int64) (domain.Task, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	t, ok := v.s.tasks[id]
	return t, ok
}

func (s *Store) lockFor(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// ApplyMutation authorizes, validates and applies req on behalf of
// requester. On any error the stored task is left untouched.
func (s *Store) ApplyMutation(ctx context.Context, requester *domain.User, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Mutation == nil {
		return Result{}, domain.Errorf(domain.ErrPreconditionNotMet, req.TaskID, "empty mutation")
	}
	if !auth.Authorize(requester, auth.UpdateStatus) {
		return Result{}, domain.Denied(req.TaskID, auth.UpdateStatus.MinRole, "%s", Name(req.Mutation))
	}

	if _, ok := req.Mutation.(AddDependency); ok {
		s.depMu.Lock()
		defer s.depMu.Unlock()
	}
	lock := s.lockFor(req.TaskID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.tasks[req.TaskID]
	s.mu.RUnlock()
	if !ok {
		return Result{}, domain.Errorf(domain.ErrNotFound, req.TaskID, "no such task")
	}

	working := current.Clone()
	events, err := s.apply(requester, &working, req.Mutation)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	s.tasks[working.ID] = working
	s.mu.Unlock()

	out := Result{Task: working.Clone(), Events: events}
	s.publish(Change{Task: working.Clone(), Events: events, Requester: *requester, Mutation: Name(req.Mutation)})
	return out, nil
}

func (s *Store) apply(requester *domain.User, t *domain.Task, m Mutation) ([]notify.Event, error) {
	now := s.now()

	switch m := m.(type) {
	case Transition:
		from := t.Status
		if _, defined := lifecycle.ActionFor(from, m.To); defined && m.AssigneeID != nil && m.To == domain.StatusAssigned {
			if _, ok := s.User(*m.AssigneeID); !ok {
				return nil, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "unknown assignee %d", *m.AssigneeID)
			}
		}
		if err := lifecycle.Transition(requester, t, m.To, m.AssigneeID, view{s}); err != nil {
			return nil, err
		}
		return notify.ForTransition(*t, from, now), nil

	case ChangePriority:
		from := t.Priority
		if err := lifecycle.ChangePriority(requester, t, m.Priority); err != nil {
			return nil, err
		}
		return notify.ForPriority(*t, from, now), nil

	case AddDependency:
		if err := require(requester, t.ID, auth.EditDependencies); err != nil {
			return nil, err
		}
		return nil, graph.AddDependency(t, m.DependsOn, view{s})

	case RemoveDependency:
		if err := require(requester, t.ID, auth.EditDependencies); err != nil {
			return nil, err
		}
		graph.RemoveDependency(t, m.DependsOn)
		return nil, nil

	case AddComment:
		if err := require(requester, t.ID, auth.AddComment); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			return nil, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "comment is empty")
		}
		t.Comments = append(t.Comments, text)
		return nil, nil

	case AddAttachment:
		if err := require(requester, t.ID, auth.AddAttachment); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Ref) == "" {
			return nil, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "attachment reference is empty")
		}
		t.Attachments = append(t.Attachments, m.Ref)
		return nil, nil

	case RecordScan:
		return nil, recordScan(requester, t, m)

	case SetFinalCost:
		return nil, setFinalCost(requester, t, m.Amount)

	case SetLocation:
		return nil, setLocation(requester, t, m.Location)
	}
	return nil, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "unsupported mutation %T", m)
}

func require(requester *domain.User, taskID int64, action auth.Action) error {
	if !auth.Authorize(requester, action) {
		return domain.Denied(taskID, action.MinRole, "%s", action.Name)
	}
	return nil
}

func recordScan(requester *domain.User, t *domain.Task, m RecordScan) error {
	if err := require(requester, t.ID, auth.RecordScan); err != nil {
		return err
	}
	if t.Status.Terminal() {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "task is %s", t.Status)
	}
	if strings.TrimSpace(m.Ref) == "" {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "scan reference is empty")
	}
	var slot **string
	switch m.Kind {
	case ScanBefore:
		slot = &t.BeforeScan
	case ScanAfter:
		slot = &t.AfterScan
	default:
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "unknown scan kind %q", m.Kind)
	}
	if *slot != nil {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "%s scan already recorded", m.Kind)
	}
	ref := m.Ref
	*slot = &ref
	return nil
}

func setFinalCost(requester *domain.User, t *domain.Task, amount float64) error {
	if err := require(requester, t.ID, auth.SetFinalCost); err != nil {
		return err
	}
	if t.Status != domain.StatusInProgress && t.Status != domain.StatusPendingReview {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "final cost cannot be set while %s", t.Status)
	}
	if t.FinalCost != nil {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "final cost already set")
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "final cost must be non-negative")
	}
	t.FinalCost = &amount
	return nil
}

func setLocation(requester *domain.User, t *domain.Task, loc domain.Location) error {
	if err := require(requester, t.ID, auth.SetLocation); err != nil {
		return err
	}
	if t.Status.Terminal() {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "task is %s", t.Status)
	}
	loc.Address = strings.TrimSpace(loc.Address)
	if loc.Address == "" {
		return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "address is empty")
	}
	if loc.Coordinate != nil {
		if err := loc.Coordinate.Validate(); err != nil {
			return domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "%v", err)
		}
		c := *loc.Coordinate
		loc.Coordinate = &c
	}
	t.Location = loc
	return nil
}

// Subscribe returns a channel receiving every committed change. A slow
// subscriber loses changes rather than stalling mutations.
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, subscriberBuffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Observe registers fn to run synchronously after every commit, while the
// task's lock is still held. fn must not block or call back into the
// store's mutation path. Unlike a subscription it never misses a change.
func (s *Store) Observe(fn func(Change)) {
	s.subsMu.Lock()
	s.observers = append(s.observers, fn)
	s.subsMu.Unlock()
}

// Close ends every subscription.
func (s *Store) Close() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func (s *Store) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, fn := range s.observers {
		fn(c)
	}
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			log.Printf("[WARN] subscriber full, dropped change for task %d", c.Task.ID)
		}
	}
}

// User looks a user up by id.
func (s *Store) User(id int64) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Users returns every known user ordered by id.
func (s *Store) Users() []domain.User {
	s.mu.RLock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// PutUser adds or replaces a user, e.g. after registration.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// TravelTo estimates the drive from origin to the task. The provider call
// runs without any store lock held.
func (s *Store) TravelTo(ctx context.Context, taskID int64, origin geo.Coordinate) (geo.TravelEstimate, error) {
	if err := origin.Validate(); err != nil {
		return geo.TravelEstimate{}, domain.InvalidQuery("origin: %v", err)
	}
	t, err := s.Get(taskID)
	if err != nil {
		return geo.TravelEstimate{}, err
	}
	if t.Location.Coordinate == nil {
		log.Printf("[WARN] travel to task %d: task has no coordinate", taskID)
		return geo.TravelEstimate{}, nil
	}
	return s.geo.EstimateTravel(ctx, origin, *t.Location.Coordinate), nil
}
