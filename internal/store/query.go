package store

import (
	"cmp"
	"math"
	"slices"

	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
)

// Nearby is a task paired with its distance from a query origin.
type Nearby struct {
	Task     domain.Task `json:"task"`
	Distance geo.Meters  `json:"distance_meters"`
}

func (s *Store) Get(id int64) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.Errorf(domain.ErrNotFound, id, "no such task")
	}
	return t.Clone(), nil
}

// snapshot copies every task matching keep, ordered by id.
func (s *Store) snapshot(keep func(domain.Task) bool) []domain.Task {
	s.mu.RLock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep == nil || keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) All() []domain.Task {
	return s.snapshot(nil)
}

// ByStatus accepts the wire names of statuses, including legacy aliases.
func (s *Store) ByStatus(status string) ([]domain.Task, error) {
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, domain.InvalidQuery("%v", err)
	}
	return s.snapshot(func(t domain.Task) bool { return t.Status == st }), nil
}

func (s *Store) ByAssignee(userID int64) ([]domain.Task, error) {
	if userID <= 0 {
		return nil, domain.InvalidQuery("assignee id must be positive, got %d", userID)
	}
	return s.snapshot(func(t domain.Task) bool { return t.IsAssignedTo(userID) }), nil
}

// Near returns tasks within radius of origin, closest first. Tasks without
// a coordinate never match.
func (s *Store) Near(origin geo.Coordinate, radius geo.Meters) ([]Nearby, error) {
	if err := origin.Validate(); err != nil {
		return nil, domain.InvalidQuery("origin: %v", err)
	}
	if math.IsNaN(float64(radius)) || radius < 0 {
		return nil, domain.InvalidQuery("radius must be non-negative")
	}

	var out []Nearby
	for _, t := range s.snapshot(func(t domain.Task) bool { return t.Location.Coordinate != nil }) {
		d := geo.Distance(origin, *t.Location.Coordinate)
		if d <= radius {
			out = append(out, Nearby{Task: t, Distance: d})
		}
	}
	slices.SortStableFunc(out, func(a, b Nearby) int { return cmp.Compare(a.Distance, b.Distance) })
	return out, nil
}

// Prioritized orders open work for dispatch: priority first, then the
// earliest deadline, then the shortest distance from origin. Tasks without
// a deadline or coordinate sort after those that have one. origin may be
// nil, in which case distance is ignored.
func (s *Store) Prioritized(origin *geo.Coordinate) ([]domain.Task, error) {
	if origin != nil {
		if err := origin.Validate(); err != nil {
			return nil, domain.InvalidQuery("origin: %v", err)
		}
	}
	tasks := s.snapshot(func(t domain.Task) bool { return !t.Status.Terminal() })

	dist := func(t domain.Task) float64 {
		if origin == nil || t.Location.Coordinate == nil {
			return math.Inf(1)
		}
		return float64(geo.Distance(*origin, *t.Location.Coordinate))
	}
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		if c := cmp.Compare(b.Priority.Weight(), a.Priority.Weight()); c != 0 {
			return c
		}
		switch {
		case a.Deadline != nil && b.Deadline != nil:
			if c := a.Deadline.Compare(*b.Deadline); c != 0 {
				return c
			}
		case a.Deadline != nil:
			return -1
		case b.Deadline != nil:
			return 1
		}
		return cmp.Compare(dist(a), dist(b))
	})
	return tasks, nil
}
