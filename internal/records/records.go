// Package records is the decoding boundary between the sync layer and the
// domain. Raw records mirror the backend's snake_case rows; converting them
// into domain values validates every field.
package records

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
)

type RawTask struct {
	ID                    int64      `json:"id"`
	Description           string     `json:"description"`
	Category              string     `json:"category,omitempty"`
	Address               string     `json:"address"`
	Latitude              *float64   `json:"latitude,omitempty"`
	Longitude             *float64   `json:"longitude,omitempty"`
	EstimatedCost         float64    `json:"estimated_cost"`
	FinalCost             *float64   `json:"final_cost,omitempty"`
	Status                string     `json:"status"`
	Priority              string     `json:"priority,omitempty"`
	Deadline              *time.Time `json:"deadline,omitempty"`
	AssigneeID            *int64     `json:"assignee_id,omitempty"`
	RequiresDocumentation bool       `json:"requires_documentation,omitempty"`
	Dependencies          []int64    `json:"dependencies,omitempty"`
	Comments              []string   `json:"comments,omitempty"`
	Attachments           []string   `json:"attachments,omitempty"`
	BeforeScan            *string    `json:"before_scan,omitempty"`
	AfterScan             *string    `json:"after_scan,omitempty"`
}

type RawUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func validCost(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Task converts a raw record. Missing priority defaults to Medium.
func (r RawTask) Task() (domain.Task, error) {
	if r.ID <= 0 {
		return domain.Task{}, fmt.Errorf("task id must be positive, got %d", r.ID)
	}
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %d: %w", r.ID, err)
	}
	priority := domain.PriorityMedium
	if r.Priority != "" {
		if priority, err = domain.ParsePriority(r.Priority); err != nil {
			return domain.Task{}, fmt.Errorf("task %d: %w", r.ID, err)
		}
	}
	if !validCost(r.EstimatedCost) {
		return domain.Task{}, fmt.Errorf("task %d: estimated_cost must be non-negative", r.ID)
	}
	if r.FinalCost != nil && !validCost(*r.FinalCost) {
		return domain.Task{}, fmt.Errorf("task %d: final_cost must be non-negative", r.ID)
	}
	if r.AssigneeID != nil && *r.AssigneeID <= 0 {
		return domain.Task{}, fmt.Errorf("task %d: assignee_id must be positive", r.ID)
	}

	loc := domain.Location{Address: strings.TrimSpace(r.Address)}
	switch {
	case r.Latitude != nil && r.Longitude != nil:
		c := geo.Coordinate{Lat: *r.Latitude, Lng: *r.Longitude}
		if err := c.Validate(); err != nil {
			return domain.Task{}, fmt.Errorf("task %d: %w", r.ID, err)
		}
		loc.Coordinate = &c
	case r.Latitude != nil || r.Longitude != nil:
		return domain.Task{}, fmt.Errorf("task %d: latitude and longitude must be set together", r.ID)
	}

	deps := slices.Clone(r.Dependencies)
	slices.Sort(deps)
	deps = slices.Compact(deps)
	if slices.Contains(deps, r.ID) {
		return domain.Task{}, fmt.Errorf("task %d: %w", r.ID, domain.ErrSelfDependency)
	}

	t := domain.Task{
		ID:                    r.ID,
		Description:           r.Description,
		Category:              r.Category,
		Location:              loc,
		EstimatedCost:         r.EstimatedCost,
		FinalCost:             r.FinalCost,
		Status:                status,
		Priority:              priority,
		Deadline:              r.Deadline,
		AssigneeID:            r.AssigneeID,
		RequiresDocumentation: r.RequiresDocumentation,
		Dependencies:          deps,
		Comments:              orEmpty(r.Comments),
		Attachments:           orEmpty(r.Attachments),
		BeforeScan:            r.BeforeScan,
		AfterScan:             r.AfterScan,
	}
	if t.Dependencies == nil {
		t.Dependencies = []int64{}
	}
	return t.Clone(), nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// FromTask is the inverse of Task, used for write-back.
func FromTask(t domain.Task) RawTask {
	r := RawTask{
		ID:                    t.ID,
		Description:           t.Description,
		Category:              t.Category,
		Address:               t.Location.Address,
		EstimatedCost:         t.EstimatedCost,
		FinalCost:             t.FinalCost,
		Status:                string(t.Status),
		Priority:              string(t.Priority),
		Deadline:              t.Deadline,
		AssigneeID:            t.AssigneeID,
		RequiresDocumentation: t.RequiresDocumentation,
		Dependencies:          t.Dependencies,
		Comments:              t.Comments,
		Attachments:           t.Attachments,
		BeforeScan:            t.BeforeScan,
		AfterScan:             t.AfterScan,
	}
	if c := t.Location.Coordinate; c != nil {
		lat, lng := c.Lat, c.Lng
		r.Latitude, r.Longitude = &lat, &lng
	}
	return r
}

func (r RawUser) User() (domain.User, error) {
	if r.ID <= 0 {
		return domain.User{}, fmt.Errorf("user id must be positive, got %d", r.ID)
	}
	name := strings.TrimSpace(r.Username)
	if name == "" {
		return domain.User{}, fmt.Errorf("user %d: username is required", r.ID)
	}
	role, err := domain.ParseRole(r.Role)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %d: %w", r.ID, err)
	}
	return domain.User{ID: r.ID, Username: name, Role: role}, nil
}

// Tasks converts a batch, rejecting duplicate ids.
func Tasks(raw []RawTask) ([]domain.Task, error) {
	out := make([]domain.Task, 0, len(raw))
	seen := make(map[int64]bool, len(raw))
	for _, r := range raw {
		t, err := r.Task()
		if err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %d", t.ID)
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out, nil
}

// Users converts a batch, rejecting duplicate ids and usernames.
func Users(raw []RawUser) ([]domain.User, error) {
	out := make([]domain.User, 0, len(raw))
	ids := make(map[int64]bool, len(raw))
	names := make(map[string]bool, len(raw))
	for _, r := range raw {
		u, err := r.User()
		if err != nil {
			return nil, err
		}
		if ids[u.ID] {
			return nil, fmt.Errorf("duplicate user id %d", u.ID)
		}
		if names[u.Username] {
			return nil, fmt.Errorf("duplicate username %q", u.Username)
		}
		ids[u.ID], names[u.Username] = true, true
		out = append(out, u)
	}
	return out, nil
}
