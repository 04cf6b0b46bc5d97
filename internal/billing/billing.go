// Package billing builds customer estimates and invoices from tasks.
package billing

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
)

// Header identifies who a document is for.
type Header struct {
	Region  string `json:"region"`
	Store   string `json:"store"`
	Manager string `json:"manager"`
}

// Stamp records who created and last revised a document.
type Stamp struct {
	CreatedBy int64      `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedBy *int64     `json:"updated_by,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (s Stamp) revised(by int64, now time.Time) Stamp {
	at := now.UTC()
	s.UpdatedBy, s.UpdatedAt = &by, &at
	return s
}

type Estimate struct {
	Header
	Stamp

	ID                 uuid.UUID `json:"id"`
	TaskIDs            []int64   `json:"task_ids"`
	TotalEstimatedCost float64   `json:"total_estimated_cost"`
}

type Invoice struct {
	Header
	Stamp

	ID             uuid.UUID `json:"id"`
	TaskIDs        []int64   `json:"task_ids"`
	TotalFinalCost float64   `json:"total_final_cost"`
}

// Authorize reports whether requester may read or write billing documents.
func Authorize(requester *domain.User) error {
	if !auth.Authorize(requester, auth.ManageBilling) {
		return domain.Denied(0, auth.ManageBilling.MinRole, "billing")
	}
	return nil
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}

func check(requester *domain.User, h Header, tasks []domain.Task) ([]int64, error) {
	if err := Authorize(requester); err != nil {
		return nil, err
	}
	if strings.TrimSpace(h.Region) == "" || strings.TrimSpace(h.Store) == "" {
		return nil, domain.Errorf(domain.ErrPreconditionNotMet, 0, "region and store are required")
	}
	if len(tasks) == 0 {
		return nil, domain.Errorf(domain.ErrPreconditionNotMet, 0, "no tasks")
	}
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		if slices.Contains(ids, t.ID) {
			return nil, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "task listed twice")
		}
		ids = append(ids, t.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

// NewEstimate quotes the estimated cost of tasks. Cancelled work cannot be
// quoted.
func NewEstimate(requester *domain.User, h Header, tasks []domain.Task, now time.Time) (Estimate, error) {
	ids, total, err := estimate(requester, h, tasks)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Header:             h,
		Stamp:              Stamp{CreatedBy: requester.ID, CreatedAt: now.UTC()},
		ID:                 uuid.New(),
		TaskIDs:            ids,
		TotalEstimatedCost: total,
	}, nil
}

// ReviseEstimate replaces every field of prev except its identity and
// creation stamp, recomputing the total from tasks.
func ReviseEstimate(requester *domain.User, prev Estimate, h Header, tasks []domain.Task, now time.Time) (Estimate, error) {
	ids, total, err := estimate(requester, h, tasks)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Header:             h,
		Stamp:              prev.Stamp.revised(requester.ID, now),
		ID:                 prev.ID,
		TaskIDs:            ids,
		TotalEstimatedCost: total,
	}, nil
}

func estimate(requester *domain.User, h Header, tasks []domain.Task) ([]int64, float64, error) {
	ids, err := check(requester, h, tasks)
	if err != nil {
		return nil, 0, err
	}
	var total float64
	for _, t := range tasks {
		if t.Status == domain.StatusCancelled {
			return nil, 0, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "task is cancelled")
		}
		total += t.EstimatedCost
	}
	return ids, cents(total), nil
}

// NewInvoice bills completed work at its final cost.
func NewInvoice(requester *domain.User, h Header, tasks []domain.Task, now time.Time) (Invoice, error) {
	ids, total, err := invoice(requester, h, tasks)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{
		Header:         h,
		Stamp:          Stamp{CreatedBy: requester.ID, CreatedAt: now.UTC()},
		ID:             uuid.New(),
		TaskIDs:        ids,
		TotalFinalCost: total,
	}, nil
}

// ReviseInvoice is ReviseEstimate for invoices.
func ReviseInvoice(requester *domain.User, prev Invoice, h Header, tasks []domain.Task, now time.Time) (Invoice, error) {
	ids, total, err := invoice(requester, h, tasks)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{
		Header:         h,
		Stamp:          prev.Stamp.revised(requester.ID, now),
		ID:             prev.ID,
		TaskIDs:        ids,
		TotalFinalCost: total,
	}, nil
}

func invoice(requester *domain.User, h Header, tasks []domain.Task) ([]int64, float64, error) {
	ids, err := check(requester, h, tasks)
	if err != nil {
		return nil, 0, err
	}
	var total float64
	for _, t := range tasks {
		if t.Status != domain.StatusCompleted {
			return nil, 0, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "task is %s, not Completed", t.Status)
		}
		if t.FinalCost == nil {
			return nil, 0, domain.Errorf(domain.ErrPreconditionNotMet, t.ID, "final cost missing")
		}
		total += *t.FinalCost
	}
	return ids, cents(total), nil
}
