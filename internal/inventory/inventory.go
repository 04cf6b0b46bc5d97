// Package inventory tracks stock items, optionally reserved for a task.
package inventory

import (
	"context"
	"errors"
	"strings"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
)

type Item struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Location string `json:"location"`
	TaskID   *int64 `json:"task_id,omitempty"`
}

// Input is the writable part of an item. PUT replaces every field.
type Input struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Location string `json:"location"`
	TaskID   *int64 `json:"task_id,omitempty"`
}

type Repository interface {
	CreateItem(ctx context.Context, in Input) (Item, error)
	Item(ctx context.Context, id int64) (Item, error)
	Items(ctx context.Context) ([]Item, error)
	UpdateItem(ctx context.Context, id int64, in Input) (Item, error)
	DeleteItem(ctx context.Context, id int64) error
}

// Tasks resolves the task an item is reserved for.
type Tasks interface {
	Get(id int64) (domain.Task, error)
}

// Service gates every repository call behind ManageInventory and checks
// that a referenced task exists.
type Service struct {
	Repo  Repository
	Tasks Tasks
}

func authorize(requester *domain.User) error {
	if !auth.Authorize(requester, auth.ManageInventory) {
		return domain.Denied(0, auth.ManageInventory.MinRole, "inventory")
	}
	return nil
}

func (s *Service) validate(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	if in.Name == "" || in.Location == "" {
		return Input{}, domain.Errorf(domain.ErrPreconditionNotMet, 0, "name and location are required")
	}
	if in.Quantity < 0 {
		return Input{}, domain.Errorf(domain.ErrPreconditionNotMet, 0, "quantity must be non-negative")
	}
	if in.TaskID != nil {
		if _, err := s.Tasks.Get(*in.TaskID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return Input{}, domain.Errorf(domain.ErrPreconditionNotMet, *in.TaskID, "unknown task")
			}
			return Input{}, err
		}
	}
	return in, nil
}

func (s *Service) Create(ctx context.Context, requester *domain.User, in Input) (Item, error) {
	if err := authorize(requester); err != nil {
		return Item{}, err
	}
	in, err := s.validate(in)
	if err != nil {
		return Item{}, err
	}
	return s.Repo.CreateItem(ctx, in)
}

func (s *Service) Get(ctx context.Context, requester *domain.User, id int64) (Item, error) {
	if err := authorize(requester); err != nil {
		return Item{}, err
	}
	return s.Repo.Item(ctx, id)
}

func (s *Service) List(ctx context.Context, requester *domain.User) ([]Item, error) {
	if err := authorize(requester); err != nil {
		return nil, err
	}
	return s.Repo.Items(ctx)
}

func (s *Service) Update(ctx context.Context, requester *domain.User, id int64, in Input) (Item, error) {
	if err := authorize(requester); err != nil {
		return Item{}, err
	}
	in, err := s.validate(in)
	if err != nil {
		return Item{}, err
	}
	return s.Repo.UpdateItem(ctx, id, in)
}

func (s *Service) Delete(ctx context.Context, requester *domain.User, id int64) error {
	if err := authorize(requester); err != nil {
		return err
	}
	return s.Repo.DeleteItem(ctx, id)
}
