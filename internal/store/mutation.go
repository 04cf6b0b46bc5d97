package store

import (
	"fieldservice-backend/internal/domain"
)

// Mutation is one of the request kinds accepted by ApplyMutation.
type Mutation interface {
	mutationName() string
}

type Transition struct {
	To         domain.Status
	AssigneeID *int64
}

type ChangePriority struct {
	Priority domain.Priority
}

type AddDependency struct {
	DependsOn int64
}

type RemoveDependency struct {
	DependsOn int64
}

type AddComment struct {
	Text string
}

type AddAttachment struct {
	Ref string
}

type ScanKind string

const (
	ScanBefore ScanKind = "before"
	ScanAfter  ScanKind = "after"
)

type RecordScan struct {
	Kind ScanKind
	Ref  string
}

type SetFinalCost struct {
	Amount float64
}

// SetLocation replaces the task location, typically with the output of an
// address validation.
type SetLocation struct {
	Location domain.Location
}

func (Transition) mutationName() string       { return "transition" }
func (ChangePriority) mutationName() string   { return "change_priority" }
func (AddDependency) mutationName() string    { return "add_dependency" }
func (RemoveDependency) mutationName() string { return "remove_dependency" }
func (AddComment) mutationName() string       { return "add_comment" }
func (AddAttachment) mutationName() string    { return "add_attachment" }
func (RecordScan) mutationName() string       { return "record_scan" }
func (SetFinalCost) mutationName() string     { return "set_final_cost" }
func (SetLocation) mutationName() string      { return "set_location" }

// Name returns the wire name of a mutation kind.
func Name(m Mutation) string { return m.mutationName() }

type Request struct {
	TaskID   int64
	Mutation Mutation
}
