package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrPreconditionNotMet     = errors.New("precondition not met")
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	ErrSelfDependency         = errors.New("self dependency")
	ErrCyclicDependency       = errors.New("cyclic dependency")
	ErrInvalidQuery           = errors.New("invalid query")
	ErrNotFound               = errors.New("not found")
)

// Error carries the context a caller needs to act on a rejected request.
type Error struct {
	Kind     error
	TaskID   int64
	Blocking []int64
	Required Role
	Msg      string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.TaskID != 0 {
		b.WriteString(": task ")
		b.WriteString(strconv.FormatInt(e.TaskID, 10))
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Blocking) > 0 {
		ids := make([]string, len(e.Blocking))
		for i, id := range e.Blocking {
			ids[i] = strconv.FormatInt(id, 10)
		}
		b.WriteString(" (blocked by ")
		b.WriteString(strings.Join(ids, ", "))
		b.WriteString(")")
	}
	if e.Required != "" {
		b.WriteString(" (requires ")
		b.WriteString(string(e.Required))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func Errorf(kind error, taskID int64, format string, args ...any) error {
	return &Error{Kind: kind, TaskID: taskID, Msg: fmt.Sprintf(format, args...)}
}

func Denied(taskID int64, required Role, format string, args ...any) error {
	return &Error{Kind: ErrPermissionDenied, TaskID: taskID, Required: required, Msg: fmt.Sprintf(format, args...)}
}

func Blocked(taskID int64, blocking []int64) error {
	return &Error{Kind: ErrDependencyNotSatisfied, TaskID: taskID, Blocking: blocking}
}

func InvalidQuery(format string, args ...any) error {
	return &Error{Kind: ErrInvalidQuery, Msg: fmt.Sprintf(format, args...)}
}
