// Package capture talks to the outside services that turn field input
// into data the core stores: address validation and receipt OCR. Each
// concern is a small interface plus a first-success chain over providers.
// Room layouts are captured on the device and arrive as attachment refs.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
)

var (
	ErrNoMatch    = errors.New("no match")
	ErrNoProvider = errors.New("no provider configured")
	ErrEmptyInput = errors.New("empty input")
)

// CaptureError wraps a provider failure unmodified.
type CaptureError struct {
	Op       string
	Provider string
	Err      error
}

func (e *CaptureError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("capture %s via %s: %v", e.Op, e.Provider, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// firstSuccess runs attempt against each provider in order and returns the
// first result. Every failure is kept so the caller sees why all failed.
func firstSuccess[P any, R any](ctx context.Context, op string, providers []P, name func(P) string, attempt func(context.Context, P) (R, error)) (R, error) {
	var zero R
	if len(providers) == 0 {
		return zero, &CaptureError{Op: op, Err: ErrNoProvider}
	}

	var errs []error
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, err := attempt(ctx, p)
		if err == nil {
			return res, nil
		}
		log.Printf("[WARN] %s via %s failed: %v", op, name(p), err)
		errs = append(errs, &CaptureError{Op: op, Provider: name(p), Err: err})
	}
	return zero, &CaptureError{Op: op, Err: errors.Join(errs...)}
}
