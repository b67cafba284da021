// Package fetch carries the outcome of a store read across the adapter boundary.
//
// Adapters build a Result internally so that a store failure stays distinct from an
// empty answer. At the boundary Soften reports the failure to an Observer and hands
// the caller the zero value, which is what the fallback logic keys on.
package fetch

import (
	"fmt"

	"github.com/gammarips/overnightedge/internal/logger"
)

// Failure describes a store-level fault: connectivity, query plan, decoding.
type Failure struct {
	Store string
	Op    string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Store, f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is either a value or a Failure.
type Result[T any] struct {
	value   T
	failure *Failure
}

// Ok wraps a successful read.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps a failed read.
func Fail[T any](store, op string, err error) Result[T] {
	return Result[T]{failure: &Failure{Store: store, Op: op, Err: err}}
}

// Failure returns the failure, or nil when the read succeeded.
func (r Result[T]) Failure() *Failure {
	return r.failure
}

// Value returns the read value. It is the zero value when the read failed.
func (r Result[T]) Value() T {
	return r.value
}

// Observer is told about every read at a store boundary. f is nil on success.
type Observer interface {
	Observe(store string, f *Failure)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(store string, f *Failure)

func (fn ObserverFunc) Observe(store string, f *Failure) { fn(store, f) }

// Soften collapses r to its value. A failure is logged, reported to obs (which may
// be nil), and replaced by the zero value.
func Soften[T any](store string, r Result[T], obs Observer) T {
	if obs != nil {
		obs.Observe(store, r.failure)
	}
	if r.failure != nil {
		logger.Warn("Store read degraded to empty result: %v", r.failure)
		var zero T
		return zero
	}
	return r.value
}
