// Package panicerr turns panics in message handlers into ordinary errors so
// one bad task cannot take the whole subscriber down.
package panicerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// ErrPanic is wrapped by every error produced from a recovered panic.
var ErrPanic = errors.New("panic recovered")

// Safe wraps fn so that a panic comes back as an error wrapping ErrPanic.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if r := catcher.Recovered(); r != nil {
			return fmt.Errorf("%w: %w", ErrPanic, r.AsError())
		}
		return err
	}
}

// SafeContext is Safe for functions taking a context.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return Safe(func() error { return fn(ctx) })()
	}
}

// IsPanic reports whether err was produced from a recovered panic.
func IsPanic(err error) bool {
	return errors.Is(err, ErrPanic)
}
