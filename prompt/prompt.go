// Package prompt asks the operator to acknowledge a checkpoint before the
// machine continues.
package prompt

import (
	"context"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
)

// ErrAborted is returned when the operator declines a checkpoint.
var ErrAborted = errors.New("aborted by operator")

// Confirmer blocks until message is acknowledged.
type Confirmer interface {
	Confirm(ctx context.Context, message string) error
}

// None acknowledges every checkpoint immediately.
type None struct{}

func (None) Confirm(context.Context, string) error { return nil }

// Func adapts a function to Confirmer.
type Func func(ctx context.Context, message string) error

func (f Func) Confirm(ctx context.Context, message string) error { return f(ctx, message) }

// Terminal asks on the controlling terminal.
type Terminal struct {
	// Accessible renders plain line prompts for screen readers and dumb
	// terminals.
	Accessible bool
	In         io.Reader
	Out        io.Writer
}

func (t *Terminal) Confirm(ctx context.Context, message string) error {
	ok := true
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(message).
			Affirmative("Continue").
			Negative("Abort").
			Value(&ok),
	)).WithAccessible(t.Accessible)
	if t.In != nil {
		form = form.WithInput(t.In)
	}
	if t.Out != nil {
		form = form.WithOutput(t.Out)
	}
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}
