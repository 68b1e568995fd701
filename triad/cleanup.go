package triad

import (
	"context"

	"go.uber.org/zap"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// undoStack releases partially constructed resources in reverse order of
// acquisition. Once construction succeeds the stack is disarmed.
type undoStack struct {
	steps []undoStep
}

func (u *undoStack) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// unwind runs every pending step, most recent first. A failing step does not
// stop the remaining ones; the first error is returned.
func (u *undoStack) unwind(ctx context.Context) error {
	var firstErr error
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			Logger().Warn("undo step failed",
				zap.String("step", step.name),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	u.steps = nil
	return firstErr
}

func (u *undoStack) disarm() {
	u.steps = nil
}
