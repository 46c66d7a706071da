package incident

import (
	"context"
	"errors"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/bus"
)

// Run consumes the subscription until the context is cancelled or the
// bus closes. Per-event errors (unknown trace, terminal trace) are
// already logged by Apply and never stop the loop.
func (m *Manager) Run(ctx context.Context, sub *bus.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}
		_ = m.Apply(ev)
	}
}
