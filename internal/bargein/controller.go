// Package bargein implements the cancellation fabric described in spec
// §4.7: the single place that aborts an in-flight turn's LLM call, TTS
// stream, and stroke emission atomically, and that advances the session's
// turn epoch so any output already in flight is recognized as superseded.
//
// Controller itself never touches the WebSocket or the session's history —
// it only owns cancellation and epoch bookkeeping. Callers (the turn
// orchestrator, the STT pipeline's auto-barge gate) decide when to call
// [Controller.Trigger] and are responsible for sending the resulting
// outbound barge_in notice.
package bargein

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphoxa/internal/session"
)

// Controller is the barge-in cancellation fabric for one session. Safe for
// concurrent use.
type Controller struct {
	sess *session.Session

	mu          sync.Mutex
	activeEpoch uint64
	cancel      context.CancelFunc
}

// New creates a Controller bound to sess. sess's turn epoch counter is the
// source of truth for "which epoch is superseded".
func New(sess *session.Session) *Controller {
	return &Controller{sess: sess}
}

// Begin registers epoch as the currently producing turn and cancel as the
// means to abort its LLM call / TTS stream / stroke emission. Call this once
// per turn, immediately after reserving the epoch via
// [session.Session.NextEpoch].
func (c *Controller) Begin(epoch uint64, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeEpoch = epoch
	c.cancel = cancel
}

// End clears the active registration if it still matches epoch. A turn
// calls this on normal completion so a later Trigger does not invoke a
// stale cancel function. If epoch no longer matches (a newer turn already
// registered, or a Trigger already cleared it), End is a no-op.
func (c *Controller) End(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeEpoch == epoch {
		c.activeEpoch = 0
		c.cancel = nil
	}
}

// Trigger aborts whatever turn is currently active and advances the
// session's epoch so its remaining output is recognized as superseded.
// Returns the new epoch; the outbound barge_in notice itself carries no
// epoch. Two triggers in
// quick succession are idempotent: the second finds nothing active to
// cancel and still returns a freshly advanced epoch, leaving the session in
// the same state one trigger would have.
func (c *Controller) Trigger() uint64 {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.activeEpoch = 0
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	return c.sess.NextEpoch()
}

// ActiveEpoch reports the epoch currently registered as producing output,
// or 0 if none is active.
func (c *Controller) ActiveEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeEpoch
}

// Superseded reports whether epoch is no longer the session's current
// epoch, meaning any output tagged with it must be dropped at the gateway
// send step (spec §4.3 step 11, §4.7 step 4, testable property 5).
func (c *Controller) Superseded(epoch uint64) bool {
	return epoch != c.sess.CurrentEpoch()
}
