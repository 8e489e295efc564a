package resilience

import (
	"errors"
	"time"
)

// RetryBackoff is the pause between a failed first attempt and its single
// retry.
const RetryBackoff = 200 * time.Millisecond

// RetryOnce runs fn through breaker. If fn fails and the breaker did not
// reject the call outright (it was not already open), RetryOnce waits
// RetryBackoff and tries fn exactly once more through the same breaker
// before giving up.
//
// This implements the "one retry" policy spec.md §7 assigns to upstream
// STT and TTS provider failures — timeouts, 5xx responses, stream aborts.
// The LLM path does not use RetryOnce: a failed LLM turn is treated as an
// empty response with no tutor turn committed, handled directly by the
// caller rather than retried.
func RetryOnce(breaker *CircuitBreaker, fn func() error) error {
	err := breaker.Execute(fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return err
	}
	time.Sleep(RetryBackoff)
	return breaker.Execute(fn)
}
