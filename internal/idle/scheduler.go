// Package idle runs the per-session proactive check scheduler: a periodic
// tick that, when the student has gone quiet for long enough and has drawn
// something recently, synthesizes a proactive_check event for the turn
// orchestrator instead of waiting indefinitely for the next transcript.
package idle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/turn"
)

// defaultTickInterval is how often the scheduler re-evaluates its
// conditions. It is independent of IdleSilence/ProactiveInterval, which are
// the thresholds it compares elapsed time against.
const defaultTickInterval = 2 * time.Second

// recentDrawingWindow bounds how long after a board snapshot arrives the
// scheduler still considers it "recent" for the purposes of a proactive
// check.
const recentDrawingWindow = 30 * time.Second

// Dispatcher is the narrow surface the scheduler needs from the turn
// orchestrator.
type Dispatcher interface {
	Submit(ev turn.Event)
}

// Scheduler watches one session and submits EventProactiveCheck to its
// orchestrator when the student has been silent past IdleSilence, has drawn
// something in the last [recentDrawingWindow], and at least
// ProactiveInterval has elapsed since the last proactive check.
type Scheduler struct {
	sess         *session.Session
	dispatcher   Dispatcher
	idleSilence  time.Duration
	minInterval  time.Duration
	tickInterval time.Duration
	log          *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides how often the scheduler re-evaluates its
// conditions. Mainly useful in tests to avoid a multi-second wait.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// New creates a Scheduler for sess. idleSilence is how long the student must
// be quiet before a proactive check is considered; minInterval is the
// minimum gap enforced between two proactive checks.
func New(sess *session.Session, dispatcher Dispatcher, idleSilence, minInterval time.Duration, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		sess:         sess,
		dispatcher:   dispatcher,
		idleSilence:  idleSilence,
		minInterval:  minInterval,
		tickInterval: defaultTickInterval,
		log:          log,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until Stop is called. It is meant to be started in its own
// goroutine, one per session, for the lifetime of the WebSocket connection.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.check(time.Now())
		}
	}
}

// Stop ends the scheduler's tick loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// check evaluates the three gating conditions and submits a proactive_check
// event if all hold.
func (s *Scheduler) check(now time.Time) {
	if now.Sub(s.sess.LastInteraction()) < s.idleSilence {
		return
	}
	if !s.sess.LastProactiveAt().IsZero() && now.Sub(s.sess.LastProactiveAt()) < s.minInterval {
		return
	}
	snap, ok := s.sess.LastSnapshot()
	if !ok || now.Sub(snap.ReceivedAt) > recentDrawingWindow {
		return
	}

	s.sess.MarkProactive(now)
	s.log.Debug("idle: dispatching proactive check", "session_id", s.sess.ID)
	s.dispatcher.Submit(turn.Event{Kind: turn.EventProactiveCheck})
}
