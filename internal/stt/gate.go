// Package stt streams the student's microphone audio to a speech
// recognition provider and decides, from the raw transcript and
// speech-detection events it returns, what the rest of the system should
// do with them: fold consecutive final chunks into one merged utterance,
// suppress transcripts that are really the tutor's own voice leaking back
// through an open microphone, and confirm or reject a candidate barge-in.
package stt

import (
	"strings"
	"time"
)

// GateConfig tunes the echo-suppression, auto-barge-in confirmation, and
// final-transcript merge behavior.
type GateConfig struct {
	// EchoCooldown is how long after a tutor audio chunk is sent a final
	// transcript resembling the tutor's own last utterance is suppressed.
	EchoCooldown time.Duration

	// AutoBargeDebounce is the minimum time that must separate two
	// confirmed auto-barge-ins. A voice-activity event confirmed within
	// this window of the previous auto-barge is dropped rather than
	// interrupting the tutor a second time in quick succession.
	AutoBargeDebounce time.Duration

	// BargeStartGuard is the grace period right after tutor audio starts
	// during which an STT speech-start event is ignored outright, since it
	// is very likely the provider picking up the tutor's own voice.
	BargeStartGuard time.Duration

	// AutoBargeConfirmWindow is how long a pending auto-barge (armed by an
	// STT speech-start event past the start guard) stays eligible to be
	// confirmed by an actual final transcript.
	AutoBargeConfirmWindow time.Duration

	// MergeWindow is the maximum gap between two consecutive final chunks
	// for them to be folded into the same merged utterance.
	MergeWindow time.Duration
}

// DefaultGateConfig returns the tuning defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		EchoCooldown:           1200 * time.Millisecond,
		AutoBargeDebounce:      500 * time.Millisecond,
		BargeStartGuard:        250 * time.Millisecond,
		AutoBargeConfirmWindow: 1500 * time.Millisecond,
		MergeWindow:            800 * time.Millisecond,
	}
}

// Gate decides, for each raw STT event, whether it is noise, part of a
// pending merged utterance, or an immediate barge-in. Gate performs no I/O
// and owns no goroutines: every decision is a pure function of its
// internal state plus an explicit "now" the caller supplies, which keeps it
// deterministic to test against a synthetic clock.
//
// Gate is not safe for concurrent use; callers serialize access to it
// through the same goroutine that reads STT events, as the turn
// orchestrator does.
type Gate struct {
	cfg GateConfig

	ttsActive       bool
	ttsStartedAt    time.Time
	lastTTSSentAt   time.Time
	lastTutorSpeech string

	pendingAutoBarge   bool
	pendingAutoBargeAt time.Time
	lastAutoBargeAt    time.Time

	mergeOpen   bool
	mergeLastAt time.Time
	mergeText   strings.Builder
}

// NewGate constructs a Gate with the given tuning.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// NotifyTTSStart records that tutor audio began playing at now, arming the
// start-guard window.
func (g *Gate) NotifyTTSStart(now time.Time) {
	g.ttsActive = true
	g.ttsStartedAt = now
}

// NotifyTTSChunkSent records that a tutor audio chunk was sent at now,
// refreshing the echo-cooldown window.
func (g *Gate) NotifyTTSChunkSent(now time.Time) {
	g.lastTTSSentAt = now
}

// NotifyTTSEnd marks the tutor as no longer speaking and records the
// complete spoken utterance for echo comparison on the next turn.
func (g *Gate) NotifyTTSEnd(utterance string) {
	g.ttsActive = false
	g.lastTutorSpeech = utterance
}

// NotifyInterrupted clears all barge-in-related state after a barge-in has
// been dispatched, so the now-cancelled turn's tail audio cannot trigger a
// second spurious echo suppression or auto-barge confirmation.
func (g *Gate) NotifyInterrupted() {
	g.ttsActive = false
	g.lastTTSSentAt = time.Time{}
	g.pendingAutoBarge = false
}

// SpeechStart processes a speech-detection event. manual is true for an
// explicit client barge-in request, which always barges in immediately;
// false for the STT provider's own voice-activity event, which only arms a
// pending auto-barge that a subsequent transcript must confirm.
//
// Returns true if this call should trigger an immediate barge-in.
func (g *Gate) SpeechStart(manual bool, now time.Time) bool {
	if manual {
		return true
	}
	if !g.ttsActive {
		return false
	}
	if now.Sub(g.ttsStartedAt) < g.cfg.BargeStartGuard {
		return false
	}
	g.pendingAutoBarge = true
	g.pendingAutoBargeAt = now
	return false
}

// FinalTranscript processes one final transcript chunk arriving at now.
// bargeIn is true if this chunk confirms a pending auto-barge armed by an
// earlier SpeechStart call. accepted is false if the chunk was dropped as
// an echo of the tutor's own last utterance, in which case merged is
// whatever had already accumulated in the buffer, unchanged. Otherwise
// merged is the buffer's contents after folding this chunk in.
func (g *Gate) FinalTranscript(text string, now time.Time) (bargeIn, accepted bool, merged string) {
	if g.pendingAutoBarge {
		withinConfirmWindow := now.Sub(g.pendingAutoBargeAt) <= g.cfg.AutoBargeConfirmWindow
		debounced := !g.lastAutoBargeAt.IsZero() && now.Sub(g.lastAutoBargeAt) < g.cfg.AutoBargeDebounce
		if withinConfirmWindow && !debounced {
			bargeIn = true
			g.lastAutoBargeAt = now
		}
		g.pendingAutoBarge = false
	}

	if g.isEcho(text, now) {
		return bargeIn, false, g.currentMerge()
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return bargeIn, false, g.currentMerge()
	}

	if g.mergeOpen && now.Sub(g.mergeLastAt) <= g.cfg.MergeWindow {
		g.mergeText.WriteString(" ")
	} else {
		g.mergeText.Reset()
		g.mergeOpen = true
	}
	g.mergeText.WriteString(trimmed)
	g.mergeLastAt = now

	return bargeIn, true, g.mergeText.String()
}

// Flush reports whether the merge buffer has sat idle for at least
// MergeWindow since the last accepted chunk. If so it returns the complete
// merged utterance and clears the buffer. Callers arm a timer for
// MergeDebounce after each accepted FinalTranscript call and invoke Flush
// when it fires.
func (g *Gate) Flush(now time.Time) (string, bool) {
	if !g.mergeOpen {
		return "", false
	}
	if now.Sub(g.mergeLastAt) < g.cfg.MergeWindow {
		return "", false
	}
	text := g.mergeText.String()
	g.mergeText.Reset()
	g.mergeOpen = false
	return text, true
}

// MergeDebounce returns the configured idle period a caller should wait
// after an accepted FinalTranscript before calling Flush, per Flush's doc.
func (g *Gate) MergeDebounce() time.Duration {
	return g.cfg.MergeWindow
}

func (g *Gate) currentMerge() string {
	if !g.mergeOpen {
		return ""
	}
	return g.mergeText.String()
}

// isEcho reports whether text closely matches the tutor's last spoken
// utterance within the echo-cooldown window following the last tutor audio
// chunk sent.
func (g *Gate) isEcho(text string, now time.Time) bool {
	if g.lastTutorSpeech == "" || g.lastTTSSentAt.IsZero() {
		return false
	}
	if now.Sub(g.lastTTSSentAt) > g.cfg.EchoCooldown {
		return false
	}
	return similar(text, g.lastTutorSpeech)
}

// similar reports whether a and b are the same utterance modulo case,
// surrounding whitespace, and one being a prefix/suffix truncation of the
// other — the shape an echoed partial transcript typically takes.
func similar(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(b, a) || strings.Contains(a, b)
}
