package stt

import (
	"testing"
	"time"
)

func testConfig() GateConfig {
	return GateConfig{
		EchoCooldown:           1200 * time.Millisecond,
		AutoBargeDebounce:      500 * time.Millisecond,
		BargeStartGuard:        250 * time.Millisecond,
		AutoBargeConfirmWindow: 1500 * time.Millisecond,
		MergeWindow:            800 * time.Millisecond,
	}
}

func TestSpeechStartManualAlwaysBargesIn(t *testing.T) {
	g := NewGate(testConfig())
	if !g.SpeechStart(true, time.Now()) {
		t.Fatalf("manual speech start did not trigger barge-in")
	}
}

func TestSpeechStartSTTIgnoredWhenTutorNotSpeaking(t *testing.T) {
	g := NewGate(testConfig())
	if g.SpeechStart(false, time.Now()) {
		t.Fatalf("stt speech start triggered barge-in while tutor silent")
	}
}

func TestSpeechStartWithinStartGuardIsIgnored(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSStart(base)

	if bargedIn := g.SpeechStart(false, base.Add(100*time.Millisecond)); bargedIn {
		t.Fatalf("speech start within guard window directly triggered barge-in")
	}
	// And it must not even arm a pending confirmation.
	if _, accepted, _ := g.FinalTranscript("are you there", base.Add(150*time.Millisecond)); !accepted {
		t.Fatalf("transcript unexpectedly rejected")
	}
}

func TestSpeechStartPastGuardArmsConfirmation(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSStart(base)

	g.SpeechStart(false, base.Add(300*time.Millisecond))

	bargeIn, accepted, _ := g.FinalTranscript("wait stop", base.Add(500*time.Millisecond))
	if !accepted {
		t.Fatalf("transcript rejected")
	}
	if !bargeIn {
		t.Fatalf("confirming transcript within window did not trigger barge-in")
	}
}

func TestAutoBargeConfirmationExpiresAfterWindow(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSStart(base)
	g.SpeechStart(false, base.Add(300*time.Millisecond))

	bargeIn, _, _ := g.FinalTranscript("too late", base.Add(300*time.Millisecond+2*time.Second))
	if bargeIn {
		t.Fatalf("stale pending auto-barge was confirmed after the window elapsed")
	}
}

func TestFinalTranscriptSuppressesEcho(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSEnd("the derivative of x squared is two x")
	g.NotifyTTSChunkSent(base)

	_, accepted, _ := g.FinalTranscript("the derivative of x squared is two x", base.Add(200*time.Millisecond))
	if accepted {
		t.Fatalf("echoed transcript was accepted")
	}
}

func TestFinalTranscriptAcceptsAfterEchoCooldown(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSEnd("the derivative of x squared is two x")
	g.NotifyTTSChunkSent(base)

	_, accepted, merged := g.FinalTranscript("I think it's two x", base.Add(2*time.Second))
	if !accepted {
		t.Fatalf("transcript rejected after cooldown elapsed")
	}
	if merged != "I think it's two x" {
		t.Fatalf("merged = %q", merged)
	}
}

func TestFinalTranscriptMergesWithinWindow(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()

	_, _, m1 := g.FinalTranscript("I think", base)
	_, _, m2 := g.FinalTranscript("it's four", base.Add(300*time.Millisecond))

	if m1 != "I think" {
		t.Fatalf("first chunk merged = %q", m1)
	}
	if m2 != "I think it's four" {
		t.Fatalf("second chunk merged = %q", m2)
	}
}

func TestFinalTranscriptStartsFreshBufferAfterMergeWindowLapses(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()

	g.FinalTranscript("first sentence", base)
	_, _, merged := g.FinalTranscript("second sentence", base.Add(2*time.Second))

	if merged != "second sentence" {
		t.Fatalf("merged = %q, want fresh buffer", merged)
	}
}

func TestFlushReturnsFalseBeforeMergeWindowElapses(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.FinalTranscript("hello", base)

	if _, ok := g.Flush(base.Add(100 * time.Millisecond)); ok {
		t.Fatalf("Flush fired before the merge window elapsed")
	}
}

func TestFlushReturnsMergedTextAfterMergeWindow(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.FinalTranscript("hello there", base)

	text, ok := g.Flush(base.Add(900 * time.Millisecond))
	if !ok {
		t.Fatalf("Flush did not fire after the merge window elapsed")
	}
	if text != "hello there" {
		t.Fatalf("Flush text = %q", text)
	}

	if _, ok := g.Flush(base.Add(1000 * time.Millisecond)); ok {
		t.Fatalf("Flush fired twice for the same buffer")
	}
}

func TestMergeDebounceReturnsMergeWindow(t *testing.T) {
	g := NewGate(testConfig())
	if got := g.MergeDebounce(); got != 800*time.Millisecond {
		t.Fatalf("MergeDebounce = %v, want the configured MergeWindow (800ms)", got)
	}
}

func TestAutoBargeDebounceSuppressesSecondConsecutiveBarge(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSStart(base)
	g.SpeechStart(false, base.Add(300*time.Millisecond))
	if bargeIn, _, _ := g.FinalTranscript("stop", base.Add(400*time.Millisecond)); !bargeIn {
		t.Fatalf("first auto-barge was not confirmed")
	}

	// The first barge-in is followed by NotifyInterrupted, clearing the
	// barge-in state; the tutor then starts a new reply almost immediately.
	g.NotifyInterrupted()
	g.NotifyTTSStart(base.Add(450 * time.Millisecond))
	g.SpeechStart(false, base.Add(750*time.Millisecond))

	// Confirmed only 400ms after the first barge-in (well within the
	// 500ms AutoBargeDebounce) must not fire a second barge-in.
	if bargeIn, _, _ := g.FinalTranscript("wait", base.Add(800*time.Millisecond)); bargeIn {
		t.Fatalf("second auto-barge fired within the debounce window")
	}
}

func TestAutoBargeDebounceAllowsBargeAfterIntervalElapses(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSStart(base)
	g.SpeechStart(false, base.Add(300*time.Millisecond))
	if bargeIn, _, _ := g.FinalTranscript("stop", base.Add(400*time.Millisecond)); !bargeIn {
		t.Fatalf("first auto-barge was not confirmed")
	}

	g.NotifyInterrupted()
	g.NotifyTTSStart(base.Add(900 * time.Millisecond))
	g.SpeechStart(false, base.Add(1200*time.Millisecond))

	// Confirmed 850ms after the first barge-in (past the 500ms debounce)
	// must be allowed to barge in again.
	if bargeIn, _, _ := g.FinalTranscript("wait", base.Add(1250*time.Millisecond)); !bargeIn {
		t.Fatalf("second auto-barge past the debounce window was suppressed")
	}
}

func TestNotifyInterruptedClearsPendingAutoBarge(t *testing.T) {
	g := NewGate(testConfig())
	base := time.Now()
	g.NotifyTTSStart(base)
	g.SpeechStart(false, base.Add(300*time.Millisecond))

	g.NotifyInterrupted()

	bargeIn, _, _ := g.FinalTranscript("anything", base.Add(400*time.Millisecond))
	if bargeIn {
		t.Fatalf("cleared pending auto-barge still confirmed")
	}
}
