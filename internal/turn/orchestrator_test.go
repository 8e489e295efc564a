package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/bargein"
	"github.com/MrWong99/glyphoxa/internal/llm"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/pkg/wire"
)

func TestSplitSentencesBasic(t *testing.T) {
	got := splitSentences("First step. Second step! Are we clear?")
	want := []string{"First step.", "Second step!", "Are we clear?"}
	if len(got) != len(want) {
		t.Fatalf("splitSentences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitSentences[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitSentencesNoBoundaryReturnsWhole(t *testing.T) {
	got := splitSentences("no terminal punctuation here")
	if len(got) != 1 || got[0] != "no terminal punctuation here" {
		t.Fatalf("splitSentences = %v", got)
	}
}

func TestSplitSentencesTrailingFragment(t *testing.T) {
	got := splitSentences("Done with that. Now try this")
	if len(got) != 2 {
		t.Fatalf("splitSentences = %v, want 2 entries", got)
	}
	if got[1] != "Now try this" {
		t.Fatalf("trailing fragment = %q", got[1])
	}
}

func TestSentenceBoundaryIgnoresMidNumberPeriod(t *testing.T) {
	idx := sentenceBoundary("pi is 3.14 roughly")
	if idx != -1 {
		t.Fatalf("sentenceBoundary = %d, want -1 for mid-number period", idx)
	}
}

func TestMarshalActionRoundTrips(t *testing.T) {
	action := wire.Action{Type: wire.ActionWrite, Content: "x", Format: wire.FormatText, Color: "#000000"}
	raw, err := marshalAction(action)
	if err != nil {
		t.Fatalf("marshalAction: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("marshalAction produced empty payload")
	}
}

func TestBoardContextNoteForEmptyBoard(t *testing.T) {
	sess := session.New("s1", session.Config{BoardTopMarginY: 40, BoardWriteX: 80})
	if got := boardContextNoteFor(sess, 700); got != "" {
		t.Fatalf("boardContextNoteFor = %q, want empty", got)
	}
}

func TestBoardContextNoteForNearlyFull(t *testing.T) {
	sess := session.New("s1", session.Config{BoardTopMarginY: 40, BoardWriteX: 80})
	sess.SetBoardCursorY(600)
	if got := boardContextNoteFor(sess, 700); got == "" {
		t.Fatalf("boardContextNoteFor returned empty, want nearly-full warning")
	}
}

// fakeGateway records every delivered message for assertions, distinguishing
// the always-delivered Send path from the epoch-gated SendIfCurrent path.
type fakeGateway struct {
	mu        sync.Mutex
	sent      []any
	sentEpoch []any
}

func (g *fakeGateway) Send(msg any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return nil
}

func (g *fakeGateway) SendIfCurrent(epoch uint64, msg any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sentEpoch = append(g.sentEpoch, msg)
	return nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *fakeGateway) stateUpdateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, m := range g.sentEpoch {
		if _, ok := m.(wire.StateUpdate); ok {
			n++
		}
	}
	return n
}

func newTestOrchestrator(gw *fakeGateway) (*Orchestrator, *session.Session) {
	sess := session.New("s1", session.Config{BoardTopMarginY: 40, BoardWriteX: 80})
	bg := bargein.New(sess)
	cfg := Config{VoiceID: "v1", BoardWidth: 1200, BoardHeight: 700}
	o := New(sess, bg, nil, nil, nil, gw, nil, cfg, nil)
	return o, sess
}

func TestOrchestratorBoardSnapshotDoesNotDispatchTurn(t *testing.T) {
	gw := &fakeGateway{}
	o, sess := newTestOrchestrator(gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	o.Submit(Event{Kind: EventBoardSnapshot, Snapshot: session.Snapshot{ImageBase64: "abc", Width: 800, Height: 600}})

	waitForCondition(t, func() bool {
		_, ok := sess.LastSnapshot()
		return ok
	})

	snap, ok := sess.LastSnapshot()
	if !ok || snap.ImageBase64 != "abc" {
		t.Fatalf("snapshot not recorded: %+v, ok=%v", snap, ok)
	}
	if snap.ReceivedAt.IsZero() {
		t.Fatalf("snapshot ReceivedAt not stamped")
	}

	cancel()
	<-done

	if gw.sendCount() != 0 {
		t.Fatalf("board snapshot must not trigger any outbound send, got %d", gw.sendCount())
	}
}

func TestOrchestratorBargeInSendsNotice(t *testing.T) {
	gw := &fakeGateway{}
	o, _ := newTestOrchestrator(gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	o.Submit(Event{Kind: EventBargeIn})

	waitForCondition(t, func() bool { return gw.sendCount() > 0 })

	cancel()
	<-done

	if gw.sendCount() != 1 {
		t.Fatalf("sendCount = %d, want 1 barge-in notice", gw.sendCount())
	}
	notice, ok := gw.sent[0].(wire.BargeInNotice)
	if !ok {
		t.Fatalf("sent message is not a BargeInNotice: %#v", gw.sent[0])
	}
	if notice.Type != wire.TypeBargeIn {
		t.Fatalf("notice.Type = %q", notice.Type)
	}
}

func TestSubmitDropsAfterClose(t *testing.T) {
	gw := &fakeGateway{}
	o, _ := newTestOrchestrator(gw)
	o.Close()

	// Must not panic sending on a closed channel.
	o.Submit(Event{Kind: EventBargeIn})
}

// fakeLLM returns a scripted [llm.Result] (or error) from Dispatch, firing
// earlySpeech through onSpeechReady first if set — mirroring how the real
// client fires speech the moment its JSON field closes, well before the
// rest of the turn is parsed.
type fakeLLM struct {
	earlySpeech string
	result      *llm.Result
	err         error
}

func (f *fakeLLM) Dispatch(ctx context.Context, t llm.Turn, onSpeechReady func(string)) (*llm.Result, error) {
	if f.earlySpeech != "" && onSpeechReady != nil {
		onSpeechReady(f.earlySpeech)
	}
	return f.result, f.err
}

// fakeTTS records every voiceID it was asked to synthesize with and returns
// one audio chunk per queued sentence.
type fakeTTS struct {
	mu     sync.Mutex
	calls  int
	voices []string
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, sentences <-chan string, voiceID string) (<-chan []byte, error) {
	f.mu.Lock()
	f.calls++
	f.voices = append(f.voices, voiceID)
	f.mu.Unlock()

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for range sentences {
			out <- []byte("audio")
		}
	}()
	return out, nil
}

// fakeLaTeX returns a fixed single-stroke batch for every Convert call.
type fakeLaTeX struct{}

func (fakeLaTeX) Convert(ctx context.Context, latexSrc, color string, position wire.Point, maxWidthPx float64, seed int64) wire.StrokeBatch {
	return wire.StrokeBatch{Strokes: []wire.Stroke{{Color: color, Points: []wire.StrokePoint{{X: position.X, Y: position.Y}}}}}
}

func newDispatchTestOrchestrator(gw *fakeGateway, llmC *fakeLLM, ttsC *fakeTTS) (*Orchestrator, *session.Session) {
	sess := session.New("s1", session.Config{BoardTopMarginY: 40, BoardWriteX: 80})
	bg := bargein.New(sess)
	cfg := Config{VoiceID: "v1", BoardWidth: 1200, BoardHeight: 700}
	o := New(sess, bg, llmC, ttsC, fakeLaTeX{}, gw, nil, cfg, nil)
	return o, sess
}

// TestDispatchEmptySpeechDropsTurnEvenWhenNotSynthetic guards against a
// regression where the empty/invalid-response guard only fired for
// synthetic proactive-check turns: a normal transcript turn whose LLM
// response parses to an empty speech field must still commit no tutor turn
// and send no state update.
func TestDispatchEmptySpeechDropsTurnEvenWhenNotSynthetic(t *testing.T) {
	gw := &fakeGateway{}
	llmC := &fakeLLM{result: &llm.Result{Speech: "", TutorState: session.ModeGuiding}}
	o, sess := newDispatchTestOrchestrator(gw, llmC, &fakeTTS{})

	o.dispatch(context.Background(), sess.CurrentEpoch(), "hello", false)

	if got := len(sess.History()); got != 0 {
		t.Fatalf("history length = %d, want 0 (no tutor turn committed)", got)
	}
	if got := gw.stateUpdateCount(); got != 0 {
		t.Fatalf("state updates = %d, want 0 (no state update sent)", got)
	}
}

// TestDispatchNonEmptySpeechCommitsTurnAndSendsState is the S1 happy-path
// scenario: a valid non-empty response commits a tutor turn, streams speech
// to TTS, and sends a state update.
func TestDispatchNonEmptySpeechCommitsTurnAndSendsState(t *testing.T) {
	gw := &fakeGateway{}
	ttsC := &fakeTTS{}
	llmC := &fakeLLM{result: &llm.Result{Speech: "Let's factor this.", TutorState: session.ModeGuiding, WaitForStudent: true}}
	o, sess := newDispatchTestOrchestrator(gw, llmC, ttsC)

	o.dispatch(context.Background(), sess.CurrentEpoch(), "how do I factor x^2-4", false)

	history := sess.History()
	if len(history) != 1 || history[0].Role != session.RoleTutor || history[0].Content != "Let's factor this." {
		t.Fatalf("history = %+v, want one committed tutor turn", history)
	}
	if ttsC.calls != 1 {
		t.Fatalf("tts calls = %d, want 1", ttsC.calls)
	}
	if got := gw.stateUpdateCount(); got != 1 {
		t.Fatalf("state updates = %d, want 1 state update", got)
	}
}

// TestDispatchRebasesWriteBelowStudentDrawing guards against a regression
// where a tutor write landed on top of student content: the session's
// recorded board max Y must push the write's placement down even though
// the board cursor itself is still near the top.
func TestDispatchRebasesWriteBelowStudentDrawing(t *testing.T) {
	gw := &fakeGateway{}
	action := wire.Action{Type: wire.ActionWrite, Content: "x = 2", Format: wire.FormatText}
	llmC := &fakeLLM{result: &llm.Result{Speech: "Here.", TutorState: session.ModeDemonstrating, Actions: []wire.Action{action}}}
	o, sess := newDispatchTestOrchestrator(gw, llmC, &fakeTTS{})

	sess.SetBoardCursorY(40)
	sess.SetBoardMaxY(400)

	o.dispatch(context.Background(), sess.CurrentEpoch(), "show me", false)

	found := false
	for _, m := range gw.sentEpoch {
		if _, ok := m.(wire.Strokes); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("no strokes message sent")
	}
	// The write was placed at boardMaxY(400)+margin(24)=424, then the
	// cursor advances by one line step (52): a stale-cursor rebase (using
	// only the pre-write cursor of 40) would instead leave it at 92.
	if got := sess.BoardCursorY(); got != 476 {
		t.Fatalf("BoardCursorY = %d, want 476 (write placed below student drawing)", got)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}
