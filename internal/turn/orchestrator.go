// Package turn is the state machine that dispatches one tutoring turn at a
// time: it pulls the next trigger off a single input queue, sends the
// conversation to the LLM, streams speech to TTS the instant it is known,
// synthesizes and rebases any board actions, and emits everything to the
// client tagged with the turn's epoch so a barge-in can drop whatever
// becomes stale.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/internal/bargein"
	"github.com/MrWong99/glyphoxa/internal/llm"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/stroke"
	"github.com/MrWong99/glyphoxa/internal/tts"
	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// EventKind discriminates the trigger that put an Event on the queue.
type EventKind int

const (
	// EventSessionStart begins the conversation with a greeting turn.
	EventSessionStart EventKind = iota
	// EventTranscript dispatches a turn from a completed student utterance.
	EventTranscript
	// EventProactiveCheck dispatches a synthetic turn checking the
	// student's board work during a silence.
	EventProactiveCheck
	// EventBoardSnapshot records a new whiteboard raster without
	// dispatching a turn.
	EventBoardSnapshot
	// EventBargeIn immediately cancels any in-flight turn.
	EventBargeIn
)

// Event is one entry on the orchestrator's input queue.
type Event struct {
	Kind     EventKind
	Text     string // EventTranscript: the merged student utterance
	Snapshot session.Snapshot
}

// syntheticProactiveNote is the placeholder student turn appended before a
// proactive check, and popped back off if the model has nothing to say
// about it.
const syntheticProactiveNote = "[checking my work on the board]"

// TTSObserver receives lifecycle notifications about tutor audio so a
// barge-in gate can track echo-suppression and start-guard windows. A
// *stt.Gate already satisfies this interface by its method set.
type TTSObserver interface {
	NotifyTTSStart(time.Time)
	NotifyTTSChunkSent(time.Time)
	NotifyTTSEnd(string)
}

// Gateway is the narrow surface the orchestrator needs from the connection
// layer: deliver a control message unconditionally, or deliver a
// turn-produced message only if its epoch has not been superseded.
type Gateway interface {
	Send(msg any) error
	SendIfCurrent(epoch uint64, msg any) error
}

// LLMClient is the narrow surface the orchestrator needs from an LLM
// provider: dispatch one turn, optionally streaming speech to onSpeechReady
// the moment it is known ahead of the full structured response. A
// *llm.Client satisfies this by its method set.
type LLMClient interface {
	Dispatch(ctx context.Context, t llm.Turn, onSpeechReady func(string)) (*llm.Result, error)
}

// TTSClient is the narrow surface the orchestrator needs from a
// text-to-speech provider. A *tts.Client satisfies this by its method set.
type TTSClient interface {
	SynthesizeStream(ctx context.Context, sentences <-chan string, voiceID string) (<-chan []byte, error)
}

// LaTeXClient is the narrow surface the orchestrator needs to turn a LaTeX
// board action into strokes. A *latex.Client satisfies this by its method
// set.
type LaTeXClient interface {
	Convert(ctx context.Context, latexSrc, color string, position wire.Point, maxWidthPx float64, seed int64) wire.StrokeBatch
}

// Config carries the fixed per-session tunables the orchestrator needs
// beyond the session's own board geometry.
type Config struct {
	VoiceID           string
	BoardWidth        int
	BoardHeight       int
	MaxBoardHeight    int
	IdleSilence       time.Duration
	ProactiveInterval time.Duration
}

// Orchestrator is the per-session turn dispatcher. One Orchestrator is
// created per WebSocket connection and discarded on close.
type Orchestrator struct {
	sess    *session.Session
	bg      *bargein.Controller
	llmC    LLMClient
	ttsC    TTSClient
	latexC  LaTeXClient
	gateway Gateway
	observer TTSObserver
	cfg     Config
	log     *slog.Logger

	breakers *resilience.Breakers

	events chan Event

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// SetBreakers wires circuit breakers around the LLM and TTS provider calls.
// A nil b leaves the orchestrator calling providers
// directly, which is how tests run it against fakes without needing to
// construct breakers of their own.
func (o *Orchestrator) SetBreakers(b *resilience.Breakers) {
	o.breakers = b
}

// New constructs an Orchestrator. observer may be nil if no barge-in gate
// needs TTS lifecycle notifications (e.g. transcript-only test harnesses).
func New(sess *session.Session, bg *bargein.Controller, llmC LLMClient, ttsC TTSClient, latexC LaTeXClient, gateway Gateway, observer TTSObserver, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		sess:     sess,
		bg:       bg,
		llmC:     llmC,
		ttsC:     ttsC,
		latexC:   latexC,
		gateway:  gateway,
		observer: observer,
		cfg:      cfg,
		log:      log,
		events:   make(chan Event, 32),
	}
}

// Submit enqueues an event. It is safe to call from any goroutine. Submit
// silently drops the event if the orchestrator has already been closed.
func (o *Orchestrator) Submit(ev Event) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	select {
	case o.events <- ev:
	default:
		o.log.Warn("turn: event queue full, dropping event", "session_id", o.sess.ID, "kind", ev.Kind)
	}
}

// Run consumes events until ctx is cancelled or Close is called. Turn-
// dispatching events run in their own tracked goroutine so a barge-in
// event queued behind one is still processed with low latency; the
// session's TurnLock is what actually keeps only one turn's output live at
// a time.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return

		case ev, ok := <-o.events:
			if !ok {
				o.wg.Wait()
				return
			}
			o.handle(ctx, ev)
		}
	}
}

// Close stops accepting new events. Callers still must cancel the context
// passed to Run to unblock any in-flight turn.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.events)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventBargeIn:
		o.bg.Trigger()
		if o.observer != nil {
			o.observer.NotifyTTSEnd("")
		}
		if err := o.gateway.Send(wire.BargeInNotice{Type: wire.TypeBargeIn}); err != nil {
			o.log.Warn("turn: send barge-in notice", "session_id", o.sess.ID, "error", err)
		}

	case EventBoardSnapshot:
		ev.Snapshot.ReceivedAt = time.Now()
		o.sess.PushSnapshot(ev.Snapshot)

	case EventSessionStart:
		o.spawnTurn(ctx, func() (string, bool) {
			opener := "I'd like some help."
			if subj := o.sess.Subject(); subj != "" {
				opener = fmt.Sprintf("I'd like to learn about %s.", subj)
			}
			return opener, false
		})

	case EventTranscript:
		text := ev.Text
		o.spawnTurn(ctx, func() (string, bool) { return text, false })

	case EventProactiveCheck:
		o.spawnTurn(ctx, func() (string, bool) { return syntheticProactiveNote, true })
	}
}

// spawnTurn reserves the next epoch, registers it with the barge-in
// controller, and runs the turn body in a tracked background goroutine so
// Run can keep consuming subsequent events (in particular, a barge-in)
// without waiting for this turn's I/O to finish.
func (o *Orchestrator) spawnTurn(parentCtx context.Context, buildStudentTurn func() (content string, synthetic bool)) {
	epoch := o.sess.NextEpoch()
	turnCtx, cancel := context.WithCancel(parentCtx)
	o.bg.Begin(epoch, cancel)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.bg.End(epoch)

		o.sess.TurnLock.Lock()
		defer o.sess.TurnLock.Unlock()

		content, synthetic := buildStudentTurn()
		now := time.Now()
		o.sess.MarkInteraction(now)
		o.sess.AppendTurn(session.RoleStudent, content, now)

		o.dispatch(turnCtx, epoch, content, synthetic)
	}()
}

// dispatch runs one full turn against the LLM: streaming speech to TTS as
// soon as it is known, then synthesizing and rebasing board actions once
// the complete structured response has arrived.
func (o *Orchestrator) dispatch(ctx context.Context, epoch uint64, studentContent string, synthetic bool) {
	cfg := o.sess.Config()
	systemPrompt := llm.BuildSystemPrompt(o.sess.Subject(), o.cfg.BoardWidth, o.cfg.BoardHeight, cfg.BoardWriteX, cfg.BoardTopMarginY)

	snapshot, hasSnapshot := o.sess.LastSnapshot()
	var boardImage string
	if hasSnapshot {
		boardImage = snapshot.ImageBase64
	}

	turnInput := llm.Turn{
		SystemPrompt:     systemPrompt,
		History:          o.sess.History(),
		BoardNote:        boardContextNoteFor(o.sess, o.cfg.BoardHeight),
		BoardImageBase64: boardImage,
	}

	var speechOnce sync.Once
	speechDelivered := false

	onSpeech := func(speech string) {
		speechOnce.Do(func() {
			speechDelivered = true
			o.streamSpeech(ctx, epoch, speech)
		})
	}

	var result *llm.Result
	var err error
	if o.breakers != nil {
		err = o.breakers.LLM.Execute(func() error {
			var innerErr error
			result, innerErr = o.llmC.Dispatch(ctx, turnInput, onSpeech)
			return innerErr
		})
	} else {
		result, err = o.llmC.Dispatch(ctx, turnInput, onSpeech)
	}

	// A failed LLM turn is never retried: spec treats it as an empty
	// response and commits no tutor turn, rather than risk a second slow
	// call stacking latency onto an already-overdue reply.
	if err != nil {
		o.log.Warn("turn: llm dispatch failed", "session_id", o.sess.ID, "error", err)
		if synthetic {
			o.sess.PopLastIfSynthetic(studentContent)
		}
		return
	}

	if result.Speech == "" {
		o.log.Warn("turn: llm returned empty speech, dropping turn", "session_id", o.sess.ID, "synthetic", synthetic)
		if synthetic {
			o.sess.PopLastIfSynthetic(studentContent)
		}
		return
	}

	if !speechDelivered && result.Speech != "" {
		o.streamSpeech(ctx, epoch, result.Speech)
	}

	if o.bg.Superseded(epoch) {
		return
	}

	o.sess.AppendTurn(session.RoleTutor, result.Speech, time.Now())
	o.sess.SetMode(result.TutorState)

	o.dispatchBoardActions(ctx, epoch, result)

	_ = o.gateway.SendIfCurrent(epoch, wire.StateUpdate{
		Type:           wire.TypeStateUpdate,
		TutorState:     string(result.TutorState),
		WaitForStudent: result.WaitForStudent,
	})
}

// streamSpeech sends the speech text message immediately, then feeds it to
// TTS sentence by sentence, forwarding each returned audio chunk to the
// client tagged with epoch. speechOnce in dispatch guarantees this runs at
// most once per turn, whether triggered by the partial-JSON early path or
// the post-parse fallback.
func (o *Orchestrator) streamSpeech(ctx context.Context, epoch uint64, speech string) {
	if o.bg.Superseded(epoch) {
		return
	}
	_ = o.gateway.SendIfCurrent(epoch, wire.SpeechText{Type: wire.TypeSpeechText, Text: speech})

	sentences := splitSentences(speech)
	openStream := func() (<-chan []byte, error) {
		textCh := make(chan string, len(sentences))
		for _, s := range sentences {
			textCh <- s
		}
		close(textCh)
		return o.ttsC.SynthesizeStream(ctx, textCh, o.cfg.VoiceID)
	}

	var audioCh <-chan []byte
	var err error
	if o.breakers != nil {
		err = resilience.RetryOnce(o.breakers.TTS, func() error {
			var innerErr error
			audioCh, innerErr = openStream()
			return innerErr
		})
	} else {
		audioCh, err = openStream()
	}
	if err != nil {
		o.log.Warn("turn: tts stream failed", "session_id", o.sess.ID, "error", err)
		return
	}

	if o.observer != nil {
		o.observer.NotifyTTSStart(time.Now())
	}

	for chunk := range audioCh {
		if o.bg.Superseded(epoch) {
			break
		}
		if o.observer != nil {
			o.observer.NotifyTTSChunkSent(time.Now())
		}
		_ = o.gateway.SendIfCurrent(epoch, wire.AudioChunk{Type: wire.TypeAudioChunk, Data: tts.EncodeChunk(chunk)})
	}

	if o.observer != nil {
		o.observer.NotifyTTSEnd(speech)
	}
}

// dispatchBoardActions normalizes, rebases, and synthesizes strokes for
// every action the turn produced, stopping early if the turn is
// superseded partway through — the board cursor only advances for actions
// that were actually sent, per the rebase design.
func (o *Orchestrator) dispatchBoardActions(ctx context.Context, epoch uint64, result *llm.Result) {
	if len(result.Actions) == 0 {
		return
	}

	cfg := o.sess.Config()
	rcfg := stroke.RebaseConfig{
		BoardWidth:         o.cfg.BoardWidth,
		BoardHeight:        o.cfg.BoardHeight,
		TopMarginY:         cfg.BoardTopMarginY,
		BottomMarginY:      40,
		LineStepY:          52,
		MarginBelowStudent: 24,
	}

	normalized := stroke.Normalize(result.Actions, rcfg)
	rebased := stroke.Rebase(normalized, o.sess.BoardCursorY(), o.sess.BoardMaxY(), rcfg)

	wordCount := len(strings.Fields(result.Speech))
	seed := int64(epoch)

	for _, action := range rebased.Actions {
		if o.bg.Superseded(epoch) {
			return
		}

		switch action.Type {
		case wire.ActionClear:
			o.sess.ResetBoardCursor()
			payload, _ := marshalAction(action)
			_ = o.gateway.SendIfCurrent(epoch, wire.BoardAction{Type: wire.TypeBoardAction, Action: payload})

		case wire.ActionUnderline:
			payload, _ := marshalAction(action)
			_ = o.gateway.SendIfCurrent(epoch, wire.BoardAction{Type: wire.TypeBoardAction, Action: payload})

		case wire.ActionWrite:
			var batch wire.StrokeBatch
			pos := action.Position
			if action.Format == wire.FormatLaTeX && o.latexC != nil {
				batch = o.latexC.Convert(ctx, action.Content, action.Color, pos, 1000, seed)
			} else {
				batch = stroke.SynthesizeText(action.Content, action.Color, pos, seed)
			}
			batch = stroke.CalibrateAnimationSpeed(batch, wordCount)
			seed++

			_ = o.gateway.SendIfCurrent(epoch, wire.Strokes{Type: wire.TypeStrokes, Strokes: batch})
			// Advance only to this action's own line, not the turn's final
			// cursor, so a supersession mid-emission cannot leak a cursor
			// position past writes that were never actually sent.
			o.sess.SetBoardCursorY(int(pos.Y) + rcfg.LineStepY)
		}
	}
}

// splitSentences breaks text on '.', '!', or '?' followed by whitespace,
// the same boundary rule used to chunk a streaming LLM response into
// speakable fragments.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := sentenceBoundary(rest)
		if idx < 0 {
			break
		}
		out = append(out, rest[:idx+1])
		rest = strings.TrimLeft(rest[idx+1:], " \t\n\r")
	}
	if rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// marshalAction encodes a board action for the json.RawMessage payload of a
// wire.BoardAction message. Errors are not expected since Action contains
// only marshalable scalar fields.
func marshalAction(action wire.Action) (json.RawMessage, error) {
	return json.Marshal(action)
}

func boardContextNoteFor(sess *session.Session, boardHeight int) string {
	cursorY := sess.BoardCursorY()
	maxY := sess.BoardMaxY()
	switch {
	case cursorY <= sess.Config().BoardTopMarginY && maxY <= 0:
		return ""
	case boardHeight-cursorY < 150:
		return "\n\n[The board is nearly full. Consider a clear action before writing more.]"
	default:
		return "\n\n[The board already has content; your next write will be placed below it.]"
	}
}
