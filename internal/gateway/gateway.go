// Package gateway accepts one WebSocket connection per tutoring session at
// /ws/{session_id}, decodes inbound frames into turn orchestrator events,
// and owns the single outbound writer goroutine that serializes every
// server-to-client message — including the epoch filtering that drops a
// superseded turn's output before it ever reaches the wire.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphoxa/internal/bargein"
	"github.com/MrWong99/glyphoxa/internal/idle"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/stt"
	"github.com/MrWong99/glyphoxa/internal/turn"
	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// outboundQueueSize bounds how many pending outbound messages a slow client
// can accumulate before Send starts blocking the caller.
const outboundQueueSize = 256

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 5 * time.Second

// orchestrator is the narrow surface Conn needs from *turn.Orchestrator,
// broken out as an interface so a test can substitute a recording fake
// without standing up real LLM/TTS provider clients.
type orchestrator interface {
	Submit(turn.Event)
	Run(ctx context.Context)
	Close()
}

// Conn is the Connection Gateway for one session: it owns the WebSocket,
// the session's Orchestrator, and every background component (idle
// scheduler, STT session) started for the connection's lifetime.
type Conn struct {
	sessionID string
	ws        *websocket.Conn
	sess      *session.Session
	orch      orchestrator
	scheduler *idle.Scheduler
	sttSess   *stt.Session
	bg        *bargein.Controller
	gate      *stt.Gate
	log       *slog.Logger

	out chan outboundMessage

	closeOnce sync.Once
	closed    chan struct{}
}

type outboundMessage struct {
	epochGated bool
	epoch      uint64
	payload    any
}

// Deps bundles the per-connection components constructed by the caller
// (typically cmd/tutorserver's handler) before Accept takes over. The
// Orchestrator itself is not included here: it needs the Conn as its
// outbound Gateway, so it is built by NewOrchestrator once the Conn exists,
// breaking what would otherwise be a construction cycle.
type Deps struct {
	Session         *session.Session
	NewOrchestrator func(gw turn.Gateway) *turn.Orchestrator
	Scheduler       *idle.Scheduler
	STT             *stt.Session
	Bargein         *bargein.Controller
	Gate            *stt.Gate
	Log             *slog.Logger
}

// Accept upgrades r to a WebSocket, sends the connected handshake, and runs
// the connection until the client disconnects or ctx is cancelled. It
// blocks for the life of the connection; callers invoke it directly from
// their HTTP handler goroutine.
func Accept(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, deps Deps) error {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return err
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	c := &Conn{
		sessionID: sessionID,
		ws:        ws,
		sess:      deps.Session,
		scheduler: deps.Scheduler,
		sttSess:   deps.STT,
		bg:        deps.Bargein,
		gate:      deps.Gate,
		log:       log,
		out:       make(chan outboundMessage, outboundQueueSize),
		closed:    make(chan struct{}),
	}
	c.orch = deps.NewOrchestrator(c)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.orch.Run(connCtx)
	}()

	if c.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.scheduler.Run()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(connCtx)
	}()

	if c.sttSess != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.sttEventLoop(connCtx)
		}()
	}

	if err := c.Send(wire.Connected{
		Type:      wire.TypeConnected,
		SessionID: sessionID,
		Message:   "ready",
	}); err != nil {
		log.Warn("gateway: send connected handshake failed", "session_id", sessionID, "error", err)
	}

	readErr := c.readLoop(connCtx)

	cancel()
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.orch != nil {
		c.orch.Close()
	}
	c.closeOnce.Do(func() { close(c.closed) })
	wg.Wait()

	ws.Close(websocket.StatusNormalClosure, "session ended")
	return readErr
}

// Send delivers msg unconditionally — used for connection-lifecycle and
// interim messages that are never invalidated by a later turn.
func (c *Conn) Send(msg any) error {
	return c.enqueue(outboundMessage{payload: msg})
}

// SendIfCurrent delivers msg only if epoch still matches the session's
// current turn epoch at the moment the writer actually sends it. A
// superseded message is silently dropped, which is how a barge-in stops a
// stale turn's board actions and audio from reaching the client after the
// fact.
func (c *Conn) SendIfCurrent(epoch uint64, msg any) error {
	return c.enqueue(outboundMessage{epochGated: true, epoch: epoch, payload: msg})
}

func (c *Conn) enqueue(m outboundMessage) error {
	select {
	case <-c.closed:
		return errors.New("gateway: connection closed")
	default:
	}
	select {
	case c.out <- m:
		return nil
	case <-c.closed:
		return errors.New("gateway: connection closed")
	}
}

// writeLoop is the single goroutine permitted to write to the WebSocket,
// per coder/websocket's single-writer requirement. It checks epoch
// currency immediately before marshaling and writing, not at enqueue time,
// so a barge-in that lands while a message is queued still takes effect.
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.out:
			if !ok {
				return
			}
			if m.epochGated && c.bg != nil && c.bg.Superseded(m.epoch) {
				continue
			}
			c.writeOne(ctx, m.payload)
		}
	}
}

func (c *Conn) writeOne(ctx context.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("gateway: marshal outbound message failed", "session_id", c.sessionID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.log.Debug("gateway: write failed", "session_id", c.sessionID, "error", err)
	}
}

// readLoop reads inbound frames until the client disconnects, decoding each
// into its typed payload and translating it into a turn orchestrator event
// or a direct session/STT side effect.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		c.handleInbound(data)
	}
}

func (c *Conn) handleInbound(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("gateway: malformed inbound frame", "session_id", c.sessionID, "error", err)
		return
	}

	switch env.Type {
	case wire.TypeSessionStart:
		var msg wire.SessionStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.sess.SetSubject(msg.Subject)
		c.orch.Submit(turn.Event{Kind: turn.EventSessionStart})

	case wire.TypeTranscript:
		var msg wire.Transcript
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.orch.Submit(turn.Event{Kind: turn.EventTranscript, Text: msg.Text})

	case wire.TypeAudioStart:
		// Informational only: it marks when the client began capturing mic
		// audio. Barge-in arming comes from the STT provider's own
		// speech-detection event (stt.EventSpeechStarted) or an explicit
		// barge_in message, not from this.

	case wire.TypeAudioData:
		var msg wire.AudioData
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.forwardAudio(msg.Data)

	case wire.TypeAudioStop:
		// No dedicated action: the STT provider's own endpointing closes
		// out the current utterance.

	case wire.TypeBoardSnapshot:
		var msg wire.BoardSnapshot
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		snap := session.Snapshot{ImageBase64: msg.ImageBase64, Width: msg.Width, Height: msg.Height}
		if msg.StudentMaxY != nil {
			c.sess.SetBoardMaxY(*msg.StudentMaxY)
		}
		c.orch.Submit(turn.Event{Kind: turn.EventBoardSnapshot, Snapshot: snap})

	case wire.TypeBargeIn:
		c.orch.Submit(turn.Event{Kind: turn.EventBargeIn})

	default:
		c.log.Warn("gateway: unknown inbound message type", "session_id", c.sessionID, "type", env.Type)
	}
}

// forwardAudio base64-decodes one inbound audio frame and forwards it to
// the active STT session, if any is attached.
func (c *Conn) forwardAudio(b64 string) {
	if c.sttSess == nil {
		return
	}
	raw, err := decodeAudioFrame(b64)
	if err != nil {
		c.log.Warn("gateway: decode audio frame failed", "session_id", c.sessionID, "error", err)
		return
	}
	if err := c.sttSess.SendAudio(raw); err != nil {
		c.log.Warn("gateway: forward audio to stt failed", "session_id", c.sessionID, "error", err)
	}
}

// decodeAudioFrame base64-decodes one inbound audio_data frame.
func decodeAudioFrame(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// sttEventLoop bridges Deepgram events into the Gate and, on a confirmed
// final transcript, into the turn orchestrator. Gate is documented as
// single-goroutine-owned, so every call into it — including Flush, woken by
// mergeFlushC below — happens from this one goroutine, never from the
// timer's own goroutine.
func (c *Conn) sttEventLoop(ctx context.Context) {
	var flushTimer *time.Timer
	mergeFlushC := make(chan struct{}, 1)
	defer func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
	}()

	armFlush := func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
		flushTimer = time.AfterFunc(c.gate.MergeDebounce(), func() {
			select {
			case mergeFlushC <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-c.sttSess.Events():
			if !ok {
				return
			}
			c.handleSTTEvent(ev, armFlush)

		case <-mergeFlushC:
			if text, ok := c.gate.Flush(time.Now()); ok && text != "" {
				c.orch.Submit(turn.Event{Kind: turn.EventTranscript, Text: text})
			}
		}
	}
}

func (c *Conn) handleSTTEvent(ev stt.Event, armFlush func()) {
	if c.gate == nil {
		return
	}
	now := time.Now()
	switch ev.Kind {
	case stt.EventSpeechStarted:
		c.gate.SpeechStart(false, now)

	case stt.EventInterim:
		_ = c.Send(wire.TranscriptInterim{Type: wire.TypeTranscriptInterim, Text: ev.Text})

	case stt.EventFinal:
		bargeIn, accepted, _ := c.gate.FinalTranscript(ev.Text, now)
		if bargeIn {
			c.orch.Submit(turn.Event{Kind: turn.EventBargeIn})
		}
		if accepted {
			armFlush()
		}
	}
}
