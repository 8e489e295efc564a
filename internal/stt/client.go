package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// minConfidence and minWords discard very short or low-confidence final
	// transcripts outright, before they ever reach the Gate — these are
	// almost always stray noise (a cough, a chair creak) rather than
	// anything the student meant to say.
	minConfidence = 0.60
	minWords      = 3
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithModel sets the Deepgram model to use.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the BCP-47 recognition language.
func WithLanguage(language string) Option {
	return func(c *Client) { c.language = language }
}

// WithSampleRate sets the audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(c *Client) { c.sampleRate = rate }
}

// Client opens Deepgram streaming recognition sessions.
type Client struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New constructs a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("stt: apiKey must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// EventKind discriminates the kind of recognition event delivered on a
// Session's event channel.
type EventKind int

const (
	// EventSpeechStarted fires on voice-activity detection, before any
	// transcript text is available. It is the signal the barge-in Gate
	// uses to arm a pending auto-barge.
	EventSpeechStarted EventKind = iota
	// EventInterim carries a non-final, still-changing transcript.
	EventInterim
	// EventFinal carries a finalized transcript chunk that passed the
	// confidence and word-count noise filter.
	EventFinal
)

// Event is one recognition event from a live session.
type Event struct {
	Kind       EventKind
	Text       string
	Confidence float64
}

// StartStream opens a streaming recognition session against Deepgram.
func (c *Client) StartStream(ctx context.Context, sessionID string) (*Session, error) {
	wsURL := c.buildURL()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("stt: dial: %w", err)
	}

	sess := &Session{
		id:     sessionID,
		conn:   conn,
		events: make(chan Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint for opus-in-webm
// audio with voice-activity events enabled, matching the browser client's
// native MediaRecorder output format.
func (c *Client) buildURL() string {
	u, _ := url.Parse(deepgramEndpoint)
	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", c.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("vad_events", "true")
	q.Set("endpointing", "500")
	q.Set("interim_results", "true")
	q.Set("encoding", "opus")
	q.Set("container", "webm")
	q.Set("sample_rate", strconv.Itoa(c.sampleRate))
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectWithRetry calls dial; if it fails, it waits backoff and retries
// exactly once before giving up. This is the "one retry with short
// backoff" rule for a dropped STT connection: anything more persistent is
// treated as a provider outage for the circuit breaker to handle, not
// something worth retrying session-locally.
func ConnectWithRetry(ctx context.Context, backoff time.Duration, dial func(context.Context) (*Session, error)) (*Session, error) {
	sess, err := dial(ctx)
	if err == nil {
		return sess, nil
	}

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return dial(ctx)
}

// deepgramMessage is the union of message shapes Deepgram sends: a
// "Results" transcript event or a "SpeechStarted" VAD event.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word string `json:"word"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Session is a live streaming recognition session. Safe for concurrent use
// from one audio-producing goroutine and one event-consuming goroutine.
type Session struct {
	id   string
	conn *websocket.Conn

	events chan Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues one chunk of opus-in-webm audio for delivery.
func (s *Session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("stt: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("stt: session is closed")
	}
}

// Events returns the channel of recognition events. Closed when the
// session ends.
func (s *Session) Events() <-chan Event { return s.events }

// Close terminates the session, flushing any buffered audio first.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		ev, ok := parseEvent(msg)
		if !ok {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// parseEvent decodes one Deepgram message into an Event, applying the
// confidence and word-count noise filter to final transcripts. Interim
// transcripts and speech-started events pass through unfiltered: the
// former are display-only, and the latter already carries no text to
// filter on.
func parseEvent(data []byte) (Event, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}

	switch msg.Type {
	case "SpeechStarted":
		return Event{Kind: EventSpeechStarted}, true

	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return Event{}, false
		}
		alt := msg.Channel.Alternatives[0]

		if !msg.IsFinal {
			return Event{Kind: EventInterim, Text: alt.Transcript, Confidence: alt.Confidence}, true
		}
		if alt.Confidence < minConfidence || len(alt.Words) < minWords {
			return Event{}, false
		}
		return Event{Kind: EventFinal, Text: alt.Transcript, Confidence: alt.Confidence}, true

	default:
		return Event{}, false
	}
}
