package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MrWong99/glyphoxa/internal/session"
)

// defaultMaxTokens bounds one turn's completion when the caller does not
// override it. The tutor's responses are short (one spoken turn plus a
// handful of board actions), so this is generous rather than tight.
const defaultMaxTokens = 1024

// config holds optional client configuration, set via Option.
type config struct {
	baseURL    string
	httpClient *http.Client
	maxTokens  int64
}

// Option is a functional option for New, following the same pattern as the
// other provider clients in this module.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL, for testing
// against a local stand-in.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithMaxTokens overrides the per-turn completion token budget.
func WithMaxTokens(n int64) Option {
	return func(c *config) { c.maxTokens = n }
}

// Client dispatches tutoring turns to Claude and streams the response apart
// into speech, board actions, and tutor state.
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
}

// New constructs a Client. apiKey must be non-empty; model is the Claude
// model name (e.g. "claude-haiku-4-5").
func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}

	cfg := &config{maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Client{
		api:       anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Turn carries everything one dispatch needs beyond the conversation
// history: the fixed system prompt, an optional board-state hint appended
// to the student's latest message, and an optional board snapshot image to
// attach so the model can see what the student has drawn.
type Turn struct {
	SystemPrompt     string
	History          []session.Turn
	BoardNote        string
	BoardImageBase64 string
}

// Dispatch sends one turn to Claude and streams the response. onSpeechReady,
// if non-nil, is invoked at most once, as soon as the "speech" field's value
// closes in the streaming buffer — well before the rest of the JSON
// document (board_actions, tutor_state) has arrived — or otherwise with the
// parsed speech at the end; it is not invoked when the parsed speech is
// empty. Dispatch blocks until
// the full response is received or ctx is cancelled; a cancellation
// mid-stream returns the partial accumulation parsed on a best-effort
// basis, so a barge-in still yields whatever speech had already been
// extracted.
func (c *Client) Dispatch(ctx context.Context, t Turn, onSpeechReady func(string)) (*Result, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: t.SystemPrompt}},
		Messages:  buildMessages(t),
	}

	stream := c.api.Messages.NewStreaming(ctx, params)

	var accumulated strings.Builder
	speechSent := false

	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text := delta.Delta.Text
		if text == "" {
			continue
		}
		accumulated.WriteString(text)

		if !speechSent && onSpeechReady != nil {
			if speech, closed := ExtractSpeech(accumulated.String()); closed {
				speechSent = true
				onSpeechReady(speech)
			}
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		if accumulated.Len() == 0 {
			return nil, fmt.Errorf("llm: stream: %w", err)
		}
		// Partial content arrived before the failure; fall through and parse
		// what we have rather than discarding a usable partial turn.
	}

	result := ParseResponse(accumulated.String())
	if !speechSent && onSpeechReady != nil && result.Speech != "" {
		onSpeechReady(result.Speech)
	}
	return result, nil
}

// buildMessages converts the session history into Anthropic message params,
// appending the board-state note and, if present, the board snapshot image
// to the final user turn.
func buildMessages(t Turn) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(t.History))
	for _, turn := range t.History {
		content := turn.Content
		msgs = append(msgs, roleMessage(turn.Role, content))
	}

	if len(msgs) == 0 {
		return msgs
	}
	last := len(msgs) - 1

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(t.History[last].Content + t.BoardNote)}
	if t.BoardImageBase64 != "" {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", t.BoardImageBase64))
	}
	msgs[last] = anthropic.NewUserMessage(blocks...)

	return msgs
}

func roleMessage(role session.Role, content string) anthropic.MessageParam {
	if role == session.RoleTutor {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(content))
	}
	return anthropic.NewUserMessage(anthropic.NewTextBlock(content))
}

// dispatchTimeout is a sane upper bound on how long one turn may take
// before the caller should treat the provider as unresponsive and fall
// back to the resilience package's retry/circuit-breaker handling.
const dispatchTimeout = 30 * time.Second

// DispatchTimeout returns the default per-turn deadline callers should apply
// via context.WithTimeout before calling Dispatch.
func DispatchTimeout() time.Duration { return dispatchTimeout }
