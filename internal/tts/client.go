// Package tts streams synthesized speech audio from ElevenLabs as text
// sentences become available, so the tutor can start speaking the first
// sentence of a response while the model is still generating the rest.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

const (
	wsEndpointFmt = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"

	defaultModel        = "eleven_flash_v2_5"
	defaultOutputFormat = "pcm_22050"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithOutputFormat sets the raw PCM output format (e.g. "pcm_22050").
func WithOutputFormat(format string) Option {
	return func(c *Client) { c.outputFormat = format }
}

// WithHTTPClient overrides the HTTP client stored on the Client.
// SynthesizeStream dials its WebSocket without it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client opens ElevenLabs streaming synthesis sessions.
type Client struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New constructs a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("tts: apiKey must not be empty")
	}
	c := &Client{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFormat,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// SynthesizeStream opens a WebSocket to ElevenLabs, feeds it text fragments
// read from sentences, and returns a channel of raw pcm16le audio chunks.
// The audio channel is closed when sentences is drained and the provider
// confirms the final chunk, or when ctx is cancelled — a barge-in cancels
// ctx, which tears down both directions of this stream immediately, which
// is the entire mechanism by which a barge-in stops tutor audio mid-word.
func (c *Client) SynthesizeStream(ctx context.Context, sentences <-chan string, voiceID string) (<-chan []byte, error) {
	if voiceID == "" {
		return nil, errors.New("tts: voiceID must not be empty")
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voiceID, c.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tts: dial: %w", err)
	}

	boi := boiMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      c.apiKey,
		OutputFormat:  c.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send handshake")
		return nil, fmt.Errorf("tts: send handshake: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var resp audioResponse
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}
				if resp.Audio == "" {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
		}()

		vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
		for {
			select {
			case sentence, ok := <-sentences:
				if !ok {
					flushBytes, _ := json.Marshal(textMessage{Text: ""})
					_ = conn.Write(ctx, websocket.MessageText, flushBytes)
					<-readDone
					return
				}
				if sentence == "" {
					continue
				}
				payload := textMessage{Text: sentence, VoiceSettings: vs}
				vs = nil
				msgBytes, _ := json.Marshal(payload)
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// EncodeChunk base64-encodes one raw pcm16le audio chunk for the
// audio_chunk outbound wire message.
func EncodeChunk(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}
