// Package latex renders a LaTeX expression to strokes by posting it to a
// MathJax-like SVG rendering microservice and sampling the returned SVG
// path outlines, falling back to a plain-text approximation when the
// renderer is unreachable or returns something unparseable.
package latex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/glyphoxa/internal/stroke"
	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// defaultTargetHeightMinPx and defaultTargetHeightMaxPx bound the adaptive
// target render height when the caller does not override them via
// [WithTargetHeightRange] — a short, simple expression renders near the
// min, a structurally complex one grows toward the max.
const (
	defaultTargetHeightMinPx = 28.0
	defaultTargetHeightMaxPx = 44.0

	renderTimeout = 8 * time.Second
)

// Client posts LaTeX to a rendering microservice and converts the response
// into strokes.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	targetHeightMinPx float64
	targetHeightMaxPx float64
}

// New constructs a Client targeting the renderer at baseURL (e.g.
// "http://localhost:3001").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:           baseURL,
		httpClient:        &http.Client{Timeout: renderTimeout},
		targetHeightMinPx: defaultTargetHeightMinPx,
		targetHeightMaxPx: defaultTargetHeightMaxPx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for render requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTargetHeightRange overrides the [min, max] pixel bounds Convert scales
// a rendered expression's height into, in place of the package defaults.
// min corresponds to LATEX_TARGET_HEIGHT_INLINE_PX and max to
// LATEX_TARGET_HEIGHT_DISPLAY_PX: a short expression rendered at the board's
// normal line height uses the inline bound, and a visually dense one grows
// toward the display bound so its structure stays legible.
func WithTargetHeightRange(min, max float64) Option {
	return func(c *Client) {
		if min > 0 {
			c.targetHeightMinPx = min
		}
		if max > 0 {
			c.targetHeightMaxPx = max
		}
	}
}

type renderRequest struct {
	Latex   string `json:"latex"`
	Display bool   `json:"display"`
}

type renderResponse struct {
	SVG string `json:"svg"`
}

// renderSVG posts latex to the configured renderer and returns the raw SVG
// document. Any failure — network error, non-200 status, malformed
// response — is returned as an error so the caller can fall back rather
// than propagate a hard failure, mirroring the original's
// catch-and-fall-back-to-empty-string behavior.
func (c *Client) renderSVG(ctx context.Context, latexSrc string) (string, error) {
	body, err := json.Marshal(renderRequest{Latex: latexSrc, Display: true})
	if err != nil {
		return "", fmt.Errorf("latex: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mathjax", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("latex: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("latex: render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("latex: render: unexpected status %d", resp.StatusCode)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("latex: decode response: %w", err)
	}
	if out.SVG == "" {
		return "", fmt.Errorf("latex: empty SVG in response")
	}
	return out.SVG, nil
}

// Convert renders latexSrc to a handwriting stroke batch positioned at
// position, colored color, and scaled down further if needed so it is no
// wider than maxWidthPx. If the renderer is unreachable or its SVG cannot be
// parsed, Convert falls back to a plain text approximation of the
// expression rather than failing the turn; that fallback ignores maxWidthPx.
func (c *Client) Convert(ctx context.Context, latexSrc, color string, position wire.Point, maxWidthPx float64, seed int64) wire.StrokeBatch {
	svg, err := c.renderSVG(ctx, latexSrc)
	if err != nil {
		return fallback(latexSrc, color, position, seed)
	}

	strokes, bounds, err := svgToStrokes(svg, color)
	if err != nil || len(strokes) == 0 {
		return fallback(latexSrc, color, position, seed)
	}

	targetHeight := c.targetHeight(latexSrc)
	scaled := scaleAndPlace(strokes, bounds, position, targetHeight, maxWidthPx)

	return wire.StrokeBatch{Strokes: scaled, AnimationSpeed: 1.0}
}

// targetHeight derives the adaptive render height from the expression's
// structural complexity, clamped to [c.targetHeightMinPx, c.targetHeightMaxPx].
func (c *Client) targetHeight(latexSrc string) float64 {
	complexity := stroke.EstimateLaTeXComplexity(latexSrc)
	h := c.targetHeightMinPx * complexity
	if h < c.targetHeightMinPx {
		h = c.targetHeightMinPx
	}
	if h > c.targetHeightMaxPx {
		h = c.targetHeightMaxPx
	}
	return h
}

// fallback converts latexSrc to a rough plain-text approximation (stripping
// backslash commands, turning \frac{a}{b} into "(a)/(b)" and \sqrt{x} into
// "sqrt(x)") and synthesizes it as handwritten text instead of a true
// rendering — used whenever the renderer is unavailable or its SVG could
// not be parsed.
func fallback(latexSrc, color string, position wire.Point, seed int64) wire.StrokeBatch {
	approx := plainTextApproximation(latexSrc)
	return stroke.SynthesizeText(approx, color, position, seed)
}
