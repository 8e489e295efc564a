package stroke

import (
	"math/rand"

	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// charAdvancePx and spaceAdvancePx are the horizontal cursor advance per
// synthesized character, matching natural cursive letter spacing.
const (
	charAdvancePx  = 12.0
	spaceAdvancePx = 10.0
	glyphHeightPx  = 14.0
)

// SynthesizeText deterministically synthesizes a handwriting stroke batch
// for one line of plain text. The same (text, color, position, seed)
// always produces the same output: each non-space character becomes one
// three-point stroke (two short jittered line segments) sampling a generic cursive glyph
// shape, rather than true letterform rendering, and the cursor advances a
// fixed width per character. seed drives the jitter so repeated calls for
// the same content look identical (useful for tests and for replaying a
// turn) while different turns still look hand-drawn rather than robotic.
func SynthesizeText(text string, color string, position wire.Point, seed int64) wire.StrokeBatch {
	rng := rand.New(rand.NewSource(seed))

	strokes := make([]wire.Stroke, 0, len(text))
	x := position.X
	y := position.Y

	for _, r := range text {
		if r == ' ' {
			x += spaceAdvancePx
			continue
		}

		jitterX := (rng.Float64() - 0.5) * 2.0
		jitterY := (rng.Float64() - 0.5) * 2.0
		baseY := y + jitterY

		// A simple three-point up-and-down stroke approximates a single
		// glyph; ascenders/descenders (tall or low letters) get a
		// slightly taller or lower segment so the line doesn't look
		// perfectly uniform.
		height := glyphHeightPx
		if isAscender(r) {
			height *= 1.3
		} else if isDescender(r) {
			height *= 1.2
			baseY += glyphHeightPx * 0.3
		}

		stroke := wire.Stroke{
			Color: color,
			Width: 2.0,
			Points: []wire.StrokePoint{
				{X: x + jitterX, Y: baseY, Pressure: 0.7},
				{X: x + charAdvancePx*0.6 + jitterX, Y: baseY - height, Pressure: 0.85},
				{X: x + charAdvancePx + jitterX, Y: baseY, Pressure: 0.7},
			},
		}
		strokes = append(strokes, stroke)
		x += charAdvancePx
	}

	return wire.StrokeBatch{Strokes: strokes, AnimationSpeed: 1.0}
}

func isAscender(r rune) bool {
	switch r {
	case 'b', 'd', 'f', 'h', 'k', 'l', 't', 'B', 'D', 'F', 'H', 'K', 'L', 'T':
		return true
	}
	return false
}

func isDescender(r rune) bool {
	switch r {
	case 'g', 'j', 'p', 'q', 'y':
		return true
	}
	return false
}

// CalibrateAnimationSpeed scales a stroke batch's AnimationSpeed so the
// total time to draw every point roughly matches the estimated speech
// duration for wordCount words at a natural speaking pace, with a floor so
// very short utterances don't flash the strokes instantaneously.
//
// Speaking pace is approximated at 2.4 words/second; the minimum draw
// duration is 1.5s.
func CalibrateAnimationSpeed(batch wire.StrokeBatch, wordCount int) wire.StrokeBatch {
	totalPoints := 0
	for _, s := range batch.Strokes {
		totalPoints += len(s.Points)
	}
	if totalPoints == 0 {
		return batch
	}

	speechSeconds := float64(wordCount) / 2.4
	if speechSeconds < 1.5 {
		speechSeconds = 1.5
	}

	// AnimationSpeed is points-per-second from the client's perspective;
	// derive it from the target duration.
	batch.AnimationSpeed = float64(totalPoints) / speechSeconds
	return batch
}
