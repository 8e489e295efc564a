package stroke

import (
	"reflect"
	"testing"

	"github.com/MrWong99/glyphoxa/pkg/wire"
)

func TestSynthesizeTextDeterministic(t *testing.T) {
	a := SynthesizeText("hello", "#000000", wire.Point{X: 80, Y: 140}, 42)
	b := SynthesizeText("hello", "#000000", wire.Point{X: 80, Y: 140}, 42)

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different output")
	}
}

func TestSynthesizeTextDifferentSeedsDiffer(t *testing.T) {
	a := SynthesizeText("hello", "#000000", wire.Point{X: 80, Y: 140}, 1)
	b := SynthesizeText("hello", "#000000", wire.Point{X: 80, Y: 140}, 2)

	if reflect.DeepEqual(a, b) {
		t.Fatalf("different seeds produced identical output")
	}
}

func TestSynthesizeTextSkipsSpacesAsStrokes(t *testing.T) {
	batch := SynthesizeText("a b", "#000000", wire.Point{}, 1)
	if len(batch.Strokes) != 2 {
		t.Fatalf("Strokes count = %d, want 2 (space produces no stroke)", len(batch.Strokes))
	}
}

func TestSynthesizeTextEmptyProducesNoStrokes(t *testing.T) {
	batch := SynthesizeText("", "#000000", wire.Point{}, 1)
	if len(batch.Strokes) != 0 {
		t.Fatalf("Strokes = %+v, want none", batch.Strokes)
	}
}

func TestCalibrateAnimationSpeedEnforcesMinimumDuration(t *testing.T) {
	batch := wire.StrokeBatch{Strokes: []wire.Stroke{{Points: make([]wire.StrokePoint, 3)}}}
	got := CalibrateAnimationSpeed(batch, 1)

	// 3 points over the 1.5s floor duration.
	want := 3.0 / 1.5
	if got.AnimationSpeed != want {
		t.Fatalf("AnimationSpeed = %v, want %v", got.AnimationSpeed, want)
	}
}

func TestCalibrateAnimationSpeedNoOpOnEmptyBatch(t *testing.T) {
	got := CalibrateAnimationSpeed(wire.StrokeBatch{}, 10)
	if got.AnimationSpeed != 0 {
		t.Fatalf("AnimationSpeed = %v, want 0 for empty batch", got.AnimationSpeed)
	}
}

func TestEstimateTextExtentScalesWithLines(t *testing.T) {
	if got := EstimateTextExtent(1); got != textLineHeightPx {
		t.Fatalf("EstimateTextExtent(1) = %d", got)
	}
	if got := EstimateTextExtent(3); got != 3*textLineHeightPx {
		t.Fatalf("EstimateTextExtent(3) = %d", got)
	}
}

func TestEstimateLaTeXComplexityWeightsFractionsHigher(t *testing.T) {
	plain := EstimateLaTeXComplexity("x + 1")
	frac := EstimateLaTeXComplexity(`\frac{a}{b}`)
	if frac <= plain {
		t.Fatalf("frac complexity %v not greater than plain %v", frac, plain)
	}
}

func TestEstimateLaTeXComplexityWeightsSubSuperscripts(t *testing.T) {
	base := EstimateLaTeXComplexity("x")
	withScripts := EstimateLaTeXComplexity("x^2_i")
	if withScripts <= base {
		t.Fatalf("scripted complexity %v not greater than base %v", withScripts, base)
	}
}
