package stroke

import (
	"strings"
	"testing"

	"github.com/MrWong99/glyphoxa/pkg/wire"
)

func testRebaseConfig() RebaseConfig {
	return RebaseConfig{
		BoardWidth:         1200,
		BoardHeight:        700,
		TopMarginY:         140,
		BottomMarginY:      40,
		LineStepY:          52,
		MarginBelowStudent: 24,
	}
}

func TestNormalizePassesThroughShortWrite(t *testing.T) {
	actions := []wire.Action{{Type: wire.ActionWrite, Content: "x = 2", Format: wire.FormatText}}
	got := Normalize(actions, testRebaseConfig())
	if len(got) != 1 || got[0].Content != "x = 2" {
		t.Fatalf("Normalize = %+v", got)
	}
}

func TestNormalizeWrapsLongWriteIntoMultipleLines(t *testing.T) {
	long := strings.Repeat("word ", 40)
	actions := []wire.Action{{Type: wire.ActionWrite, Content: long, Format: wire.FormatText, Position: wire.Point{X: 80, Y: 140}}}

	got := Normalize(actions, testRebaseConfig())
	if len(got) < 2 {
		t.Fatalf("Normalize produced %d lines, want several", len(got))
	}
	for i, a := range got {
		if a.Position.Y != 140+float64(i*defaultLineStepY) {
			t.Fatalf("line %d Y = %v", i, a.Position.Y)
		}
	}
}

func TestNormalizeLeavesLaTeXUnwrapped(t *testing.T) {
	actions := []wire.Action{{Type: wire.ActionWrite, Content: strings.Repeat("x", 200), Format: wire.FormatLaTeX}}
	got := Normalize(actions, testRebaseConfig())
	if len(got) != 1 {
		t.Fatalf("Normalize wrapped a latex action: %+v", got)
	}
}

func TestWordWrapKeepsOverlongWordIntact(t *testing.T) {
	lines := wordWrap("supercalifragilisticexpialidocious", 10)
	if len(lines) != 1 || lines[0] != "supercalifragilisticexpialidocious" {
		t.Fatalf("wordWrap = %+v", lines)
	}
}

func TestRebaseIgnoresProposedPositionAndStacksFromCursor(t *testing.T) {
	actions := []wire.Action{
		{Type: wire.ActionWrite, Content: "line one", Position: wire.Point{X: 80, Y: 999}},
		{Type: wire.ActionWrite, Content: "line two", Position: wire.Point{X: 80, Y: 5}},
	}

	result := Rebase(actions, 140, 0, testRebaseConfig())

	if result.Actions[0].Position.Y != 140 {
		t.Fatalf("first write Y = %v, want 140", result.Actions[0].Position.Y)
	}
	if result.Actions[1].Position.Y != 192 {
		t.Fatalf("second write Y = %v, want 192", result.Actions[1].Position.Y)
	}
	if result.CursorY != 244 {
		t.Fatalf("CursorY = %d, want 244", result.CursorY)
	}
	if result.AutoCleared {
		t.Fatalf("AutoCleared = true, unexpected")
	}
}

func TestRebaseStartsBelowStudentDrawingWhenLowerThanCursor(t *testing.T) {
	actions := []wire.Action{
		{Type: wire.ActionWrite, Content: "line one"},
	}

	// cursor is at 140 but the student has drawn down to 400: the write
	// must start below 400+24, not at the stale cursor.
	result := Rebase(actions, 140, 400, testRebaseConfig())

	if result.Actions[0].Position.Y != 424 {
		t.Fatalf("write Y = %v, want 424 (below student drawing)", result.Actions[0].Position.Y)
	}
}

func TestRebaseIgnoresStudentFloorWhenBelowCursor(t *testing.T) {
	actions := []wire.Action{
		{Type: wire.ActionWrite, Content: "line one"},
	}

	result := Rebase(actions, 300, 50, testRebaseConfig())

	if result.Actions[0].Position.Y != 300 {
		t.Fatalf("write Y = %v, want 300 (cursor already below student floor)", result.Actions[0].Position.Y)
	}
}

func TestRebaseClearResetsCursorToTopMargin(t *testing.T) {
	actions := []wire.Action{
		{Type: wire.ActionClear},
		{Type: wire.ActionWrite, Content: "fresh start"},
	}

	result := Rebase(actions, 600, 0, testRebaseConfig())

	if result.Actions[1].Position.Y != 140 {
		t.Fatalf("write after clear Y = %v, want top margin 140", result.Actions[1].Position.Y)
	}
}

func TestRebaseAutoClearsOnOverflow(t *testing.T) {
	actions := []wire.Action{
		{Type: wire.ActionWrite, Content: "overflowing line"},
	}

	// cursor already near the bottom margin: 700-40=660 usable, step 52.
	result := Rebase(actions, 650, 0, testRebaseConfig())

	if !result.AutoCleared {
		t.Fatalf("AutoCleared = false, want true on overflow")
	}
	if result.Actions[0].Type != wire.ActionClear {
		t.Fatalf("first action = %+v, want synthetic clear", result.Actions[0])
	}
	if result.Actions[1].Position.Y != 140 {
		t.Fatalf("write after auto-clear Y = %v, want top margin", result.Actions[1].Position.Y)
	}
}

func TestRebaseOnlyAutoClearsOnce(t *testing.T) {
	actions := []wire.Action{
		{Type: wire.ActionWrite, Content: "first"},
		{Type: wire.ActionWrite, Content: "second"},
		{Type: wire.ActionWrite, Content: "third"},
	}

	result := Rebase(actions, 650, 0, testRebaseConfig())

	clears := 0
	for _, a := range result.Actions {
		if a.Type == wire.ActionClear {
			clears++
		}
	}
	if clears != 1 {
		t.Fatalf("clears = %d, want exactly 1", clears)
	}
}
