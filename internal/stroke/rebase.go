// Package stroke turns the board actions an LLM turn proposes into
// strokes the client can animate: word-wrapping long writes, rebasing
// every write below whatever is already on the board, and synthesizing the
// handwriting polylines themselves (plain text directly, LaTeX via the
// latex subpackage).
package stroke

import (
	"strings"

	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// RebaseConfig carries the fixed board geometry a session rebases against.
type RebaseConfig struct {
	// BoardWidth and BoardHeight are the client-reported board pixel
	// dimensions.
	BoardWidth  int
	BoardHeight int

	// TopMarginY is the cursor's reset value after a clear.
	TopMarginY int

	// BottomMarginY reserves space at the bottom of the board that a write
	// must not be placed below without first clearing.
	BottomMarginY int

	// LineStepY is the vertical advance per wrapped line of a write action.
	LineStepY int

	// MarginBelowStudent is the minimum gap Rebase keeps between the
	// student's lowest known drawing and the tutor's next write, so a
	// student who has drawn below the tutor's last write doesn't get
	// written over on the following turn.
	MarginBelowStudent int
}

// defaultLineStepY and the characters-per-line bounds below mirror a
// typical 16px monospace-ish handwriting line at the board's default
// width; Normalize clamps to them regardless of BoardWidth so pathologically
// narrow or wide boards still wrap sanely.
const (
	defaultLineStepY   = 52
	minCharsPerLine     = 18
	maxCharsPerLine     = 80
	approxPxPerChar     = 13
)

// Normalize word-wraps any write action whose content is too long to fit
// the board's usable width into several single-line write actions stacked
// LineStepY apart, starting at the original action's position. Non-write
// actions pass through unchanged.
func Normalize(actions []wire.Action, cfg RebaseConfig) []wire.Action {
	out := make([]wire.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type != wire.ActionWrite || a.Format == wire.FormatLaTeX {
			out = append(out, a)
			continue
		}

		lines := wordWrap(a.Content, charsPerLine(cfg.BoardWidth))
		for i, line := range lines {
			wrapped := a
			wrapped.Content = line
			wrapped.Position.Y = a.Position.Y + float64(i*lineStepY(cfg))
			out = append(out, wrapped)
		}
	}
	return out
}

func lineStepY(cfg RebaseConfig) int {
	if cfg.LineStepY > 0 {
		return cfg.LineStepY
	}
	return defaultLineStepY
}

// charsPerLine derives a wrap width from the board's pixel width, clamped
// to a readable range regardless of how wide or narrow the reported board
// is.
func charsPerLine(boardWidth int) int {
	usable := boardWidth - 160 // left/right margin allowance
	if usable <= 0 {
		return minCharsPerLine
	}
	n := usable / approxPxPerChar
	if n < minCharsPerLine {
		return minCharsPerLine
	}
	if n > maxCharsPerLine {
		return maxCharsPerLine
	}
	return n
}

// wordWrap breaks s into lines of at most width characters, breaking on
// word boundaries. A single word longer than width is kept intact on its
// own line rather than broken mid-word.
func wordWrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() == 0 {
			cur.WriteString(w)
			continue
		}
		if cur.Len()+1+len(w) > width {
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(w)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// RebaseResult is the outcome of rebasing one turn's (already normalized)
// board actions against a session's board cursor.
type RebaseResult struct {
	// Actions is the rebased action list, with every write's Position.Y
	// replaced by its actual placement.
	Actions []wire.Action

	// CursorY is the board cursor's new value after placing every action.
	CursorY int

	// AutoCleared is true if a clear action had to be inserted because the
	// proposed content would have overflowed the board.
	AutoCleared bool
}

// Rebase shifts every write action in actions to start at
// max(cursorY, boardMaxY+MarginBelowStudent) (the first free line below both
// existing tutor content and whatever the student has drawn) and down from
// there, ignoring whatever position the LLM proposed. A clear action resets
// the cursor to TopMarginY. If placing a write would cross BottomMarginY,
// Rebase inserts a synthetic clear before it and restarts that write (and
// everything after it) from the top margin, exactly once per call — the LLM
// is always told to write as though the board were empty, so a turn
// legitimately producing more content than fits is the only case this
// guards.
func Rebase(actions []wire.Action, cursorY, boardMaxY int, cfg RebaseConfig) RebaseResult {
	cursor := cursorY
	if studentFloor := boardMaxY + cfg.MarginBelowStudent; studentFloor > cursor {
		cursor = studentFloor
	}
	step := lineStepY(cfg)
	bottom := cfg.BoardHeight - cfg.BottomMarginY
	autoCleared := false

	out := make([]wire.Action, 0, len(actions))
	for _, a := range actions {
		switch a.Type {
		case wire.ActionClear:
			cursor = cfg.TopMarginY
			out = append(out, a)

		case wire.ActionWrite:
			if !autoCleared && cursor+step > bottom {
				out = append(out, wire.Action{Type: wire.ActionClear})
				cursor = cfg.TopMarginY
				autoCleared = true
			}
			placed := a
			placed.Position.Y = float64(cursor)
			out = append(out, placed)
			cursor += step

		default:
			out = append(out, a)
		}
	}

	return RebaseResult{Actions: out, CursorY: cursor, AutoCleared: autoCleared}
}
