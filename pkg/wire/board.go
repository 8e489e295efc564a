package wire

// ActionType discriminates the tagged [Action] variant produced by the LLM
// and, after rebasing, sent to the client as either a [Strokes] message
// (for Write) or a [BoardAction] message (for Underline and Clear).
type ActionType string

const (
	ActionWrite     ActionType = "write"
	ActionUnderline ActionType = "underline"
	ActionClear     ActionType = "clear"
)

// WriteFormat selects how a Write action's content is synthesized.
type WriteFormat string

const (
	FormatText  WriteFormat = "text"
	FormatLaTeX WriteFormat = "latex"
)

// Point is an (x, y) board-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned board-space rectangle.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Action is the tagged variant the LLM emits per turn: Write, Underline, or
// Clear. Only the fields relevant to Type are populated; Go's JSON decoder
// leaves the rest at their zero value.
type Action struct {
	Type     ActionType  `json:"type"`
	Content  string      `json:"content,omitempty"`
	Format   WriteFormat `json:"format,omitempty"`
	Position Point       `json:"position,omitempty"`
	Color    string      `json:"color,omitempty"`
	Area     Rect        `json:"area,omitempty"`
}

// StrokePoint is one sampled point of a handwriting stroke polyline.
type StrokePoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure"`
}

// Stroke is one polyline with a uniform color and width.
type Stroke struct {
	Points []StrokePoint `json:"points"`
	Color  string        `json:"color"`
	Width  float64       `json:"width"`
}

// StrokeBatch bundles the strokes synthesized for one Write action, along
// with the animation speed the client should replay them at.
type StrokeBatch struct {
	Strokes        []Stroke `json:"strokes"`
	AnimationSpeed float64  `json:"animation_speed"`
}
