package llm

import (
	"encoding/json"
	"strings"

	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// Result is one turn's fully parsed response.
type Result struct {
	Speech         string
	Actions        []wire.Action
	TutorState     session.Mode
	WaitForStudent bool
}

// rawResponse is the JSON shape the model is instructed to emit. Fields are
// decoded loosely (TutorState as a string) so an unrecognized value can be
// normalized rather than rejected outright.
type rawResponse struct {
	Speech         string        `json:"speech"`
	BoardActions   []wire.Action `json:"board_actions"`
	TutorState     string        `json:"tutor_state"`
	WaitForStudent *bool         `json:"wait_for_student"`
}

// ParseResponse strictly decodes one turn's accumulated text. On any
// malformed-JSON failure it falls back to treating the raw text as plain
// speech with no board actions, per the edge case spec'd for an
// unparseable LLM response: the turn still produces something speakable
// rather than failing outright.
func ParseResponse(raw string) *Result {
	body := stripCodeFence(raw)

	var parsed rawResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return &Result{
			Speech:         strings.TrimSpace(raw),
			TutorState:     session.ModeListening,
			WaitForStudent: true,
		}
	}

	mode := session.Mode(parsed.TutorState)
	switch mode {
	case session.ModeListening, session.ModeGuiding, session.ModeDemonstrating, session.ModeEvaluating:
	default:
		mode = session.ModeListening
	}

	waitForStudent := true
	if parsed.WaitForStudent != nil {
		waitForStudent = *parsed.WaitForStudent
	}

	return &Result{
		Speech:         parsed.Speech,
		Actions:        parsed.BoardActions,
		TutorState:     mode,
		WaitForStudent: waitForStudent,
	}
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` fence,
// since models instructed to emit raw JSON occasionally wrap it anyway.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// speechFieldPrefix is scanned for in the accumulated streaming buffer to
// detect the start of the "speech" field's value.
const speechFieldPrefix = `"speech"`

// ExtractSpeech scans the accumulated (possibly incomplete) JSON buffer for
// a closed "speech" field value and returns it along with true once that
// value's closing quote has arrived. It returns false while the field is
// still open or has not started yet, so the caller can keep streaming
// without firing speech synthesis on a truncated string.
//
// This mirrors the approach a streaming client needs when the rest of the
// JSON object (board_actions, tutor_state) is still arriving: the spoken
// text is the first field in the schema and the one most worth saying as
// soon as it is known, well before the document as a whole is valid JSON.
func ExtractSpeech(accumulated string) (string, bool) {
	idx := strings.Index(accumulated, speechFieldPrefix)
	if idx < 0 {
		return "", false
	}
	rest := accumulated[idx+len(speechFieldPrefix):]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", false
	}
	rest = strings.TrimSpace(rest[colon+1:])

	if len(rest) == 0 || rest[0] != '"' {
		return "", false
	}
	rest = rest[1:]

	var sb strings.Builder
	escaped := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			switch c {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\', '/':
				sb.WriteByte(c)
			default:
				sb.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			return sb.String(), true
		}
		sb.WriteByte(c)
	}

	return "", false
}
