package llm

import "testing"

func TestBuildSystemPromptFillsSubjectAndGeometry(t *testing.T) {
	got := BuildSystemPrompt("binary search trees", 1200, 700, 80, 140)

	if !contains(got, "binary search trees") {
		t.Fatalf("prompt missing subject: %s", got)
	}
	if !contains(got, "1200x700") {
		t.Fatalf("prompt missing board geometry: %s", got)
	}
}

func TestBuildSystemPromptDefaultsEmptySubject(t *testing.T) {
	got := BuildSystemPrompt("", 1200, 700, 80, 140)
	if !contains(got, "whatever the student brought") {
		t.Fatalf("prompt did not fall back for empty subject: %s", got)
	}
}

func TestBoardContextNoteEmptyWhenNothingWritten(t *testing.T) {
	if got := boardContextNote(0, 0, 700); got != "" {
		t.Fatalf("boardContextNote = %q, want empty", got)
	}
}

func TestBoardContextNoteWarnsWhenNearlyFull(t *testing.T) {
	got := boardContextNote(600, 600, 700)
	if !contains(got, "nearly full") {
		t.Fatalf("boardContextNote = %q, want nearly-full warning", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
