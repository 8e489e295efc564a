// Package session holds the in-memory model of one tutoring conversation:
// turn history, board cursor, mode, and the timestamps the idle scheduler
// needs. A [Session] is created on WebSocket open and discarded on close —
// nothing here is persisted.
//
// Session exposes two distinct synchronization primitives, matching the
// discipline spec'd for the orchestrator:
//
//   - an internal mutex guarding the small scalar/slice fields that are read
//     and written from several goroutines (mode, history, board cursor,
//     timestamps, epoch). Critical sections are kept short and never held
//     across I/O.
//   - [Session.TurnLock], a separate exclusive lease acquired for the
//     duration of one LLM turn. Unlike the internal mutex, TurnLock is
//     designed to be held across suspension points (the LLM call, TTS
//     start) because it represents conversational exclusion, not a data
//     race guard.
package session

import (
	"sync"
	"time"
)

// Mode is the tutor's current conversational posture.
type Mode string

const (
	ModeListening     Mode = "listening"
	ModeGuiding        Mode = "guiding"
	ModeDemonstrating  Mode = "demonstrating"
	ModeEvaluating     Mode = "evaluating"
)

// Role identifies the speaker of a [Turn].
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// Turn is one entry in the append-only conversation history.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Snapshot is the most recently received whiteboard raster plus its pixel
// dimensions. Snapshots are immutable after publish: callers read the value
// returned by [Session.LastSnapshot] without holding any lock.
type Snapshot struct {
	ImageBase64 string
	Width       int
	Height      int
	ReceivedAt  time.Time
}

// maxSnapshotRing bounds how many recent snapshots are retained for the
// proactive analyzer, mirroring the original tutor's 10-snapshot cap.
const maxSnapshotRing = 10

// Config holds the fixed, per-session layout constants that never change
// after construction.
type Config struct {
	// BoardTopMarginY is the board cursor's reset value on open and on clear.
	BoardTopMarginY int

	// BoardWriteX is the tutor's configured default x-origin.
	BoardWriteX int
}

// Session is the in-memory model of one client connection's conversation.
// All exported methods are safe for concurrent use.
type Session struct {
	// ID is the opaque session identifier from the WebSocket path.
	ID string

	cfg Config

	// TurnLock is the exclusive lease described in the package doc: acquire
	// it for the full duration of one LLM turn, including the suspension
	// points inside that turn.
	TurnLock sync.Mutex

	mu sync.Mutex

	subject string
	history []Turn
	mode    Mode

	boardCursorY int
	boardMaxY    int

	snapshots []Snapshot // ring, most recent last

	lastInteraction  time.Time
	lastProactiveAt  time.Time

	turnEpoch uint64
}

// New creates a Session with its board cursor at the configured top margin
// and mode set to listening.
func New(id string, cfg Config) *Session {
	return &Session{
		ID:              id,
		cfg:             cfg,
		mode:            ModeListening,
		boardCursorY:    cfg.BoardTopMarginY,
		lastInteraction: time.Now(),
	}
}

// Config returns the session's fixed layout constants.
func (s *Session) Config() Config { return s.cfg }

// Subject returns the free-text topic string, or "" if none was given.
func (s *Session) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// SetSubject sets the free-text topic string.
func (s *Session) SetSubject(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
}

// Mode returns the tutor's current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode updates the tutor's current mode.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// AppendTurn appends an entry to the history. The append-only discipline is
// enforced by the package surface: there is no method to mutate or remove
// an entry other than [Session.PopLastIfSynthetic], used solely to retract
// an unvalidated synthetic proactive-check turn.
func (s *Session) AppendTurn(role Role, content string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Content: content, Timestamp: at})
}

// PopLastIfSynthetic removes the last history entry if and only if it is a
// student turn with exactly the given content. Used to retract a synthetic
// proactive-check note when the LLM returns an empty response for it (see
// spec §4.3 step 5 and §4.8).
func (s *Session) PopLastIfSynthetic(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if n == 0 {
		return
	}
	last := s.history[n-1]
	if last.Role == RoleStudent && last.Content == content {
		s.history = s.history[:n-1]
	}
}

// History returns a copy of the conversation so far. Copying avoids handing
// out a slice backed by memory the mutex no longer protects.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// BoardCursorY returns the next vertical position the tutor may write at.
func (s *Session) BoardCursorY() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardCursorY
}

// SetBoardCursorY sets the next vertical write position.
func (s *Session) SetBoardCursorY(y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boardCursorY = y
}

// ResetBoardCursor resets the cursor to the configured top margin, as
// happens on an explicit clear action.
func (s *Session) ResetBoardCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boardCursorY = s.cfg.BoardTopMarginY
}

// BoardMaxY returns the maximum known vertical extent of student content.
func (s *Session) BoardMaxY() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardMaxY
}

// SetBoardMaxY updates the maximum known vertical extent of student content,
// informed by a board_snapshot's student_max_y field.
func (s *Session) SetBoardMaxY(y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if y > s.boardMaxY {
		s.boardMaxY = y
	}
}

// PushSnapshot records a new whiteboard snapshot, overwriting the "latest"
// slot and appending to the bounded recency ring.
func (s *Session) PushSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > maxSnapshotRing {
		s.snapshots = s.snapshots[len(s.snapshots)-maxSnapshotRing:]
	}
}

// LastSnapshot returns the most recently published snapshot and true, or the
// zero value and false if none has arrived yet. The returned value is a
// copy taken under the lock; callers process it without holding any lock,
// per the package's immutable-after-publish discipline.
func (s *Session) LastSnapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// MarkInteraction records wall-clock "now" as the last time the student (or
// session start) produced a message.
func (s *Session) MarkInteraction(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInteraction = at
}

// LastInteraction returns the last interaction timestamp.
func (s *Session) LastInteraction() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInteraction
}

// MarkProactive records wall-clock "now" as the last time a proactive check
// was dispatched, for the scheduler's rate limit.
func (s *Session) MarkProactive(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProactiveAt = at
}

// LastProactiveAt returns the last proactive-check dispatch timestamp.
func (s *Session) LastProactiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProactiveAt
}

// NextEpoch increments and returns the new turn epoch. Every new LLM turn
// reserves the next epoch via this call before doing anything else, so all
// of that turn's side effects can be tagged with it.
func (s *Session) NextEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnEpoch++
	return s.turnEpoch
}

// CurrentEpoch returns the most recently reserved epoch without advancing
// it. Used by the gateway to decide whether an outbound message has been
// superseded.
func (s *Session) CurrentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnEpoch
}
