package idle

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/turn"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []turn.Event
}

func (d *recordingDispatcher) Submit(ev turn.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func newTestSession() *session.Session {
	return session.New("s1", session.Config{BoardTopMarginY: 40, BoardWriteX: 80})
}

func TestCheckSkipsWhenStudentStillActive(t *testing.T) {
	sess := newTestSession()
	sess.MarkInteraction(time.Now())
	sess.PushSnapshot(session.Snapshot{ReceivedAt: time.Now()})

	d := &recordingDispatcher{}
	s := New(sess, d, 10*time.Second, time.Minute, nil)
	s.check(time.Now())

	if d.count() != 0 {
		t.Fatalf("check dispatched while student still within silence threshold")
	}
}

func TestCheckSkipsWithoutRecentDrawing(t *testing.T) {
	sess := newTestSession()
	sess.MarkInteraction(time.Now().Add(-time.Minute))
	// No snapshot pushed at all.

	d := &recordingDispatcher{}
	s := New(sess, d, 10*time.Second, time.Minute, nil)
	s.check(time.Now())

	if d.count() != 0 {
		t.Fatalf("check dispatched without any board snapshot")
	}
}

func TestCheckSkipsWhenDrawingIsStale(t *testing.T) {
	sess := newTestSession()
	sess.MarkInteraction(time.Now().Add(-time.Minute))
	sess.PushSnapshot(session.Snapshot{ReceivedAt: time.Now().Add(-time.Hour)})

	d := &recordingDispatcher{}
	s := New(sess, d, 10*time.Second, time.Minute, nil)
	s.check(time.Now())

	if d.count() != 0 {
		t.Fatalf("check dispatched on a stale snapshot")
	}
}

func TestCheckDispatchesWhenAllConditionsHold(t *testing.T) {
	sess := newTestSession()
	sess.MarkInteraction(time.Now().Add(-time.Minute))
	sess.PushSnapshot(session.Snapshot{ReceivedAt: time.Now()})

	d := &recordingDispatcher{}
	s := New(sess, d, 10*time.Second, time.Minute, nil)
	s.check(time.Now())

	if d.count() != 1 {
		t.Fatalf("count = %d, want 1", d.count())
	}
	if d.events[0].Kind != turn.EventProactiveCheck {
		t.Fatalf("dispatched event kind = %v, want EventProactiveCheck", d.events[0].Kind)
	}
}

func TestCheckRespectsMinIntervalAfterFirstDispatch(t *testing.T) {
	sess := newTestSession()
	sess.MarkInteraction(time.Now().Add(-time.Minute))
	sess.PushSnapshot(session.Snapshot{ReceivedAt: time.Now()})

	d := &recordingDispatcher{}
	s := New(sess, d, 10*time.Second, time.Minute, nil)

	now := time.Now()
	s.check(now)
	if d.count() != 1 {
		t.Fatalf("first check did not dispatch")
	}

	s.check(now.Add(5 * time.Second))
	if d.count() != 1 {
		t.Fatalf("second check within min interval dispatched again, count = %d", d.count())
	}
}

func TestRunStopsCleanly(t *testing.T) {
	sess := newTestSession()
	d := &recordingDispatcher{}
	s := New(sess, d, 10*time.Second, time.Minute, nil, WithTickInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}
