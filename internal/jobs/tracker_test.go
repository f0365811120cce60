package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"vocalytics/internal/models"
)

type fakeSub struct {
	mu     sync.Mutex
	events []models.ProgressEvent
	fail   bool
	closed bool
}

func (f *fakeSub) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.events = append(f.events, v.(models.ProgressEvent))
	return nil
}

func (f *fakeSub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// gatedSub blocks its first write until release is closed.
type gatedSub struct {
	fakeSub
	gate    sync.Mutex
	started bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSub) WriteJSON(v any) error {
	g.gate.Lock()
	first := !g.started
	g.started = true
	g.gate.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeSub.WriteJSON(v)
}

func newTracker() *Tracker {
	return NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type cancelSpy struct{ calls int }

func (c *cancelSpy) cancel() { c.calls++ }

func job(name, owner string) models.TranscriptionJob {
	return models.TranscriptionJob{Name: name, Owner: owner, Status: models.StatusSubmitted}
}

func TestSubscribeReceivesLatestEvent(t *testing.T) {
	tr := newTracker()
	tr.Add(job("j1", "alice"), func() {})
	tr.Broadcast("j1", models.ProgressEvent{ID: "j1", Status: models.StatusInProgress})

	sub := &fakeSub{}
	if !tr.Subscribe("j1", sub) {
		t.Fatal("subscribe failed")
	}
	if len(sub.events) != 1 || sub.events[0].Status != models.StatusInProgress {
		t.Fatalf("events = %+v", sub.events)
	}
	if tr.Subscribe("missing", &fakeSub{}) {
		t.Fatal("subscribed to unknown job")
	}
}

func TestSubscribeInitialEventPrecedesConcurrentBroadcast(t *testing.T) {
	tr := newTracker()
	tr.Add(job("j1", "alice"), func() {})
	sub := &gatedSub{entered: make(chan struct{}), release: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tr.Subscribe("j1", sub)
	}()
	<-sub.entered
	go func() {
		defer wg.Done()
		tr.Broadcast("j1", models.ProgressEvent{ID: "j1", Status: models.StatusCompleted})
	}()
	time.Sleep(20 * time.Millisecond)
	close(sub.release)
	wg.Wait()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if n := len(sub.events); n == 0 || sub.events[n-1].Status != models.StatusCompleted {
		t.Fatalf("events = %+v, want the broadcast last", sub.events)
	}
	if snap, _ := tr.Get("j1"); snap.Last.Status != models.StatusCompleted {
		t.Fatalf("last = %+v", snap.Last)
	}
}

func TestBroadcastDropsBrokenSubscribers(t *testing.T) {
	tr := newTracker()
	tr.Add(job("j1", "alice"), func() {})
	good, bad := &fakeSub{}, &fakeSub{}
	tr.Subscribe("j1", good)
	tr.Subscribe("j1", bad)
	bad.fail = true

	tr.Broadcast("j1", models.ProgressEvent{ID: "j1", Status: models.StatusInProgress})
	tr.Broadcast("j1", models.ProgressEvent{ID: "j1", Status: models.StatusCompleted})

	if len(good.events) != 3 {
		t.Fatalf("good events = %d, want 3", len(good.events))
	}
	if !bad.closed {
		t.Fatal("broken subscriber not closed")
	}
}

func TestLastSubscriberLeavingCancels(t *testing.T) {
	tr := newTracker()
	spy := &cancelSpy{}
	tr.Add(job("j1", "alice"), spy.cancel)
	a, b := &fakeSub{}, &fakeSub{}
	tr.Subscribe("j1", a)
	tr.Subscribe("j1", b)

	tr.Unsubscribe("j1", a)
	if spy.calls != 0 {
		t.Fatal("cancelled with a viewer left")
	}
	tr.Unsubscribe("j1", b)
	if spy.calls != 1 {
		t.Fatalf("cancel calls = %d, want 1", spy.calls)
	}
}

func TestFinishedJobNotCancelledOnLeave(t *testing.T) {
	tr := newTracker()
	spy := &cancelSpy{}
	tr.Add(job("j1", "alice"), spy.cancel)
	sub := &fakeSub{}
	tr.Subscribe("j1", sub)
	tr.Update("j1", func(s *Snapshot) { s.Job.Status = models.StatusCompleted })

	tr.Unsubscribe("j1", sub)
	if spy.calls != 0 {
		t.Fatal("completed job cancelled")
	}
	if tr.Cancel("j1") {
		t.Fatal("Cancel reported success on a completed job")
	}
}

func TestCancel(t *testing.T) {
	tr := newTracker()
	spy := &cancelSpy{}
	tr.Add(job("j1", "alice"), spy.cancel)
	if !tr.Cancel("j1") || spy.calls != 1 {
		t.Fatalf("cancel calls = %d", spy.calls)
	}
	if tr.Cancel("missing") {
		t.Fatal("cancelled unknown job")
	}
}

func TestRecentIsOwnerScoped(t *testing.T) {
	tr := newTracker()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	tr.Add(job("j1", "alice"), func() {})
	tr.Add(job("j2", "bob"), func() {})
	tr.Add(job("j3", "alice"), func() {})

	got := tr.Recent("alice", 10)
	if len(got) != 2 || got[0].Job.Name != "j3" || got[1].Job.Name != "j1" {
		t.Fatalf("recent = %+v", got)
	}
	if got := tr.Recent("alice", 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	tr := newTracker()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	spy := &cancelSpy{}
	tr.Add(job("old", "alice"), spy.cancel)
	sub := &fakeSub{}
	tr.Subscribe("old", sub)

	now = now.Add(3 * time.Hour)
	tr.Add(job("fresh", "alice"), func() {})
	tr.cleanup(2 * time.Hour)

	if _, ok := tr.Get("old"); ok {
		t.Fatal("expired job kept")
	}
	if _, ok := tr.Get("fresh"); !ok {
		t.Fatal("fresh job removed")
	}
	if spy.calls != 1 || !sub.closed {
		t.Fatalf("cancel = %d, closed = %v", spy.calls, sub.closed)
	}
}

func TestShutdownCancelsAll(t *testing.T) {
	tr := newTracker()
	spy := &cancelSpy{}
	tr.Add(job("j1", "alice"), spy.cancel)
	tr.Add(job("j2", "alice"), spy.cancel)
	sub := &fakeSub{}
	tr.Subscribe("j1", sub)

	tr.Shutdown()
	if spy.calls != 2 || !sub.closed {
		t.Fatalf("cancel = %d, closed = %v", spy.calls, sub.closed)
	}
}

func TestStartCleanupLoopStopsWithContext(t *testing.T) {
	tr := newTracker()
	ctx, cancel := context.WithCancel(context.Background())
	tr.StartCleanupLoop(ctx, time.Millisecond, time.Hour)
	cancel()
	tr.StartCleanupLoop(context.Background(), 0, time.Hour)
}

func TestGetReturnsCopy(t *testing.T) {
	tr := newTracker()
	tr.Add(job("j1", "alice"), func() {})
	tr.Update("j1", func(s *Snapshot) {
		s.Segments = []models.Segment{{Start: 0, Content: "hi"}}
	})
	snap, _ := tr.Get("j1")
	snap.Segments[0].Content = "changed"
	again, _ := tr.Get("j1")
	if again.Segments[0].Content != "hi" {
		t.Fatal("snapshot aliases tracker state")
	}
}
