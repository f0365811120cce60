package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vocalytics/internal/models"
)

// Subscriber receives progress events for one job. *websocket.Conn satisfies it.
type Subscriber interface {
	WriteJSON(v any) error
	Close() error
}

// Snapshot is a copy of a tracked job.
type Snapshot struct {
	Job       models.TranscriptionJob
	Text      string
	Segments  []models.Segment
	Err       string
	Last      models.ProgressEvent
	UpdatedAt time.Time
}

type entry struct {
	Snapshot
	cancel        context.CancelFunc
	hadSubscriber bool

	// send orders writes to the job's subscribers so that a new viewer's
	// initial event never lands after a later broadcast.
	send sync.Mutex
}

// Tracker holds in-flight and recently finished jobs and the viewers
// subscribed to them. Each job owns a cancel func that stops its polling; it
// fires when the last subscriber leaves, on Cancel, on TTL cleanup, or on
// Shutdown.
type Tracker struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry
	subs map[string]map[Subscriber]struct{}
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*entry),
		subs:   make(map[string]map[Subscriber]struct{}),
	}
}

// Add starts tracking job. cancel stops the job's polling goroutine.
func (t *Tracker) Add(job models.TranscriptionJob, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.Name] = &entry{
		Snapshot: Snapshot{
			Job:       job,
			Last:      models.ProgressEvent{ID: job.Name, Status: job.Status},
			UpdatedAt: t.now(),
		},
		cancel: cancel,
	}
}

func (t *Tracker) Get(id string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.copy(), true
}

// Update applies fn to the tracked job, if any.
func (t *Tracker) Update(id string, fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.jobs[id]; ok {
		fn(&e.Snapshot)
		e.UpdatedAt = t.now()
	}
}

// Recent returns owner's jobs, most recently updated first.
func (t *Tracker) Recent(owner string, limit int) []Snapshot {
	t.mu.RLock()
	out := make([]Snapshot, 0, len(t.jobs))
	for _, e := range t.jobs {
		if e.Job.Owner == owner {
			out = append(out, e.copy())
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Subscribe registers sub for id's events and sends it the latest one.
func (t *Tracker) Subscribe(id string, sub Subscriber) bool {
	t.mu.RLock()
	e, ok := t.jobs[id]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	e.send.Lock()
	defer e.send.Unlock()

	t.mu.Lock()
	if t.jobs[id] != e {
		t.mu.Unlock()
		return false
	}
	if t.subs[id] == nil {
		t.subs[id] = make(map[Subscriber]struct{})
	}
	t.subs[id][sub] = struct{}{}
	e.hadSubscriber = true
	last := e.Last
	t.mu.Unlock()

	if err := sub.WriteJSON(last); err != nil {
		t.Unsubscribe(id, sub)
	}
	return true
}

// Unsubscribe removes sub. When it was the last viewer of a job that has
// not finished, the job's polling is cancelled.
func (t *Tracker) Unsubscribe(id string, sub Subscriber) {
	t.mu.Lock()
	if _, ok := t.subs[id][sub]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.subs[id], sub)
	var cancel context.CancelFunc
	if len(t.subs[id]) == 0 {
		delete(t.subs, id)
		if e, ok := t.jobs[id]; ok && e.hadSubscriber && !finished(e.Job.Status) {
			cancel = e.cancel
		}
	}
	t.mu.Unlock()

	_ = sub.Close()
	if cancel != nil {
		t.logger.Info("last viewer left, stopping job polling", "job_id", id)
		cancel()
	}
}

// Broadcast records evt as the job's latest event and sends it to every
// subscriber. Subscribers that fail to receive it are dropped.
func (t *Tracker) Broadcast(id string, evt models.ProgressEvent) {
	t.mu.RLock()
	e, ok := t.jobs[id]
	t.mu.RUnlock()
	if ok {
		e.send.Lock()
		defer e.send.Unlock()
	}

	t.mu.Lock()
	if ok && t.jobs[id] == e {
		e.Last = evt
		e.UpdatedAt = t.now()
	}
	subs := make([]Subscriber, 0, len(t.subs[id]))
	for s := range t.subs[id] {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		if err := s.WriteJSON(evt); err != nil {
			t.logger.Warn("dropping job subscriber", "job_id", id, "error", err)
			t.Unsubscribe(id, s)
		}
	}
}

// Cancel stops polling of an unfinished job.
func (t *Tracker) Cancel(id string) bool {
	t.mu.RLock()
	e, ok := t.jobs[id]
	var cancel context.CancelFunc
	if ok && !finished(e.Job.Status) {
		cancel = e.cancel
	}
	t.mu.RUnlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Shutdown cancels every job and disconnects all subscribers.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	var cancels []context.CancelFunc
	for _, e := range t.jobs {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	var subs []Subscriber
	for id, set := range t.subs {
		for s := range set {
			subs = append(subs, s)
		}
		delete(t.subs, id)
	}
	t.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, s := range subs {
		_ = s.Close()
	}
}

func (t *Tracker) StartCleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.cleanup(ttl)
			}
		}
	}()
}

func (t *Tracker) cleanup(ttl time.Duration) {
	cutoff := t.now().Add(-ttl)
	var (
		cancels []context.CancelFunc
		subs    []Subscriber
		removed int
	)

	t.mu.Lock()
	for id, e := range t.jobs {
		if !e.UpdatedAt.Before(cutoff) {
			continue
		}
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
		for s := range t.subs[id] {
			subs = append(subs, s)
		}
		delete(t.subs, id)
		delete(t.jobs, id)
		removed++
	}
	t.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, s := range subs {
		_ = s.Close()
	}
	if removed > 0 {
		t.logger.Info("cleanup completed", "removed_jobs", removed)
	}
}

func (e *entry) copy() Snapshot {
	s := e.Snapshot
	s.Segments = append([]models.Segment(nil), e.Segments...)
	return s
}

func finished(s models.JobStatus) bool {
	return s.Terminal() || s == models.StatusCancelled
}
