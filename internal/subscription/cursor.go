package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syntrixbase/appview/internal/storage"
)

// CursorStore persists the resume position of each upstream endpoint.
type CursorStore interface {
	// Load returns the saved cursor of service, or 0 when none exists.
	Load(ctx context.Context, service string) (int64, error)
	Save(ctx context.Context, service string, cursor int64) error
}

type SQLCursorStore struct {
	db  storage.Querier
	now func() time.Time
}

func NewSQLCursorStore(db storage.Querier) *SQLCursorStore {
	return &SQLCursorStore{db: db, now: time.Now}
}

func (s *SQLCursorStore) Load(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM subscription_cursor WHERE service = $1`, service).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor of %s: %w", service, err)
	}
	return cursor, nil
}

func (s *SQLCursorStore) Save(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO subscription_cursor (service, cursor, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (service) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`,
		service, cursor, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cursor of %s: %w", service, err)
	}
	return nil
}

// window tracks dispatched sequence numbers and reports the highest one
// below which every event has completed.
type window struct {
	mu       sync.Mutex
	inflight []int64
	done     map[int64]bool
	safe     int64
}

func newWindow(start int64) *window {
	return &window{done: make(map[int64]bool), safe: start}
}

func (w *window) Track(seq int64) {
	if seq <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight = append(w.inflight, seq)
}

func (w *window) Done(seq int64) {
	if seq <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done[seq] = true
	for len(w.inflight) > 0 && w.done[w.inflight[0]] {
		head := w.inflight[0]
		delete(w.done, head)
		w.inflight = w.inflight[1:]
		if head > w.safe {
			w.safe = head
		}
	}
}

func (w *window) Safe() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.safe
}

// Pending returns the number of tracked events not yet covered by Safe.
func (w *window) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// tracker decides when to checkpoint based on elapsed time and completed
// event count.
type tracker struct {
	mu             sync.Mutex
	interval       time.Duration
	eventCount     int
	lastCheckpoint time.Time
	eventsSince    int
}

func newTracker(interval time.Duration, eventCount int) *tracker {
	return &tracker{interval: interval, eventCount: eventCount, lastCheckpoint: time.Now()}
}

// RecordEvent records a completed event and returns true if a checkpoint
// should be saved.
func (t *tracker) RecordEvent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventsSince++
	if t.eventsSince >= t.eventCount {
		return true
	}
	return time.Since(t.lastCheckpoint) >= t.interval
}

func (t *tracker) MarkCheckpointed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCheckpoint = time.Now()
	t.eventsSince = 0
}
