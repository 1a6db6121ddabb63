package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/indexer/indexertest"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/storage"
)

// memLocker hands out in-process locks keyed by id.
type memLocker struct {
	mu       sync.Mutex
	held     map[int64]bool
	attempts map[int64]int
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[int64]bool{}, attempts: map[int64]int{}}
}

func (l *memLocker) TryLock(ctx context.Context, id int64) (storage.Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[id]++
	if l.held[id] {
		return nil, false, nil
	}
	l.held[id] = true
	return &memLock{l: l, id: id}, true, nil
}

func (l *memLocker) Held(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}

func (l *memLocker) Attempts(id int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[id]
}

func (l *memLocker) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

type memLock struct {
	l  *memLocker
	id int64
}

func (m *memLock) ID() int64 { return m.id }

func (m *memLock) Release(ctx context.Context) error {
	m.l.release(m.id)
	return nil
}

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]int64
	saves   int
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: map[string]int64{}}
}

func (c *memCursors) Load(ctx context.Context, service string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[service], nil
}

func (c *memCursors) Save(ctx context.Context, service string, cursor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[service] = cursor
	c.saves++
	return nil
}

func (c *memCursors) Get(service string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[service]
}

// scriptDialer replays a fixed feed per endpoint, honoring the cursor.
// After the feed is exhausted a stream blocks until its context ends.
type scriptDialer struct {
	mu       sync.Mutex
	feeds    map[string][]*Event
	failures int
	cursors  []int64
	// dropAfter ends the first stream after that many events.
	dropAfter int
}

func newScriptDialer() *scriptDialer {
	return &scriptDialer{feeds: map[string][]*Event{}}
}

func (d *scriptDialer) Dial(ctx context.Context, endpoint string, cursor int64) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursors = append(d.cursors, cursor)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	var evs []*Event
	for _, ev := range d.feeds[endpoint] {
		if ev.Seq > cursor {
			evs = append(evs, ev)
		}
	}
	drop := d.dropAfter
	d.dropAfter = 0
	return &scriptStream{ctx: ctx, events: evs, dropAfter: drop}, nil
}

func (d *scriptDialer) Cursors() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.cursors...)
}

type scriptStream struct {
	ctx       context.Context
	events    []*Event
	i         int
	dropAfter int
}

func (s *scriptStream) Next() (*Event, error) {
	if s.dropAfter > 0 && s.i == s.dropAfter {
		return nil, errors.New("connection reset by peer")
	}
	if s.i < len(s.events) {
		ev := s.events[s.i]
		s.i++
		return ev, nil
	}
	<-s.ctx.Done()
	return nil, s.ctx.Err()
}

func (s *scriptStream) Close() error { return nil }

// gatedIndexer blocks every transaction until the gate is opened.
type gatedIndexer struct {
	indexer.Service
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedIndexer) Transact(ctx context.Context, fn func(ctx context.Context, tx indexer.Tx) error) error {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.Service.Transact(ctx, fn)
}

// stallIndexer blocks every transaction until its context ends.
type stallIndexer struct {
	indexer.Service
	calls atomic.Int32
}

func (s *stallIndexer) Transact(ctx context.Context, fn func(ctx context.Context, tx indexer.Tx) error) error {
	s.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type env struct {
	repos   *indexertest.Repos
	ids     *indexertest.Identities
	idx     *indexertest.Memory
	locker  *memLocker
	cursors *memCursors
	dialer  *scriptDialer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repos := indexertest.NewRepos()
	ids := indexertest.NewIdentities()
	return &env{
		repos:   repos,
		ids:     ids,
		idx:     indexertest.New(repos, ids),
		locker:  newMemLocker(),
		cursors: newMemCursors(),
		dialer:  newScriptDialer(),
	}
}

func (e *env) deps() Deps {
	return Deps{Indexer: e.idx, Locker: e.locker, Cursors: e.cursors, Dialer: e.dialer}
}

// commit registers a snapshot for did at root and returns the matching frame.
func (e *env) commit(seq int64, did, root, rev string) *Event {
	e.repos.Put(&repo.Snapshot{DID: did, Root: root, Rev: rev})
	return &Event{Seq: seq, Type: EventCommit, Repo: did, Commit: root, Rev: rev, Time: time.Now()}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.CheckpointInterval = 10 * time.Millisecond
	cfg.DrainTimeout = 5 * time.Second
	return cfg
}
