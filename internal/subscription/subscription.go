// Package subscription consumes upstream commit feeds into the index.
//
// A Subscription owns one upstream endpoint. It holds a deployment-wide
// advisory lock for as long as it runs so that only one process consumes a
// given endpoint, applies events on DID-partitioned workers, and persists a
// resume cursor that never passes an event not yet applied. Commits from
// several endpoints may touch the same repository; the repository watermark
// keeps those overlapping deliveries safe.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/metrics"
	"github.com/syntrixbase/appview/internal/storage"
)

var ErrAlreadyStarted = errors.New("subscription already started")

// Deps are the collaborators of a Subscription.
type Deps struct {
	Indexer indexer.Service
	Locker  storage.Locker
	Cursors CursorStore
	Dialer  Dialer
}

// Status is a point-in-time view of a Subscription.
type Status struct {
	Endpoint  string    `json:"endpoint"`
	LockID    int64     `json:"lock_id"`
	State     string    `json:"state"`
	Cursor    int64     `json:"cursor"`
	LastEvent time.Time `json:"last_event,omitempty"`
	Errors    int64     `json:"errors"`
}

type Subscription struct {
	endpoint string
	lockID   int64
	cfg      Config
	deps     Deps
	logger   *slog.Logger

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	doneOnce sync.Once
	done     chan struct{}

	window    *window
	tracker   *tracker
	kick      chan struct{}
	saved     atomic.Int64
	lastEvent atomic.Int64
	errCount  atomic.Int64
}

func New(endpoint string, lockID int64, cfg Config, deps Deps, logger *slog.Logger) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscription{
		endpoint: endpoint,
		lockID:   lockID,
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With("component", "subscription", "endpoint", endpoint, "lock_id", lockID),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		window:   newWindow(0),
		tracker:  newTracker(cfg.CheckpointInterval, cfg.CheckpointEvents),
		kick:     make(chan struct{}, 1),
	}
	metrics.SubscriptionState.WithLabelValues(endpoint).Set(float64(StateIdle))
	return s
}

func (s *Subscription) Endpoint() string { return s.endpoint }

func (s *Subscription) LockID() int64 { return s.lockID }

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Done is closed once the subscription has stopped and released its lock.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Status() Status {
	st := Status{
		Endpoint: s.endpoint,
		LockID:   s.lockID,
		State:    s.State().String(),
		Cursor:   s.saved.Load(),
		Errors:   s.errCount.Load(),
	}
	if ns := s.lastEvent.Load(); ns > 0 {
		st.LastEvent = time.Unix(0, ns)
	}
	return st
}

func (s *Subscription) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	metrics.SubscriptionState.WithLabelValues(s.endpoint).Set(float64(to))
	s.logger.Info("Subscription state changed", "from", from.String(), "to", to.String())
	return true
}

func (s *Subscription) finish() {
	s.doneOnce.Do(func() {
		s.state.Store(int32(StateStopped))
		metrics.SubscriptionState.WithLabelValues(s.endpoint).Set(float64(StateStopped))
		close(s.done)
	})
}

// Run acquires the endpoint lock and consumes the upstream feed until Stop
// is called or ctx is cancelled. It returns an error only when the retry
// budget runs out.
func (s *Subscription) Run(ctx context.Context) error {
	if !s.transition(StateIdle, StateStarting) {
		if s.State() == StateStopped {
			return nil
		}
		return ErrAlreadyStarted
	}
	defer s.finish()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	lock, err := s.acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			s.logger.Error("Failed to release subscription lock", "error", err)
		}
	}()

	if !s.transition(StateStarting, StateRunning) {
		return nil
	}
	return s.consume(ctx)
}

// Stop drains the subscription: it stops reading, waits for in-flight
// applies, persists the cursor and releases the lock. It returns when the
// subscription is stopped or ctx is done.
func (s *Subscription) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			s.finish()
		} else if !s.transition(StateStarting, StateDraining) {
			s.transition(StateRunning, StateDraining)
		}
		close(s.stopCh)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire polls the lock with backoff. The subscription stays Starting
// while another process holds it.
func (s *Subscription) acquire(ctx context.Context) (storage.Lock, error) {
	bo := NewBackoff(s.cfg)
	for {
		lock, ok, err := s.deps.Locker.TryLock(ctx, s.lockID)
		if err == nil && ok {
			s.logger.Info("Subscription lock acquired")
			return lock, nil
		}
		if err != nil {
			s.errCount.Add(1)
			s.logger.Warn("Failed to try subscription lock", "error", err)
		} else {
			s.logger.Info("Subscription lock held elsewhere, waiting", "attempt", bo.Attempts()+1)
		}
		if werr := bo.Wait(ctx); werr != nil {
			return nil, fmt.Errorf("failed to acquire lock %d: %w", s.lockID, werr)
		}
	}
}

func (s *Subscription) loadCursor(ctx context.Context) (int64, error) {
	bo := NewBackoff(s.cfg)
	for {
		cursor, err := s.deps.Cursors.Load(ctx, s.endpoint)
		if err == nil {
			return cursor, nil
		}
		s.errCount.Add(1)
		metrics.CursorErrors.WithLabelValues(s.endpoint).Inc()
		s.logger.Warn("Failed to load cursor", "error", err)
		if werr := bo.Wait(ctx); werr != nil {
			return 0, fmt.Errorf("failed to load cursor: %w", werr)
		}
	}
}

func (s *Subscription) consume(ctx context.Context) error {
	cursor, err := s.loadCursor(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.window = newWindow(cursor)
	s.saved.Store(cursor)
	s.logger.Info("Consuming upstream", "cursor", cursor)

	applyCtx, cancelApply := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelApply()

	p := newPool(applyCtx, s.cfg.Workers, s.cfg.QueueSize, s.apply)

	cpCtx, stopCheckpoints := context.WithCancel(applyCtx)
	cpDone := make(chan struct{})
	go func() {
		defer close(cpDone)
		s.checkpointLoop(cpCtx)
	}()

	readErr := s.readLoop(ctx, p, cursor)

	s.transition(StateRunning, StateDraining)
	p.close()
	drained := make(chan struct{})
	go func() {
		_ = p.wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("Drain timeout exceeded, cancelling in-flight applies", "pending", s.window.Pending())
		cancelApply()
		<-drained
	}

	stopCheckpoints()
	<-cpDone

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.checkpoint(saveCtx)
	s.logger.Info("Subscription drained", "cursor", s.saved.Load())
	return readErr
}

// readLoop dials upstream and dispatches events until ctx is done,
// reconnecting with backoff after failures.
func (s *Subscription) readLoop(ctx context.Context, p *pool, cursor int64) error {
	bo := NewBackoff(s.cfg)
	last := cursor
	for {
		stream, err := s.deps.Dialer.Dial(ctx, s.endpoint, last)
		if err == nil {
			last, err = s.pump(ctx, stream, p, last, bo)
			stream.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		s.errCount.Add(1)
		metrics.Reconnects.WithLabelValues(s.endpoint).Inc()
		s.logger.Warn("Upstream connection lost", "error", err, "cursor", last, "attempt", bo.Attempts()+1)
		if werr := bo.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscription %s: %w: %v", s.endpoint, werr, err)
		}
	}
}

func (s *Subscription) pump(ctx context.Context, stream Stream, p *pool, last int64, bo *Backoff) (int64, error) {
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				s.logger.Warn("Skipping malformed frame", "error", err)
				continue
			}
			return last, err
		}
		bo.Reset()
		s.lastEvent.Store(time.Now().UnixNano())
		metrics.EventsIngested.WithLabelValues(s.endpoint, ev.Type).Inc()

		if ev.Type == EventInfo {
			s.logger.Info("Upstream info", "name", ev.Name, "message", ev.Message)
			continue
		}
		if ev.Seq > 0 && ev.Seq <= last {
			continue
		}

		s.window.Track(ev.Seq)
		switch ev.Type {
		case EventCommit, EventHandle:
			if err := p.dispatch(ctx, ev); err != nil {
				return last, err
			}
		default:
			s.complete(ev.Seq)
		}
		if ev.Seq > last {
			last = ev.Seq
		}
	}
}

// apply runs one event and acknowledges it in the cursor window once its
// outcome is final. Events cancelled by a drain timeout and events that
// exhausted their retries against unavailable storage stay unacknowledged,
// so the persisted cursor never passes them and they replay after restart.
func (s *Subscription) apply(ctx context.Context, ev *Event) {
	start := time.Now()
	defer func() {
		metrics.ApplyLatency.WithLabelValues(s.endpoint).Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 1; ; attempt++ {
		err = s.applyOnce(ctx, ev)
		if err == nil || !retryable(err) || attempt >= s.cfg.ApplyRetries {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.InitialBackoff):
		}
		if ctx.Err() != nil {
			break
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, indexer.ErrStaleCommit):
		s.logger.Debug("Skipping stale commit", "did", ev.Repo, "commit", ev.Commit, "rev", ev.Rev)
	case ctx.Err() != nil || retryable(err):
		s.errCount.Add(1)
		metrics.ApplyErrors.WithLabelValues(s.endpoint).Inc()
		s.logger.Error("Event not applied, holding cursor below it", "seq", ev.Seq, "type", ev.Type, "did", ev.Repo, "error", err)
		return
	default:
		s.errCount.Add(1)
		metrics.ApplyErrors.WithLabelValues(s.endpoint).Inc()
		if ev.Type == EventCommit {
			metrics.CommitsApplied.WithLabelValues("firehose", "error").Inc()
		}
		s.logger.Error("Failed to apply event", "seq", ev.Seq, "type", ev.Type, "did", ev.Repo, "error", err)
	}
	s.complete(ev.Seq)
}

// retryable reports whether err may succeed on a later attempt. Invalid
// commits and unresolvable identities are final even when they timed out.
func retryable(err error) bool {
	if errors.Is(err, indexer.ErrValidation) || errors.Is(err, identity.ErrResolution) {
		return false
	}
	return errors.Is(err, storage.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *Subscription) applyOnce(ctx context.Context, ev *Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ApplyTimeout)
	defer cancel()

	observed := ev.Time
	if observed.IsZero() {
		observed = time.Now()
	}
	switch ev.Type {
	case EventCommit:
		meta := indexer.CommitMeta{Rev: ev.Rev, Rebase: ev.Rebase, TooBig: ev.TooBig, Time: observed}
		return s.deps.Indexer.Transact(ctx, func(ctx context.Context, tx indexer.Tx) error {
			_, err := tx.ApplyCommit(ctx, ev.Repo, ev.Commit, meta)
			return err
		})
	case EventHandle:
		return s.deps.Indexer.Transact(ctx, func(ctx context.Context, tx indexer.Tx) error {
			_, err := tx.IndexHandle(ctx, ev.Repo, observed)
			return err
		})
	}
	return nil
}

func (s *Subscription) complete(seq int64) {
	s.window.Done(seq)
	if s.tracker.RecordEvent() {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

func (s *Subscription) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.checkpoint(ctx)
	}
}

// checkpoint persists the highest fully applied sequence number if it moved.
func (s *Subscription) checkpoint(ctx context.Context) {
	safe := s.window.Safe()
	if safe <= s.saved.Load() {
		s.tracker.MarkCheckpointed()
		return
	}
	if err := s.deps.Cursors.Save(ctx, s.endpoint, safe); err != nil {
		s.errCount.Add(1)
		metrics.CursorErrors.WithLabelValues(s.endpoint).Inc()
		s.logger.Warn("Failed to save cursor", "cursor", safe, "error", err)
		return
	}
	s.saved.Store(safe)
	s.tracker.MarkCheckpointed()
	metrics.CursorsSaved.WithLabelValues(s.endpoint).Inc()
}
