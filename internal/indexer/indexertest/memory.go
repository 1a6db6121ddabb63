// Package indexertest provides an in-memory indexer.Service for tests of
// packages that drive the indexer. It applies the same watermark policy as
// the Postgres implementation and discards all staged writes when a
// transaction fails.
package indexertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/storage"
	"github.com/syntrixbase/appview/internal/watermark"
)

type state struct {
	actors     map[string]string
	roots      map[string]string
	records    map[string]map[string]string
	watermarks map[string]watermark.Watermark
}

func newState() state {
	return state{
		actors:     map[string]string{},
		roots:      map[string]string{},
		records:    map[string]map[string]string{},
		watermarks: map[string]watermark.Watermark{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.actors {
		c.actors[k] = v
	}
	for k, v := range s.roots {
		c.roots[k] = v
	}
	for did, recs := range s.records {
		m := make(map[string]string, len(recs))
		for k, v := range recs {
			m[k] = v
		}
		c.records[did] = m
	}
	for k, v := range s.watermarks {
		c.watermarks[k] = v
	}
	return c
}

// Memory is an in-memory indexer.Service.
type Memory struct {
	Reader     repo.Reader
	Resolver   identity.Resolver
	MaxRecords int

	mu          sync.Mutex
	state       state
	unavailable bool
	commits     int
}

func New(reader repo.Reader, resolver identity.Resolver) *Memory {
	return &Memory{Reader: reader, Resolver: resolver, MaxRecords: 10000, state: newState()}
}

// SetUnavailable makes every subsequent transaction fail to begin.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

func (m *Memory) Transact(ctx context.Context, fn func(ctx context.Context, tx indexer.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return fmt.Errorf("%w: begin: connection refused", storage.ErrUnavailable)
	}

	tx := &memTx{m: m, st: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.st
	m.commits++
	return nil
}

// Commits returns the number of committed transactions.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Handle returns the committed handle of did and whether the actor exists.
func (m *Memory) Handle(did string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.state.actors[did]
	return h, ok
}

// Watermark returns the committed watermark of did, or nil.
func (m *Memory) Watermark(did string) *watermark.Watermark {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.watermarks[did]
	if !ok {
		return nil
	}
	return &w
}

// Records returns the committed record URIs of did mapped to their CIDs.
func (m *Memory) Records(did string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.state.records[did]))
	for k, v := range m.state.records[did] {
		out[k] = v
	}
	return out
}

// Actor is a committed actor row.
type Actor struct {
	DID    string
	Handle string
}

// MatchActors returns committed actors whose handle starts with prefix, or
// equals it when exact is set, ordered by handle.
func (m *Memory) MatchActors(prefix string, exact bool) []Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Actor
	for did, h := range m.state.actors {
		if h == "" {
			continue
		}
		if (exact && h == prefix) || (!exact && strings.HasPrefix(h, prefix)) {
			out = append(out, Actor{DID: did, Handle: h})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

type memTx struct {
	m  *Memory
	st state
}

func (t *memTx) IndexRepo(ctx context.Context, did, commit string, rebase bool) (indexer.AppliedCommit, error) {
	snap, err := t.m.Reader.Snapshot(ctx, did, commit)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return indexer.AppliedCommit{}, &indexer.ValidationError{DID: did, Commit: commit, Reason: "commit not found", Err: err}
		}
		return indexer.AppliedCommit{}, err
	}
	if snap.DID != did || snap.Rev == "" || (commit != "" && snap.Root != commit) {
		return indexer.AppliedCommit{}, &indexer.ValidationError{DID: did, Commit: commit, Reason: "snapshot mismatch"}
	}

	var stored *watermark.Watermark
	if w, ok := t.st.watermarks[did]; ok {
		stored = &w
	}
	if err := watermark.CheckAncestry(stored, snap.Root, snap.Rev, snap.Prev, rebase); err != nil {
		return indexer.AppliedCommit{}, &indexer.ValidationError{DID: did, Commit: snap.Root, Reason: "ancestry check failed", Err: err}
	}

	records := append([]repo.Record(nil), snap.Records...)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Collection+"/"+records[i].RKey < records[j].Collection+"/"+records[j].RKey
	})
	tooBig := snap.TooBig
	if len(records) > t.m.MaxRecords {
		records = records[:t.m.MaxRecords]
		tooBig = true
	}

	recs := t.st.records[did]
	if recs == nil || !tooBig {
		recs = map[string]string{}
	}
	for _, r := range records {
		recs[r.URI(did)] = r.CID
	}
	t.st.records[did] = recs
	t.st.roots[did] = snap.Root

	return indexer.AppliedCommit{Root: snap.Root, Rev: snap.Rev, Rebase: rebase, TooBig: tooBig}, nil
}

func (t *memTx) IndexHandle(ctx context.Context, did string, observedAt time.Time) (string, error) {
	handle, err := identity.VerifiedHandle(ctx, t.m.Resolver, did)
	if err != nil {
		return "", fmt.Errorf("failed to resolve handle of %s: %w", did, err)
	}
	if handle != "" {
		for other, h := range t.st.actors {
			if h == handle && other != did {
				t.st.actors[other] = ""
			}
		}
	}
	t.st.actors[did] = handle
	return handle, nil
}

func (t *memTx) SetCommitLastSeen(ctx context.Context, did string, applied indexer.AppliedCommit) (bool, error) {
	var stored *watermark.Watermark
	if w, ok := t.st.watermarks[did]; ok {
		stored = &w
	}
	c := watermark.Candidate{Commit: applied.Root, Rev: applied.Rev, Rebase: applied.Rebase, TooBig: applied.TooBig}
	if !watermark.Accept(stored, c) {
		return false, nil
	}
	t.st.watermarks[did] = watermark.Watermark{
		DID: did, Commit: c.Commit, Rev: c.Rev, Rebase: c.Rebase, TooBig: c.TooBig, ObservedAt: time.Now(),
	}
	return true, nil
}

func (t *memTx) ApplyCommit(ctx context.Context, did, commit string, meta indexer.CommitMeta) (indexer.AppliedCommit, error) {
	if meta.Rev != "" {
		var stored *watermark.Watermark
		if w, ok := t.st.watermarks[did]; ok {
			stored = &w
		}
		if !watermark.Accept(stored, watermark.Candidate{Commit: commit, Rev: meta.Rev, Rebase: meta.Rebase}) {
			return indexer.AppliedCommit{}, indexer.ErrStaleCommit
		}
	}
	applied, err := t.IndexRepo(ctx, did, commit, meta.Rebase)
	if err != nil {
		return indexer.AppliedCommit{}, err
	}
	if _, known := t.st.actors[did]; !known {
		if _, err := t.IndexHandle(ctx, did, meta.Time); err != nil {
			return indexer.AppliedCommit{}, err
		}
	}
	ok, err := t.SetCommitLastSeen(ctx, did, applied)
	if err != nil {
		return indexer.AppliedCommit{}, err
	}
	if !ok {
		return indexer.AppliedCommit{}, indexer.ErrStaleCommit
	}
	return applied, nil
}

var _ indexer.Service = (*Memory)(nil)
