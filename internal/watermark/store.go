package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/appview/internal/storage"
)

// Store persists watermarks in the repo_watermark table. It holds no
// connection of its own; every call runs on the caller's Querier so the
// watermark update commits or rolls back with the index rows it accounts for.
type Store struct {
	now func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Get returns the watermark for did, or nil when none exists.
func (s *Store) Get(ctx context.Context, q storage.Querier, did string) (*Watermark, error) {
	return s.scan(q.QueryRowContext(ctx, `
		SELECT did, commit, rev, rebase, too_big, observed_at
		FROM repo_watermark WHERE did = $1
	`, did))
}

// CompareAndSet stores c as the new watermark for did if Accept allows it.
// The existing row is locked for the rest of the transaction. A rejected
// candidate returns false and leaves the row untouched.
func (s *Store) CompareAndSet(ctx context.Context, q storage.Querier, did string, c Candidate) (bool, error) {
	stored, err := s.scan(q.QueryRowContext(ctx, `
		SELECT did, commit, rev, rebase, too_big, observed_at
		FROM repo_watermark WHERE did = $1
		FOR UPDATE
	`, did))
	if err != nil {
		return false, err
	}

	if !Accept(stored, c) {
		return false, nil
	}

	observedAt := c.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO repo_watermark (did, commit, rev, rebase, too_big, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (did) DO UPDATE SET
			commit = EXCLUDED.commit,
			rev = EXCLUDED.rev,
			rebase = EXCLUDED.rebase,
			too_big = EXCLUDED.too_big,
			observed_at = EXCLUDED.observed_at
	`, did, c.Commit, c.Rev, c.Rebase, c.TooBig, observedAt)
	if err != nil {
		return false, fmt.Errorf("failed to store watermark for %s: %w", did, err)
	}
	return true, nil
}

func (s *Store) scan(row *sql.Row) (*Watermark, error) {
	var w Watermark
	err := row.Scan(&w.DID, &w.Commit, &w.Rev, &w.Rebase, &w.TooBig, &w.ObservedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	return &w, nil
}
