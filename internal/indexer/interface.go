// Package indexer applies remote repository state to the local index.
//
// Every logical event (a firehose commit, a forced pull, a profile fetch)
// runs inside one transaction obtained from Service.Transact. Within it a Tx
// offers the three mutating steps:
//
//   - IndexRepo fetches and validates a commit snapshot and writes the
//     derived record, profile and repo_root rows
//   - IndexHandle resolves and records the repository's handle binding
//   - SetCommitLastSeen advances the repository watermark
//
// If any step fails the transaction rolls back and the watermark is left
// untouched. Side effects outside the database (label classification,
// change notifications, image cache invalidation) run only after commit.
//
// # Usage
//
//	err := svc.Transact(ctx, func(ctx context.Context, tx indexer.Tx) error {
//		applied, err := tx.IndexRepo(ctx, did, commit, false)
//		if err != nil {
//			return err
//		}
//		if _, err := tx.IndexHandle(ctx, did, time.Now()); err != nil {
//			return err
//		}
//		ok, err := tx.SetCommitLastSeen(ctx, did, applied)
//		if err == nil && !ok {
//			err = indexer.ErrStaleCommit
//		}
//		return err
//	})
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service opens index transactions.
type Service interface {
	// Transact runs fn in a single database transaction. ErrStaleCommit
	// returned by fn rolls the transaction back and is passed through so
	// callers can treat it as a no-op.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of index mutations available inside one transaction.
type Tx interface {
	// IndexRepo applies the snapshot of did at commit. An empty commit
	// applies the provider's latest commit. rebase exempts the commit from
	// the ancestry check against the stored watermark.
	IndexRepo(ctx context.Context, did, commit string, rebase bool) (AppliedCommit, error)

	// IndexHandle resolves and stores the handle of did as observed at
	// observedAt. It returns the verified handle, or "" when the DID has no
	// verifiable handle.
	IndexHandle(ctx context.Context, did string, observedAt time.Time) (string, error)

	// SetCommitLastSeen offers applied as the new watermark of did. It
	// returns false when the watermark already covers the commit.
	SetCommitLastSeen(ctx context.Context, did string, applied AppliedCommit) (bool, error)

	// ApplyCommit composes the three steps for a streamed commit. It
	// returns ErrStaleCommit when the watermark rejects the commit.
	ApplyCommit(ctx context.Context, did, commit string, meta CommitMeta) (AppliedCommit, error)
}

// AppliedCommit describes the commit actually written to the index.
type AppliedCommit struct {
	Root   string
	Rev    string
	Rebase bool
	// TooBig is set when only a prefix of the snapshot was applied.
	TooBig bool
}

// CommitMeta carries what the upstream feed says about a commit.
type CommitMeta struct {
	// Rev is optional. When set, commits the watermark already covers are
	// rejected before the snapshot is fetched.
	Rev    string
	Rebase bool
	TooBig bool
	Time   time.Time
}

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("commit validation failed")

	// ErrStaleCommit reports that the watermark already covers a commit.
	ErrStaleCommit = errors.New("commit already applied")
)

// ValidationError reports a commit that cannot be verified or whose
// ancestry is inconsistent with the stored watermark.
type ValidationError struct {
	DID    string
	Commit string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid commit %s for %s: %s", e.Commit, e.DID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}
