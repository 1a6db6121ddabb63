// Package watermark tracks, per repository, the last commit applied to the
// index and decides whether a newly delivered commit may replace it.
//
// Two feeds may deliver the same commit, or deliver commits for one
// repository out of order. Accept is what makes applying them idempotent:
// anything not strictly newer than the stored watermark is a no-op.
package watermark

import (
	"errors"
	"fmt"
	"time"
)

// Watermark is the last commit observed and applied for a repository.
type Watermark struct {
	DID        string
	Commit     string
	Rev        string
	Rebase     bool
	TooBig     bool
	ObservedAt time.Time
}

// Candidate is a commit proposed as the new watermark.
type Candidate struct {
	Commit string
	Rev    string
	// Rebase marks a non-append rewrite of history. A rebase candidate
	// replaces the watermark unconditionally.
	Rebase bool
	// TooBig marks a partially applied snapshot that needs a follow-up
	// forced pull to complete.
	TooBig     bool
	ObservedAt time.Time
}

// ErrInconsistentAncestry is returned by CheckAncestry.
var ErrInconsistentAncestry = errors.New("commit ancestry inconsistent with watermark")

// Accept reports whether c may replace stored.
//
// A stored watermark flagged TooBig only yields to a complete apply at or
// beyond its revision, so the backfill marker is not lost to a later partial
// snapshot.
func Accept(stored *Watermark, c Candidate) bool {
	switch {
	case stored == nil:
		return true
	case c.Rebase:
		return true
	case stored.TooBig:
		return !c.TooBig && CompareRev(c.Rev, stored.Rev) >= 0
	default:
		return CompareRev(c.Rev, stored.Rev) > 0
	}
}

// CheckAncestry rejects a non-rebase commit that contradicts the stored
// watermark: the same revision with a different root (a fork), or a commit
// naming the stored commit as its parent without advancing the revision.
func CheckAncestry(stored *Watermark, root, rev, prev string, rebase bool) error {
	if stored == nil || rebase {
		return nil
	}
	if rev == stored.Rev && root != stored.Commit {
		return fmt.Errorf("%w: rev %s already applied as %s, got %s", ErrInconsistentAncestry, rev, stored.Commit, root)
	}
	if prev != "" && prev == stored.Commit && CompareRev(rev, stored.Rev) <= 0 {
		return fmt.Errorf("%w: child of %s must advance past rev %s, got %s", ErrInconsistentAncestry, prev, stored.Rev, rev)
	}
	return nil
}

// CompareRev orders revision markers. Revisions are fixed-width,
// sortable timestamp identifiers, so a shorter string sorts first and equal
// lengths compare lexically.
func CompareRev(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
