// Package gateway exposes forced resynchronization of single repositories:
// operator-triggered pulls and the profile fetches used by search to fill
// the index on a miss.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/metrics"
	"github.com/syntrixbase/appview/internal/repo"
)

// FillMode selects how much of a repository a cache fill indexes.
type FillMode string

const (
	// FillProfile indexes only the handle binding.
	FillProfile FillMode = "profile"
	// FillFull force-pulls the repository's latest commit.
	FillFull FillMode = "full"
)

func (m FillMode) Valid() bool {
	return m == FillProfile || m == FillFull
}

type Gateway struct {
	indexer indexer.Service
	reader  repo.Reader
	now     func() time.Time
	logger  *slog.Logger
}

func New(idx indexer.Service, reader repo.Reader, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		indexer: idx,
		reader:  reader,
		now:     time.Now,
		logger:  logger.With("component", "gateway"),
	}
}

// ForcePull indexes did at commit, its handle, and the watermark in one
// transaction. A commit the watermark already covers is a successful no-op.
func (g *Gateway) ForcePull(ctx context.Context, did, commit string) error {
	err := g.indexer.Transact(ctx, func(ctx context.Context, tx indexer.Tx) error {
		applied, err := tx.IndexRepo(ctx, did, commit, false)
		if err != nil {
			return err
		}
		if _, err := tx.IndexHandle(ctx, did, g.now()); err != nil {
			return err
		}
		ok, err := tx.SetCommitLastSeen(ctx, did, applied)
		if err != nil {
			return err
		}
		if !ok {
			return indexer.ErrStaleCommit
		}
		return nil
	})

	switch {
	case err == nil:
		metrics.CommitsApplied.WithLabelValues("forcepull", "applied").Inc()
		g.logger.Info("Force pull applied", "did", did, "commit", commit)
		return nil
	case errors.Is(err, indexer.ErrStaleCommit):
		metrics.CommitsApplied.WithLabelValues("forcepull", "stale").Inc()
		g.logger.Info("Force pull skipped, commit already indexed", "did", did, "commit", commit)
		return nil
	default:
		metrics.CommitsApplied.WithLabelValues("forcepull", "error").Inc()
		return fmt.Errorf("force pull of %s at %s: %w", did, commit, err)
	}
}

// FetchProfile indexes the handle of did in its own transaction. Resolution
// failures are logged and reported as success; only storage failures are
// returned.
func (g *Gateway) FetchProfile(ctx context.Context, did string) error {
	return g.indexer.Transact(ctx, func(ctx context.Context, tx indexer.Tx) error {
		if _, err := tx.IndexHandle(ctx, did, g.now()); err != nil {
			if errors.Is(err, identity.ErrResolution) {
				g.logger.Warn("Profile fetch could not resolve identity", "did", did, "error", err)
				return nil
			}
			return err
		}
		return nil
	})
}

// Fill indexes a repository found through search.
func (g *Gateway) Fill(ctx context.Context, did string, mode FillMode) error {
	if mode != FillFull {
		return g.FetchProfile(ctx, did)
	}
	head, err := g.reader.Head(ctx, did)
	if err != nil {
		return fmt.Errorf("failed to read head of %s: %w", did, err)
	}
	return g.ForcePull(ctx, did, head.Root)
}
