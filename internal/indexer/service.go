package indexer

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/image"
	"github.com/syntrixbase/appview/internal/labeler"
	"github.com/syntrixbase/appview/internal/pubsub"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/storage"
	"github.com/syntrixbase/appview/internal/watermark"
)

// Labeler receives records for background classification.
type Labeler interface {
	ProcessRecord(s labeler.Subject)
}

// Deps are the collaborators of the indexer. DB, Reader and Resolver are
// required; the rest are optional.
type Deps struct {
	DB         storage.Transactor
	Reader     repo.Reader
	Resolver   identity.Resolver
	Watermarks *watermark.Store
	Labeler    Labeler
	Publisher  pubsub.Publisher
	Images     image.Invalidator
}

type service struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates the indexer.
func NewService(cfg Config, deps Deps, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Watermarks == nil {
		deps.Watermarks = watermark.NewStore()
	}
	if deps.Publisher == nil {
		deps.Publisher = pubsub.Nop{}
	}
	cfg.ApplyDefaults()
	return &service{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logger.With("component", "indexer"),
	}
}

func (s *service) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var t *repoTx
	err := s.deps.DB.Transaction(ctx, func(ctx context.Context, sqlTx *sql.Tx) error {
		t = newRepoTx(s, sqlTx)
		return fn(ctx, t)
	})
	if err != nil {
		return err
	}
	s.runHooks(ctx, t.hooks)
	return nil
}

// runHooks runs after-commit side effects. They are best effort: a failure
// is logged and does not affect the committed transaction.
func (s *service) runHooks(ctx context.Context, hooks []hook) {
	base := context.WithoutCancel(ctx)
	for _, h := range hooks {
		hctx, cancel := context.WithTimeout(base, s.cfg.HookTimeout)
		if err := h.fn(hctx); err != nil {
			s.logger.Warn("After-commit hook failed", "hook", h.name, "error", err)
		}
		cancel()
	}
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}
