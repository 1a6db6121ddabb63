// Package services assembles the appview from its components and drives
// their lifecycle: Init wires everything, Start serves and subscribes,
// Shutdown tears down in dependency order.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syntrixbase/appview/internal/config"
	"github.com/syntrixbase/appview/internal/gateway"
	"github.com/syntrixbase/appview/internal/health"
	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/image"
	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/labeler"
	"github.com/syntrixbase/appview/internal/pubsub"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/search"
	"github.com/syntrixbase/appview/internal/server"
	"github.com/syntrixbase/appview/internal/storage"
	"github.com/syntrixbase/appview/internal/subscription"
)

// Database is the storage handle the manager owns.
type Database interface {
	storage.Transactor
	storage.Querier
	Ping(ctx context.Context) error
	Close() error
}

type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	db       Database
	locker   storage.Locker
	didCache *identity.Cache
	resolver identity.Resolver
	reader   repo.Reader

	uris        *image.URIBuilder
	images      image.Invalidator
	imageServer *image.Server
	labeler     *labeler.Labeler

	publisher pubsub.Publisher
	closeBus  func() error

	indexer indexer.Service
	gateway *gateway.Gateway
	search  *search.Service
	health  *health.Checker
	server  server.Service
	subs    *subscription.Manager

	mu      sync.Mutex
	started bool
	port    int
	wg      sync.WaitGroup
}

func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "services"),
	}
}

// Gateway returns the forced-pull gateway. Valid after Init.
func (m *Manager) Gateway() *gateway.Gateway { return m.gateway }

// Subscriptions returns the subscription manager. Valid after Init.
func (m *Manager) Subscriptions() *subscription.Manager { return m.subs }

// Port returns the bound HTTP port. Valid after Start.
func (m *Manager) Port() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}
