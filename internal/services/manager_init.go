package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/appview/internal/gateway"
	"github.com/syntrixbase/appview/internal/health"
	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/image"
	"github.com/syntrixbase/appview/internal/indexer"
	"github.com/syntrixbase/appview/internal/labeler"
	"github.com/syntrixbase/appview/internal/pubsub"
	natspub "github.com/syntrixbase/appview/internal/pubsub/nats"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/search"
	"github.com/syntrixbase/appview/internal/server"
	"github.com/syntrixbase/appview/internal/storage"
	"github.com/syntrixbase/appview/internal/storage/postgres"
	"github.com/syntrixbase/appview/internal/subscription"
)

var errNoReader = errors.New("indexer.reader_url is required when no subscription provider is configured")

// Factories are package variables so tests can substitute fakes.
var (
	openDatabase = func(ctx context.Context, cfg storage.Config) (Database, storage.Locker, error) {
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := postgres.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return db, postgres.NewAdvisoryLocker(db.DB), nil
	}

	newResolver = func(cfg identity.Config) identity.Resolver {
		return identity.NewNetworkResolver(cfg)
	}

	newRepoReader = func(cfg indexer.Config) repo.Reader {
		return repo.NewClient(cfg.ReaderURL, cfg.ReaderTimeout)
	}

	newDialer = func(cfg subscription.Config) subscription.Dialer {
		return subscription.NewWebsocketDialer(cfg.HandshakeTimeout)
	}

	newCursorStore = func(db Database) subscription.CursorStore {
		return subscription.NewSQLCursorStore(db)
	}

	connectBus = func(ctx context.Context, cfg pubsub.Config) (pubsub.Publisher, func() error, error) {
		provider := natspub.NewProvider(cfg.URL)
		if err := provider.Connect(ctx); err != nil {
			return nil, nil, err
		}
		pub, err := provider.NewPublisher(ctx, cfg)
		if err != nil {
			provider.Close()
			return nil, nil, err
		}
		return pub, provider.Close, nil
	}
)

// Init wires every component. On error, whatever was already opened is
// closed again.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.closeResources()
		}
	}()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"storage", m.initStorage},
		{"identity", m.initIdentity},
		{"auxiliary", m.initAuxiliary},
		{"publisher", m.initPublisher},
		{"indexer", m.initIndexer},
		{"http", m.initHTTP},
		{"subscriptions", m.initSubscriptions},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("init %s: %w", step.name, err)
		}
		m.logger.Debug("Initialized", "step", step.name)
	}
	return nil
}

func (m *Manager) initStorage(ctx context.Context) error {
	db, locker, err := openDatabase(ctx, m.cfg.Storage)
	if err != nil {
		return err
	}
	m.db, m.locker = db, locker
	return nil
}

func (m *Manager) initIdentity(_ context.Context) error {
	var resolver identity.Resolver = newResolver(m.cfg.Identity)
	resolver = identity.NewStaticRegistry(resolver, m.cfg.Identity.TestHandles)

	cache, err := identity.NewCache(resolver, m.db, m.cfg.Identity)
	if err != nil {
		return err
	}
	m.didCache = cache
	m.resolver = cache
	return nil
}

// initAuxiliary builds the repository reader, the image URL builder with
// its cache and invalidator, and the labeler.
func (m *Manager) initAuxiliary(_ context.Context) error {
	if m.cfg.Indexer.ReaderURL == "" {
		m.cfg.Indexer.ReaderURL = m.cfg.Subscription.Provider
	}
	if m.cfg.Indexer.ReaderURL == "" {
		return errNoReader
	}
	m.reader = newRepoReader(m.cfg.Indexer)

	imgCfg := m.cfg.Image
	m.uris = image.NewURIBuilder(imgCfg.BaseURL(), imgCfg.Salt, imgCfg.Key)
	if imgCfg.Local() {
		cache, err := image.NewBlobDiskCache(imgCfg.CacheDir)
		if err != nil {
			return err
		}
		m.images = image.NewDiskInvalidator(cache)
		m.imageServer = image.NewServer(m.uris, cache, m.reader)
	} else {
		m.images = image.NewHTTPInvalidator(imgCfg.InvalidatorURL, imgCfg.Timeout)
	}

	var classifier labeler.Classifier
	if m.cfg.Labeler.HiveAPIKey != "" {
		classifier = labeler.NewHiveClassifier(m.cfg.Labeler, m.uris.URI)
	} else {
		classifier = labeler.NewKeywordClassifier(m.cfg.Labeler.Keywords)
	}
	m.labeler = labeler.New(classifier, m.db, m.cfg.Labeler)
	m.logger.Info("Labeler configured", "classifier", classifier.Name())
	return nil
}

func (m *Manager) initPublisher(ctx context.Context) error {
	if !m.cfg.PubSub.Enabled() {
		m.publisher = pubsub.Nop{}
		return nil
	}
	pub, closeBus, err := connectBus(ctx, m.cfg.PubSub)
	if err != nil {
		return err
	}
	m.publisher, m.closeBus = pub, closeBus
	return nil
}

func (m *Manager) initIndexer(_ context.Context) error {
	m.indexer = indexer.NewService(m.cfg.Indexer, indexer.Deps{
		DB:        m.db,
		Reader:    m.reader,
		Resolver:  m.resolver,
		Labeler:   m.labeler,
		Publisher: m.publisher,
		Images:    m.images,
	}, m.logger)
	m.gateway = gateway.New(m.indexer, m.reader, m.logger)
	return nil
}

// initHTTP builds search and mounts every route on the server.
func (m *Manager) initHTTP(_ context.Context) error {
	m.search = search.NewService(m.cfg.Search, search.NewStore(m.db), m.resolver, m.gateway, m.uris.URI, m.logger)
	m.server = server.New(m.cfg.Server, m.logger)

	mux := m.server.HTTPMux()
	m.gateway.RegisterRoutes(mux)
	m.search.RegisterRoutes(mux)
	if m.imageServer != nil {
		m.imageServer.RegisterRoutes(mux)
	}
	return nil
}

func (m *Manager) initSubscriptions(_ context.Context) error {
	subs, err := subscription.NewManager(m.cfg.Subscription, subscription.Deps{
		Indexer: m.indexer,
		Locker:  m.locker,
		Cursors: newCursorStore(m.db),
		Dialer:  newDialer(m.cfg.Subscription),
	}, m.logger)
	if err != nil {
		return err
	}
	m.subs = subs

	m.health = health.NewChecker(m.db, subs.States, m.logger)
	m.server.RegisterHTTPHandler("GET /health", m.health)
	return nil
}
