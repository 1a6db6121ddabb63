package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Manager supervises the primary subscription and any extra ones.
type Manager struct {
	primary *Subscription
	extras  []*Subscription
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewManager builds the subscriptions described by cfg. The primary exists
// only when cfg.Provider is set; extra subscription i locks cfg.LockID+1+i.
func NewManager(cfg Config, deps Deps, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	extras, err := ParseEndpoints(cfg.Extra)
	if err != nil {
		return nil, err
	}

	m := &Manager{logger: logger.With("component", "subscription-manager")}
	if cfg.Provider != "" {
		primary, err := ParseEndpoints([]string{cfg.Provider})
		if err != nil {
			return nil, err
		}
		m.primary = New(primary[0], cfg.LockID, cfg, deps, logger)
	}
	for i, ep := range extras {
		m.extras = append(m.extras, New(ep, cfg.LockID+1+int64(i), cfg, deps, logger))
	}
	return m, nil
}

func (m *Manager) Primary() *Subscription { return m.primary }

func (m *Manager) Extras() []*Subscription { return m.extras }

func (m *Manager) all() []*Subscription {
	var subs []*Subscription
	if m.primary != nil {
		subs = append(subs, m.primary)
	}
	return append(subs, m.extras...)
}

// Start runs every subscription in the background. It does not wait for
// them to acquire their locks.
func (m *Manager) Start(ctx context.Context) {
	for _, sub := range m.all() {
		m.wg.Add(1)
		go func(sub *Subscription) {
			defer m.wg.Done()
			if err := sub.Run(ctx); err != nil {
				m.logger.Error("Subscription exited", "endpoint", sub.Endpoint(), "error", err)
			}
		}(sub)
	}
	m.logger.Info("Subscriptions started", "primary", m.primary != nil, "extras", len(m.extras))
}

func (m *Manager) StopPrimary(ctx context.Context) error {
	if m.primary == nil {
		return nil
	}
	return m.primary.Stop(ctx)
}

// StopExtras drains the extra subscriptions one after another.
func (m *Manager) StopExtras(ctx context.Context) error {
	var errs []error
	for _, sub := range m.extras {
		if err := sub.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every started subscription has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) States() []Status {
	subs := m.all()
	out := make([]Status, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Status())
	}
	return out
}
