package services

import (
	"context"
	"errors"
)

var errAlreadyStarted = errors.New("services already started")

// Start binds the HTTP listener, serves in the background, then starts the
// subscriptions without waiting for them. The bound port is available from
// Port once Start returns.
func (m *Manager) Start(bgCtx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	port, err := m.server.Listen()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.port = port
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Start(bgCtx); err != nil {
			m.logger.Error("HTTP server stopped with error", "error", err)
		}
	}()

	m.subs.Start(bgCtx)
	m.logger.Info("Appview started", "port", port,
		"primary", m.cfg.Subscription.Provider != "",
		"extras", len(m.subs.Extras()))
	return nil
}
