package services

import (
	"context"
	"errors"
	"time"
)

// Shutdown stops components one at a time, each awaited before the next:
// DID cache refreshes, the primary subscription, the extra subscriptions,
// in-flight classification, the HTTP server, the publisher, and finally
// storage. It keeps going after a failure and returns every error joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	record := func(name string, err error) {
		if err != nil {
			m.logger.Error("Shutdown step failed", "step", name, "error", err)
			errs = append(errs, err)
		}
	}

	if m.didCache != nil {
		record("did cache", m.didCache.Destroy(ctx))
	}
	if m.subs != nil {
		record("primary subscription", m.subs.StopPrimary(ctx))
		record("extra subscriptions", m.subs.StopExtras(ctx))
		// Storage stays open until every subscription has finished draining.
		// A drain is bounded by the subscription drain timeout, not by ctx.
		m.subs.Wait()
	}
	if m.labeler != nil {
		record("labeler", m.labeler.Destroy(ctx))
	}
	if m.server != nil {
		grace := m.cfg.Server.ShutdownTimeout
		if grace <= 0 {
			grace = 10 * time.Second
		}
		stopCtx, cancel := context.WithTimeout(ctx, grace)
		record("http server", m.server.Stop(stopCtx))
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		record("background tasks", ctx.Err())
	}

	record("resources", m.closeResources())
	m.logger.Info("Appview stopped")
	return errors.Join(errs...)
}

// closeResources closes the publisher and storage. It is safe to call on a
// partially initialized manager.
func (m *Manager) closeResources() error {
	var errs []error
	if m.publisher != nil {
		errs = append(errs, m.publisher.Close())
		m.publisher = nil
	}
	if m.closeBus != nil {
		errs = append(errs, m.closeBus())
		m.closeBus = nil
	}
	if m.db != nil {
		errs = append(errs, m.db.Close())
		m.db = nil
	}
	return errors.Join(errs...)
}
