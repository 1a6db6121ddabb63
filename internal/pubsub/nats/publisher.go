package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/appview/internal/metrics"
	"github.com/syntrixbase/appview/internal/pubsub"
)

// jetStreamPublisher implements pubsub.Publisher using NATS JetStream.
type jetStreamPublisher struct {
	js  JetStream
	cfg pubsub.Config
}

// NewPublisher creates a publisher and ensures its stream exists.
func NewPublisher(ctx context.Context, js JetStream, cfg pubsub.Config) (pubsub.Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}

	if cfg.StreamName != "" {
		subjects := []string{cfg.StreamName + ".>"}
		if cfg.SubjectPrefix != "" && cfg.SubjectPrefix != cfg.StreamName {
			subjects = []string{cfg.SubjectPrefix + ".>"}
		}

		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: subjects,
			Storage:  jetstream.FileStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
	}

	return &jetStreamPublisher{js: js, cfg: cfg}, nil
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	fullSubject := subject
	if p.cfg.SubjectPrefix != "" {
		fullSubject = p.cfg.SubjectPrefix + "." + subject
	}

	var opts []jetstream.PublishOpt
	if p.cfg.RetryAttempts > 0 {
		opts = append(opts, jetstream.WithRetryAttempts(p.cfg.RetryAttempts))
	}

	_, err := p.js.Publish(ctx, fullSubject, data, opts...)
	metrics.ObservePublish(subject, err)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", fullSubject, err)
	}
	return nil
}

// Close releases resources.
func (p *jetStreamPublisher) Close() error {
	// JetStream doesn't need explicit close
	return nil
}
