// Package nats implements pubsub.Publisher on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/appview/internal/pubsub"
)

// JetStream is the subset of jetstream.JetStream the publisher uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// natsConnection abstracts the nats.Conn for testing purposes
type natsConnection interface {
	Close()
}

type natsConnectFunc func(url string) (natsConnection, error)

type jetStreamFactory func(nc natsConnection) (JetStream, error)

var defaultNatsConnect natsConnectFunc = func(url string) (natsConnection, error) {
	return nats.Connect(url, nats.Name("appview"), nats.MaxReconnects(-1))
}

var defaultJetStreamFactory jetStreamFactory = func(nc natsConnection) (JetStream, error) {
	conn, ok := nc.(*nats.Conn)
	if !ok || conn == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	return jetstream.New(conn)
}

// Provider manages the NATS connection lifecycle and creates publishers.
type Provider struct {
	url              string
	nc               natsConnection
	js               JetStream
	natsConnect      natsConnectFunc  // injectable for testing
	jetStreamFactory jetStreamFactory // injectable for testing
}

func NewProvider(url string) *Provider {
	return &Provider{
		url:              url,
		natsConnect:      defaultNatsConnect,
		jetStreamFactory: defaultJetStreamFactory,
	}
}

// Connect establishes the NATS connection and initializes JetStream.
// This must be called before using NewPublisher.
func (p *Provider) Connect(ctx context.Context) error {
	nc, err := p.natsConnect(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := p.jetStreamFactory(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}
	p.nc = nc
	p.js = js

	slog.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a publisher backed by the connected JetStream.
func (p *Provider) NewPublisher(ctx context.Context, cfg pubsub.Config) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewPublisher(ctx, p.js, cfg)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		slog.Info("Closing NATS connection...")
		p.nc.Close()
		p.nc = nil
		p.js = nil
	}
	return nil
}
