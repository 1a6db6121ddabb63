// Package pubsub publishes change notifications for indexed repositories.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SubjectRepoIndexed carries a RepoIndexed event after each committed apply.
const SubjectRepoIndexed = "repo.indexed"

// Publisher publishes messages to a stream.
type Publisher interface {
	// Publish sends a message to the specified subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases resources.
	Close() error
}

// RepoIndexed describes a committed change to the index for one repository.
type RepoIndexed struct {
	DID       string    `json:"did"`
	Commit    string    `json:"commit,omitempty"`
	Rev       string    `json:"rev,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	TooBig    bool      `json:"tooBig,omitempty"`
	IndexedAt time.Time `json:"indexedAt"`
}

// PublishRepoIndexed encodes evt and publishes it on SubjectRepoIndexed.
func PublishRepoIndexed(ctx context.Context, p Publisher, evt RepoIndexed) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode repo.indexed event: %w", err)
	}
	return p.Publish(ctx, SubjectRepoIndexed, data)
}

// Nop discards every message. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
