// Package labeler classifies indexed records and stores the resulting
// moderation labels. Classification runs in the background after the
// record's transaction has committed.
package labeler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/appview/internal/metrics"
	"github.com/syntrixbase/appview/internal/storage"
)

// Subject is the labelable content of one record.
type Subject struct {
	DID    string
	URI    string
	CID    string
	Text   string
	Images []string
}

// Classifier returns label values for a subject.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, s Subject) ([]string, error)
}

// Label is one classifier verdict on a record.
type Label struct {
	Src string
	URI string
	Val string
	Neg bool
	Cts time.Time
}

// Labeler runs a Classifier over records and persists its labels.
type Labeler struct {
	classifier Classifier
	db         storage.Querier
	src        string
	timeout    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(classifier Classifier, db storage.Querier, cfg Config) *Labeler {
	return &Labeler{
		classifier: classifier,
		db:         db,
		src:        cfg.LabelerDID,
		timeout:    cfg.Timeout,
		logger:     slog.Default().With("component", "labeler", "classifier", classifier.Name()),
	}
}

// ProcessRecord schedules classification of a record. It never blocks on the
// classifier and is a no-op after Destroy.
func (l *Labeler) ProcessRecord(s Subject) {
	if s.Text == "" && len(s.Images) == 0 {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.label(ctx, s); err != nil {
			l.logger.Warn("Failed to label record", "uri", s.URI, "error", err)
		}
	}()
}

// Destroy stops accepting records and waits for in-flight classification.
func (l *Labeler) Destroy(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Labeler) label(ctx context.Context, s Subject) error {
	vals, err := l.classifier.Classify(ctx, s)
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, val := range vals {
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO label (src, uri, val, neg, cts) VALUES ($1, $2, $3, FALSE, $4)
			ON CONFLICT (src, uri, val) DO NOTHING
		`, l.src, s.URI, val, now)
		if err != nil {
			return fmt.Errorf("failed to store label %s on %s: %w", val, s.URI, err)
		}
		metrics.LabelsApplied.WithLabelValues(l.classifier.Name()).Inc()
	}
	l.logger.Info("Labeled record", "uri", s.URI, "labels", vals)
	return nil
}

// SubjectFromRecord extracts the labelable text and image blob references
// from a record value.
func SubjectFromRecord(did, uri, cid string, value json.RawMessage) Subject {
	s := Subject{DID: did, URI: uri, CID: cid}

	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return s
	}

	var text []string
	walk(v, func(key string, node any) {
		switch n := node.(type) {
		case string:
			switch key {
			case "text", "displayName", "description", "alt":
				if n != "" {
					text = append(text, n)
				}
			}
		case map[string]any:
			if n["$type"] == "blob" {
				if ref, ok := n["ref"].(map[string]any); ok {
					if link, ok := ref["$link"].(string); ok && link != "" {
						s.Images = append(s.Images, link)
					}
				}
			}
		}
	})
	s.Text = strings.Join(text, " ")
	return s
}

func walk(node any, visit func(key string, node any)) {
	switch n := node.(type) {
	case map[string]any:
		for k, child := range n {
			visit(k, child)
			walk(child, visit)
		}
	case []any:
		for _, child := range n {
			visit("", child)
			walk(child, visit)
		}
	}
}
