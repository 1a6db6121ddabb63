// Package repo reads account repositories from an upstream provider.
//
// Commit signatures and record encoding are verified by the provider; the
// reader only sees decoded, content-addressed records.
package repo

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when the provider has no such repository, commit
// or blob.
var ErrNotFound = errors.New("not found")

// Record is one record of a repository snapshot.
type Record struct {
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	CID        string          `json:"cid"`
	Value      json.RawMessage `json:"value"`
}

// URI returns the at:// URI of the record within did's repository.
func (r Record) URI(did string) string {
	return "at://" + did + "/" + r.Collection + "/" + r.RKey
}

// Snapshot is the full state of a repository as of one commit.
type Snapshot struct {
	DID  string `json:"did"`
	Root string `json:"root"`
	Rev  string `json:"rev"`
	// Prev is the parent commit, empty for the first commit.
	Prev    string   `json:"prev,omitempty"`
	Records []Record `json:"records"`
	// TooBig is set by providers that truncated the snapshot.
	TooBig bool `json:"tooBig,omitempty"`
}

// Head identifies the latest commit of a repository.
type Head struct {
	Root string `json:"cid"`
	Rev  string `json:"rev"`
}

// Reader fetches repository state.
type Reader interface {
	Snapshot(ctx context.Context, did, commit string) (*Snapshot, error)
	Head(ctx context.Context, did string) (*Head, error)
	Blob(ctx context.Context, did, cid string) ([]byte, error)
}
