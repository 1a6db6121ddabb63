package indexertest

import (
	"context"
	"sync"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/repo"
)

// Repos is an in-memory repo.Reader.
type Repos struct {
	mu        sync.Mutex
	snapshots map[string]*repo.Snapshot
	heads     map[string]string
}

func NewRepos() *Repos {
	return &Repos{snapshots: map[string]*repo.Snapshot{}, heads: map[string]string{}}
}

// Put adds a snapshot and makes it the head of its repository.
func (r *Repos) Put(snap *repo.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap.DID+"@"+snap.Root] = snap
	r.heads[snap.DID] = snap.Root
}

func (r *Repos) Snapshot(ctx context.Context, did, commit string) (*repo.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if commit == "" {
		commit = r.heads[did]
	}
	snap, ok := r.snapshots[did+"@"+commit]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return snap, nil
}

func (r *Repos) Head(ctx context.Context, did string) (*repo.Head, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.heads[did]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &repo.Head{Root: root, Rev: r.snapshots[did+"@"+root].Rev}, nil
}

func (r *Repos) Blob(ctx context.Context, did, cid string) ([]byte, error) {
	return nil, repo.ErrNotFound
}

// Identities is an in-memory identity.Resolver in which every registered
// DID document and handle agree.
type Identities struct {
	mu      sync.Mutex
	docs    map[string]*identity.DIDDocument
	handles map[string]string
	err     error
}

func NewIdentities() *Identities {
	return &Identities{docs: map[string]*identity.DIDDocument{}, handles: map[string]string{}}
}

// Register binds handle and did in both directions.
func (i *Identities) Register(did, handle string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.docs[did] = &identity.DIDDocument{ID: did, AlsoKnownAs: []string{"at://" + handle}}
	i.handles[handle] = did
}

// SetError makes every lookup fail with err.
func (i *Identities) SetError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.err = err
}

func (i *Identities) ResolveDID(ctx context.Context, did string) (*identity.DIDDocument, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	return i.docs[did], nil
}

func (i *Identities) ResolveHandle(ctx context.Context, handle string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return "", i.err
	}
	return i.handles[identity.NormalizeHandle(handle)], nil
}
