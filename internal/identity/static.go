package identity

import (
	"context"
	"strings"
)

// StaticRegistry answers handle lookups under the .test TLD from a fixed
// table and delegates everything else.
type StaticRegistry struct {
	next    Resolver
	handles map[string]string
}

func NewStaticRegistry(next Resolver, handles map[string]string) *StaticRegistry {
	normalized := make(map[string]string, len(handles))
	for h, did := range handles {
		normalized[NormalizeHandle(h)] = did
	}
	return &StaticRegistry{next: next, handles: normalized}
}

func (s *StaticRegistry) ResolveDID(ctx context.Context, did string) (*DIDDocument, error) {
	return s.next.ResolveDID(ctx, did)
}

func (s *StaticRegistry) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = NormalizeHandle(handle)
	if strings.HasSuffix(handle, ".test") {
		return s.handles[handle], nil
	}
	return s.next.ResolveHandle(ctx, handle)
}

var _ Resolver = (*StaticRegistry)(nil)
