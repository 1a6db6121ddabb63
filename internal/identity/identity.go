// Package identity resolves decentralized identifiers to DID documents and
// handles to DIDs, with a persistent cache in front of network resolution.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrResolution marks a transport-level failure to reach a resolver. An
// identifier that resolves to nothing is not an error.
var ErrResolution = errors.New("identity resolution failed")

// Resolver resolves identifiers. Unknown identifiers yield (nil, nil) or
// ("", nil).
type Resolver interface {
	ResolveDID(ctx context.Context, did string) (*DIDDocument, error)
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// DIDDocument is the subset of a DID document the index relies on.
type DIDDocument struct {
	ID          string    `json:"id"`
	AlsoKnownAs []string  `json:"alsoKnownAs,omitempty"`
	Service     []Service `json:"service,omitempty"`
}

type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Handle returns the first at:// alias of the document, normalized.
func (d *DIDDocument) Handle() string {
	if d == nil {
		return ""
	}
	for _, aka := range d.AlsoKnownAs {
		if h, ok := strings.CutPrefix(aka, "at://"); ok && h != "" {
			return NormalizeHandle(h)
		}
	}
	return ""
}

// PDSEndpoint returns the personal data server endpoint advertised by the
// document, if any.
func (d *DIDDocument) PDSEndpoint() string {
	if d == nil {
		return ""
	}
	for _, s := range d.Service {
		if s.ID == "#atproto_pds" || strings.HasSuffix(s.ID, "#atproto_pds") {
			return s.ServiceEndpoint
		}
	}
	return ""
}

// NormalizeHandle lowercases a handle and strips a leading '@'.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// VerifiedHandle resolves the DID document for did and returns its handle
// only if that handle resolves back to did. An unverifiable handle returns
// "" with a nil error.
func VerifiedHandle(ctx context.Context, r Resolver, did string) (string, error) {
	doc, err := r.ResolveDID(ctx, did)
	if err != nil {
		return "", err
	}
	handle := doc.Handle()
	if handle == "" {
		return "", nil
	}
	resolved, err := r.ResolveHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	if resolved != did {
		return "", nil
	}
	return handle, nil
}
