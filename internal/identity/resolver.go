package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// NetworkResolver resolves did:plc through a PLC directory, did:web through
// the host's well-known document, and handles through DNS TXT records with
// an HTTPS well-known fallback.
type NetworkResolver struct {
	plcURL    string
	client    *http.Client
	lookupTXT func(ctx context.Context, name string) ([]string, error)
	// scheme is "https" except in tests.
	scheme string
}

func NewNetworkResolver(cfg Config) *NetworkResolver {
	return &NetworkResolver{
		plcURL:    strings.TrimRight(cfg.PLCURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
		lookupTXT: net.DefaultResolver.LookupTXT,
		scheme:    "https",
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (r *NetworkResolver) SetHTTPClient(client *http.Client) {
	r.client = client
}

func (r *NetworkResolver) ResolveDID(ctx context.Context, did string) (*DIDDocument, error) {
	var docURL string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		docURL = r.plcURL + "/" + url.PathEscape(did)
	case strings.HasPrefix(did, "did:web:"):
		// Path-based did:web identifiers are not supported.
		raw := strings.TrimPrefix(did, "did:web:")
		if strings.Contains(raw, ":") {
			return nil, nil
		}
		host, err := url.PathUnescape(raw)
		if err != nil || host == "" {
			return nil, nil
		}
		docURL = r.scheme + "://" + host + "/.well-known/did.json"
	default:
		return nil, nil
	}

	body, found, err := r.get(ctx, docURL)
	if err != nil || !found {
		return nil, err
	}

	var doc DIDDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed DID document for %s: %v", ErrResolution, did, err)
	}
	if doc.ID != did {
		return nil, nil
	}
	return &doc, nil
}

func (r *NetworkResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return "", nil
	}

	if did := r.resolveDNS(ctx, handle); did != "" {
		return did, nil
	}

	body, found, err := r.get(ctx, r.scheme+"://"+handle+"/.well-known/atproto-did")
	if err != nil || !found {
		return "", err
	}
	did := strings.TrimSpace(string(body))
	if !strings.HasPrefix(did, "did:") {
		return "", nil
	}
	return did, nil
}

func (r *NetworkResolver) resolveDNS(ctx context.Context, handle string) string {
	records, err := r.lookupTXT(ctx, "_atproto."+handle)
	if err != nil {
		return ""
	}
	var found string
	for _, rec := range records {
		if did, ok := strings.CutPrefix(rec, "did="); ok {
			if found != "" && found != did {
				// Conflicting records resolve to nothing.
				return ""
			}
			found = did
		}
	}
	return found
}

// get returns found=false for 404 and 410 responses and for hosts that do
// not exist.
func (r *NetworkResolver) get(ctx context.Context, target string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: %s returned status %d", ErrResolution, target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	return body, true, nil
}

var _ Resolver = (*NetworkResolver)(nil)
