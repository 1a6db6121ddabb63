package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*NetworkResolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.PLCURL = srv.URL
	r := NewNetworkResolver(cfg)
	r.scheme = "http"
	r.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		return nil, errors.New("no such host")
	}
	return r, srv
}

func TestNetworkResolver_ResolvePLC(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/did:plc:abc":
			w.Write([]byte(`{"id":"did:plc:abc","alsoKnownAs":["at://alice.example.com"]}`))
		case "/did:plc:mismatch":
			w.Write([]byte(`{"id":"did:plc:other"}`))
		case "/did:plc:broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	doc, err := r.ResolveDID(context.Background(), "did:plc:abc")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "alice.example.com", doc.Handle())

	doc, err = r.ResolveDID(context.Background(), "did:plc:missing")
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = r.ResolveDID(context.Background(), "did:plc:mismatch")
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = r.ResolveDID(context.Background(), "did:plc:broken")
	assert.ErrorIs(t, err, ErrResolution)

	doc, err = r.ResolveDID(context.Background(), "did:key:z6Mk")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestNetworkResolver_ResolveWeb(t *testing.T) {
	var host string
	r, srv := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/.well-known/did.json" {
			w.Write([]byte(`{"id":"did:web:` + strings.ReplaceAll(host, ":", "%3A") + `"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	host = strings.TrimPrefix(srv.URL, "http://")

	did := "did:web:" + strings.ReplaceAll(host, ":", "%3A")
	doc, err := r.ResolveDID(context.Background(), did)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, did, doc.ID)

	doc, err = r.ResolveDID(context.Background(), "did:web:example.com:user:alice")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestNetworkResolver_ResolveHandleDNS(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		t.Fatalf("unexpected HTTP request %s", req.URL)
	})
	r.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		if name == "_atproto.alice.example.com" {
			return []string{"v=spf1", "did=did:plc:abc"}, nil
		}
		return nil, errors.New("nxdomain")
	}

	did, err := r.ResolveHandle(context.Background(), "@Alice.Example.com")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc", did)
}

func TestNetworkResolver_ResolveHandleWellKnown(t *testing.T) {
	r, srv := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/.well-known/atproto-did" {
			w.Write([]byte("did:plc:xyz\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	host := strings.TrimPrefix(srv.URL, "http://")

	did, err := r.ResolveHandle(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:xyz", did)
}

func TestNetworkResolver_ResolveHandleConflictingTXT(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		return []string{"did=did:plc:one", "did=did:plc:two"}, nil
	}
	// Falls through to the well-known lookup, which resolves to nothing.
	host := "127.0.0.1:1"
	r.client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNotFound, Body: http.NoBody, Request: req}, nil
	})}

	did, err := r.ResolveHandle(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, "", did)
}

func TestNetworkResolver_TransportFailure(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {})
	r.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})})

	_, err := r.ResolveHandle(context.Background(), "alice.example.com")
	assert.ErrorIs(t, err, ErrResolution)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
