package repo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second)
}

func TestClient_Snapshot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.sync.getRepoSnapshot", r.URL.Path)
		assert.Equal(t, "did:example:abc", r.URL.Query().Get("did"))
		assert.Equal(t, "bafy123", r.URL.Query().Get("commit"))
		w.Write([]byte(`{"did":"did:example:abc","root":"bafy123","rev":"3kabc","records":[
			{"collection":"app.bsky.actor.profile","rkey":"self","cid":"bafyrec","value":{"displayName":"Alice"}}]}`))
	})

	snap, err := c.Snapshot(context.Background(), "did:example:abc", "bafy123")
	require.NoError(t, err)
	assert.Equal(t, "bafy123", snap.Root)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "at://did:example:abc/app.bsky.actor.profile/self", snap.Records[0].URI("did:example:abc"))
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "getLatestCommit") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"RepoNotFound","message":"Could not find repo"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Head(context.Background(), "did:example:none")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Snapshot(context.Background(), "did:example:none", "bafyBAD")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Head(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cid":"bafyhead","rev":"3kzzz"}`))
	})

	head, err := c.Head(context.Background(), "did:example:abc")
	require.NoError(t, err)
	assert.Equal(t, "bafyhead", head.Root)
	assert.Equal(t, "3kzzz", head.Rev)
}

func TestClient_Blob(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bafyblob", r.URL.Query().Get("cid"))
		w.Write([]byte("image-bytes"))
	})

	data, err := c.Blob(context.Background(), "did:example:abc", "bafyblob")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestClient_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Head(context.Background(), "did:example:abc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewClient_WebsocketAddress(t *testing.T) {
	assert.Equal(t, "https://relay.example.com", NewClient("wss://relay.example.com/", time.Second).baseURL)
	assert.Equal(t, "http://localhost:2470", NewClient("ws://localhost:2470", time.Second).baseURL)
}
