package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/indexer/indexertest"
	"github.com/syntrixbase/appview/internal/repo"
)

const testDID = "did:example:abc"

type fixture struct {
	repos *indexertest.Repos
	ids   *indexertest.Identities
	idx   *indexertest.Memory
	gw    *Gateway
	mux   *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := indexertest.NewRepos()
	ids := indexertest.NewIdentities()
	idx := indexertest.New(repos, ids)
	gw := New(idx, repos, nil)
	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)

	repos.Put(&repo.Snapshot{
		DID:  testDID,
		Root: "bafy123",
		Rev:  "3jzfcijpj2z2a",
		Records: []repo.Record{
			{Collection: "app.bsky.actor.profile", RKey: "self", CID: "bafyprofile", Value: []byte(`{"displayName":"Abc"}`)},
		},
	})
	ids.Register(testDID, "abc.example.com")
	return &fixture{repos: repos, ids: ids, idx: idx, gw: gw, mux: mux}
}

func (f *fixture) post(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	return rec
}

func TestForcePull_Handler(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/forcePull/" + testDID + "/bafy123")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	w := f.idx.Watermark(testDID)
	require.NotNil(t, w)
	assert.Equal(t, "bafy123", w.Commit)
	assert.Equal(t, "3jzfcijpj2z2a", w.Rev)

	handle, ok := f.idx.Handle(testDID)
	assert.True(t, ok)
	assert.Equal(t, "abc.example.com", handle)
	assert.Contains(t, f.idx.Records(testDID), "at://"+testDID+"/app.bsky.actor.profile/self")
}

func TestForcePull_UnknownCommit(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/forcePull/" + testDID + "/bafyBAD")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
	assert.Nil(t, f.idx.Watermark(testDID))
	_, ok := f.idx.Handle(testDID)
	assert.False(t, ok)
	assert.Zero(t, f.idx.Commits())
}

func TestForcePull_AlreadyIndexedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gw.ForcePull(ctx, testDID, "bafy123"))
	require.NoError(t, f.gw.ForcePull(ctx, testDID, "bafy123"))
	assert.Equal(t, 1, f.idx.Commits())
}

func TestForcePull_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.idx.SetUnavailable(true)

	rec := f.post("/forcePull/" + testDID + "/bafy123")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchProfile_Handler(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/fetchProfile/" + testDID)
	assert.Equal(t, http.StatusOK, rec.Code)
	handle, ok := f.idx.Handle(testDID)
	assert.True(t, ok)
	assert.Equal(t, "abc.example.com", handle)
	// Profile fetches never move the watermark.
	assert.Nil(t, f.idx.Watermark(testDID))
}

func TestFetchProfile_ResolutionFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	f.ids.SetError(fmt.Errorf("%w: plc directory down", identity.ErrResolution))

	rec := f.post("/fetchProfile/" + testDID)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := f.idx.Handle(testDID)
	assert.False(t, ok)
}

func TestFetchProfile_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.idx.SetUnavailable(true)

	rec := f.post("/fetchProfile/" + testDID)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestFill(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.gw.Fill(context.Background(), testDID, FillProfile))
		_, ok := f.idx.Handle(testDID)
		assert.True(t, ok)
		assert.Nil(t, f.idx.Watermark(testDID))
	})

	t.Run("full", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.gw.Fill(context.Background(), testDID, FillFull))
		w := f.idx.Watermark(testDID)
		require.NotNil(t, w)
		assert.Equal(t, "bafy123", w.Commit)
	})

	t.Run("full unknown repository", func(t *testing.T) {
		f := newFixture(t)
		err := f.gw.Fill(context.Background(), "did:example:nobody", FillFull)
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func TestFillMode_Valid(t *testing.T) {
	assert.True(t, FillProfile.Valid())
	assert.True(t, FillFull.Valid())
	assert.False(t, FillMode("partial").Valid())
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forcePull/"+testDID+"/bafy123", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
