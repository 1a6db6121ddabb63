package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	labels  []string
	err     error
	release chan struct{}
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Classify(ctx context.Context, _ Subject) ([]string, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.labels, s.err
}

func TestLabeler_ProcessRecordWritesLabels(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO label`).
		WithArgs("did:example:labeler", "at://did:example:abc/app.bsky.feed.post/1", "spam", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := New(&stubClassifier{labels: []string{"spam"}}, db, DefaultConfig())
	l.ProcessRecord(Subject{URI: "at://did:example:abc/app.bsky.feed.post/1", Text: "buy now"})

	require.NoError(t, l.Destroy(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabeler_SkipsEmptySubjects(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := New(&stubClassifier{labels: []string{"spam"}}, db, DefaultConfig())
	l.ProcessRecord(Subject{URI: "at://did:example:abc/app.bsky.feed.like/1"})

	require.NoError(t, l.Destroy(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabeler_ClassifierErrorIsLogged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := New(&stubClassifier{err: errors.New("unavailable")}, db, DefaultConfig())
	l.ProcessRecord(Subject{URI: "at://x", Text: "hello"})

	require.NoError(t, l.Destroy(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLabeler_DestroyWaitsForInFlight(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stub := &stubClassifier{release: make(chan struct{})}
	l := New(stub, db, DefaultConfig())
	l.ProcessRecord(Subject{URI: "at://x", Text: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Destroy(ctx), context.DeadlineExceeded)

	close(stub.release)
	require.NoError(t, l.Destroy(context.Background()))

	// Closed labelers drop new work.
	l.ProcessRecord(Subject{URI: "at://y", Text: "hello"})
	require.NoError(t, l.Destroy(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectFromRecord(t *testing.T) {
	value := json.RawMessage(`{
		"$type": "app.bsky.actor.profile",
		"displayName": "Alice",
		"description": "hello world",
		"avatar": {"$type": "blob", "ref": {"$link": "bafyavatar"}, "mimeType": "image/jpeg", "size": 100}
	}`)

	s := SubjectFromRecord("did:example:abc", "at://did:example:abc/app.bsky.actor.profile/self", "bafyrec", value)
	assert.Contains(t, s.Text, "Alice")
	assert.Contains(t, s.Text, "hello world")
	assert.Equal(t, []string{"bafyavatar"}, s.Images)

	s = SubjectFromRecord("did:example:abc", "at://x", "bafy", json.RawMessage(`not json`))
	assert.Empty(t, s.Text)
}

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier(map[string]string{"Test-Label": "test-label", "spam": "spam"})

	labels, err := k.Classify(context.Background(), Subject{Text: "this is a TEST-LABEL post, spam spam"})
	require.NoError(t, err)
	assert.Equal(t, []string{"spam", "test-label"}, labels)

	labels, err = k.Classify(context.Background(), Subject{Text: "nothing to see"})
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestHiveClassifier(t *testing.T) {
	var gotURL, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotURL = r.PostForm.Get("url")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":[{"response":{"output":[{"classes":[
			{"class":"yes_sexual_activity","score":0.98},
			{"class":"very_bloody","score":0.20},
			{"class":"general_not_nsfw_not_suggestive","score":0.99}]}]}}]}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.HiveAPIKey = "secret"
	cfg.HiveEndpoint = srv.URL
	h := NewHiveClassifier(cfg, func(did, cid string) string {
		return "https://img.example.com/" + did + "/" + cid
	})

	labels, err := h.Classify(context.Background(), Subject{DID: "did:example:abc", Images: []string{"bafyimg"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"porn"}, labels)
	assert.Equal(t, "https://img.example.com/did:example:abc/bafyimg", gotURL)
	assert.Equal(t, "token secret", gotAuth)
}

func TestHiveClassifier_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.HiveEndpoint = srv.URL
	h := NewHiveClassifier(cfg, func(did, cid string) string { return "https://img/" + cid })

	_, err := h.Classify(context.Background(), Subject{Images: []string{"bafyimg"}})
	assert.ErrorContains(t, err, "429")
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())

	t.Setenv("HIVE_API_KEY", "k")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "k", cfg.HiveAPIKey)

	cfg.HiveEndpoint = "::bad"
	assert.Error(t, cfg.Validate())
}
