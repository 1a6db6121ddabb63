package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/labeler"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/storage/postgres"
	"github.com/syntrixbase/appview/internal/watermark"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	snapshots map[string]*repo.Snapshot // keyed by did + "@" + commit
	calls     int
}

func (f *fakeReader) Snapshot(ctx context.Context, did, commit string) (*repo.Snapshot, error) {
	f.calls++
	snap, ok := f.snapshots[did+"@"+commit]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return snap, nil
}

func (f *fakeReader) Head(ctx context.Context, did string) (*repo.Head, error) {
	return nil, repo.ErrNotFound
}

func (f *fakeReader) Blob(ctx context.Context, did, cid string) ([]byte, error) {
	return nil, repo.ErrNotFound
}

type fakeResolver struct {
	docs    map[string]*identity.DIDDocument
	handles map[string]string
	err     error
}

func (f *fakeResolver) ResolveDID(ctx context.Context, did string) (*identity.DIDDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[did], nil
}

func (f *fakeResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.handles[handle], nil
}

type recordingLabeler struct {
	mu       sync.Mutex
	subjects []labeler.Subject
}

func (r *recordingLabeler) ProcessRecord(s labeler.Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, s)
}

type recordingPublisher struct {
	subjects []string
	payloads []string
}

func (r *recordingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, string(data))
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type recordingInvalidator struct {
	cids []string
}

func (r *recordingInvalidator) InvalidateImage(ctx context.Context, did, cid string) error {
	r.cids = append(r.cids, cid)
	return nil
}

type harness struct {
	svc       *service
	mock      sqlmock.Sqlmock
	reader    *fakeReader
	resolver  *fakeResolver
	labeler   *recordingLabeler
	publisher *recordingPublisher
	images    *recordingInvalidator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		mock:   mock,
		reader: &fakeReader{snapshots: map[string]*repo.Snapshot{}},
		resolver: &fakeResolver{
			docs: map[string]*identity.DIDDocument{
				"did:example:abc": {ID: "did:example:abc", AlsoKnownAs: []string{"at://alice.example.com"}},
			},
			handles: map[string]string{"alice.example.com": "did:example:abc"},
		},
		labeler:   &recordingLabeler{},
		publisher: &recordingPublisher{},
		images:    &recordingInvalidator{},
	}

	svc := NewService(DefaultConfig(), Deps{
		DB:         postgres.Wrap(db),
		Reader:     h.reader,
		Resolver:   h.resolver,
		Watermarks: watermark.NewStore(),
		Labeler:    h.labeler,
		Publisher:  h.publisher,
		Images:     h.images,
	}, nil).(*service)
	svc.now = func() time.Time { return testNow }
	h.svc = svc
	return h
}

func profileSnapshot(root, rev string) *repo.Snapshot {
	return &repo.Snapshot{
		DID:  "did:example:abc",
		Root: root,
		Rev:  rev,
		Records: []repo.Record{
			{Collection: "app.bsky.feed.post", RKey: "3k1", CID: "bafypost1", Value: []byte(`{"text":"hello"}`)},
			{Collection: "app.bsky.actor.profile", RKey: "self", CID: "bafyprofile",
				Value: []byte(`{"displayName":"Alice","avatar":{"$type":"blob","ref":{"$link":"bafyavatar"}}}`)},
		},
	}
}

var watermarkColumns = []string{"did", "commit", "rev", "rebase", "too_big", "observed_at"}

func (h *harness) expectLock(did string) {
	h.mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1, hashtext\(\$2\)\)`).WithArgs(repoLockClass, did).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func (h *harness) expectWatermark(did string, w *watermark.Watermark) {
	rows := sqlmock.NewRows(watermarkColumns)
	if w != nil {
		rows.AddRow(did, w.Commit, w.Rev, w.Rebase, w.TooBig, testNow)
	}
	h.mock.ExpectQuery(`FROM repo_watermark WHERE did = \$1$`).WithArgs(did).WillReturnRows(rows)
}

func (h *harness) expectExistingRecords(did string, uriCID ...string) {
	rows := sqlmock.NewRows([]string{"uri", "cid"})
	for i := 0; i+1 < len(uriCID); i += 2 {
		rows.AddRow(uriCID[i], uriCID[i+1])
	}
	h.mock.ExpectQuery(`SELECT uri, cid FROM record WHERE did = \$1`).WithArgs(did).WillReturnRows(rows)
}

func (h *harness) expectRecordInsert(uri string) {
	h.mock.ExpectExec(`INSERT INTO record`).
		WithArgs(uri, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectProfileWrite(did string, previousAvatar any) {
	rows := sqlmock.NewRows([]string{"avatar_cid"})
	if previousAvatar != nil {
		rows.AddRow(previousAvatar)
	}
	h.mock.ExpectQuery(`SELECT avatar_cid FROM profile WHERE did = \$1`).WithArgs(did).WillReturnRows(rows)
	h.mock.ExpectExec(`INSERT INTO profile`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectRepoRoot(did, root, rev string) {
	h.mock.ExpectExec(`INSERT INTO repo_root`).WithArgs(did, root, rev, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectActorUpsert(did string, handle any) {
	if handle != nil {
		h.mock.ExpectExec(`UPDATE actor SET handle = NULL`).WithArgs(handle, did, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	h.mock.ExpectExec(`INSERT INTO actor`).WithArgs(did, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (h *harness) expectCAS(did string, stored *watermark.Watermark, accepted bool) {
	rows := sqlmock.NewRows(watermarkColumns)
	if stored != nil {
		rows.AddRow(did, stored.Commit, stored.Rev, stored.Rebase, stored.TooBig, testNow)
	}
	h.mock.ExpectQuery(`FOR UPDATE`).WithArgs(did).WillReturnRows(rows)
	if accepted {
		h.mock.ExpectExec(`INSERT INTO repo_watermark`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

// expectFullIndexRepo sets up the statements of a first-time IndexRepo of
// profileSnapshot.
func (h *harness) expectFullIndexRepo(did, root, rev string) {
	h.expectLock(did)
	h.expectWatermark(did, nil)
	h.expectExistingRecords(did)
	h.expectRecordInsert("at://" + did + "/app.bsky.actor.profile/self")
	h.expectProfileWrite(did, nil)
	h.expectRecordInsert("at://" + did + "/app.bsky.feed.post/3k1")
	h.expectRepoRoot(did, root, rev)
}
