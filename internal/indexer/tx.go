package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/labeler"
	"github.com/syntrixbase/appview/internal/metrics"
	"github.com/syntrixbase/appview/internal/pubsub"
	"github.com/syntrixbase/appview/internal/repo"
	"github.com/syntrixbase/appview/internal/watermark"
)

const (
	profileCollection = "app.bsky.actor.profile"
	profileRKey       = "self"
)

type repoTx struct {
	svc    *service
	tx     *sql.Tx
	locked map[string]bool
	hooks  []hook
}

func newRepoTx(s *service, tx *sql.Tx) *repoTx {
	return &repoTx{svc: s, tx: tx, locked: make(map[string]bool)}
}

// repoLockClass is the first key of the two-key advisory lock space used for
// repository locks. Two-key locks never collide with the single-key session
// locks held by subscriptions.
const repoLockClass int32 = 0x61707076

// lockRepo serializes writers of one repository for the rest of the
// transaction. Different repositories never contend.
func (t *repoTx) lockRepo(ctx context.Context, did string) error {
	if t.locked[did] {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, repoLockClass, did); err != nil {
		return fmt.Errorf("failed to lock repo %s: %w", did, err)
	}
	t.locked[did] = true
	return nil
}

func (t *repoTx) after(name string, fn func(ctx context.Context) error) {
	t.hooks = append(t.hooks, hook{name: name, fn: fn})
}

func (t *repoTx) IndexRepo(ctx context.Context, did, commit string, rebase bool) (AppliedCommit, error) {
	if err := t.lockRepo(ctx, did); err != nil {
		return AppliedCommit{}, err
	}

	snap, err := t.svc.deps.Reader.Snapshot(ctx, did, commit)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AppliedCommit{}, &ValidationError{DID: did, Commit: commit, Reason: "commit not found", Err: err}
		}
		return AppliedCommit{}, fmt.Errorf("failed to fetch snapshot of %s at %s: %w", did, commit, err)
	}
	if err := validateSnapshot(did, commit, snap); err != nil {
		return AppliedCommit{}, err
	}

	stored, err := t.svc.deps.Watermarks.Get(ctx, t.tx, did)
	if err != nil {
		return AppliedCommit{}, err
	}
	if err := watermark.CheckAncestry(stored, snap.Root, snap.Rev, snap.Prev, rebase); err != nil {
		return AppliedCommit{}, &ValidationError{DID: did, Commit: snap.Root, Reason: "ancestry check failed", Err: err}
	}

	records := append([]repo.Record(nil), snap.Records...)
	sort.Slice(records, func(i, j int) bool {
		if records[i].Collection != records[j].Collection {
			return records[i].Collection < records[j].Collection
		}
		return records[i].RKey < records[j].RKey
	})
	tooBig := snap.TooBig
	if len(records) > t.svc.cfg.MaxRecords {
		records = records[:t.svc.cfg.MaxRecords]
		tooBig = true
	}

	if err := t.writeRecords(ctx, did, records, !tooBig); err != nil {
		return AppliedCommit{}, err
	}

	now := t.svc.now()
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO repo_root (did, root, rev, indexed_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (did) DO UPDATE SET root = EXCLUDED.root, rev = EXCLUDED.rev, indexed_at = EXCLUDED.indexed_at
	`, did, snap.Root, snap.Rev, now)
	if err != nil {
		return AppliedCommit{}, fmt.Errorf("failed to store repo root for %s: %w", did, err)
	}

	applied := AppliedCommit{Root: snap.Root, Rev: snap.Rev, Rebase: rebase, TooBig: tooBig}
	t.after("publish", func(ctx context.Context) error {
		return pubsub.PublishRepoIndexed(ctx, t.svc.deps.Publisher, pubsub.RepoIndexed{
			DID: did, Commit: applied.Root, Rev: applied.Rev, TooBig: applied.TooBig, IndexedAt: now,
		})
	})
	if tooBig {
		t.svc.logger.Warn("Applied partial snapshot", "did", did, "commit", snap.Root, "records", len(snap.Records), "applied", len(records))
	}
	return applied, nil
}

func validateSnapshot(did, commit string, snap *repo.Snapshot) error {
	fail := func(reason string) error {
		return &ValidationError{DID: did, Commit: commit, Reason: reason}
	}
	switch {
	case snap == nil:
		return fail("empty snapshot")
	case snap.DID != did:
		return fail(fmt.Sprintf("snapshot belongs to %s", snap.DID))
	case snap.Root == "":
		return fail("snapshot has no root")
	case commit != "" && snap.Root != commit:
		return fail(fmt.Sprintf("snapshot root is %s", snap.Root))
	case snap.Rev == "":
		return fail("snapshot has no revision")
	}
	for _, r := range snap.Records {
		if r.Collection == "" || r.RKey == "" || r.CID == "" || !json.Valid(r.Value) {
			return fail(fmt.Sprintf("malformed record %s/%s", r.Collection, r.RKey))
		}
	}
	return nil
}

// writeRecords upserts records whose CID changed. When complete is set,
// indexed records missing from the snapshot are removed.
func (t *repoTx) writeRecords(ctx context.Context, did string, records []repo.Record, complete bool) error {
	existing, err := t.existingRecords(ctx, did)
	if err != nil {
		return err
	}

	now := t.svc.now()
	seen := make(map[string]struct{}, len(records))
	var profile *repo.Record
	for i, r := range records {
		uri := r.URI(did)
		seen[uri] = struct{}{}
		if r.Collection == profileCollection && r.RKey == profileRKey {
			profile = &records[i]
		}
		if existing[uri] == r.CID {
			continue
		}

		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO record (uri, did, collection, rkey, cid, json, indexed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (uri) DO UPDATE SET cid = EXCLUDED.cid, json = EXCLUDED.json, indexed_at = EXCLUDED.indexed_at
		`, uri, did, r.Collection, r.RKey, r.CID, []byte(r.Value), now)
		if err != nil {
			return fmt.Errorf("failed to store record %s: %w", uri, err)
		}

		if t.svc.deps.Labeler != nil {
			subject := labeler.SubjectFromRecord(did, uri, r.CID, r.Value)
			t.after("label", func(context.Context) error {
				t.svc.deps.Labeler.ProcessRecord(subject)
				return nil
			})
		}
		if profile == &records[i] {
			if err := t.writeProfile(ctx, did, r, now); err != nil {
				return err
			}
		}
	}

	if !complete {
		return nil
	}

	var stale []string
	for uri := range existing {
		if _, ok := seen[uri]; !ok {
			stale = append(stale, uri)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	sort.Strings(stale)
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM record WHERE uri = ANY($1)`, pq.Array(stale)); err != nil {
		return fmt.Errorf("failed to prune records of %s: %w", did, err)
	}
	if profile == nil {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM profile WHERE did = $1`, did); err != nil {
			return fmt.Errorf("failed to remove profile of %s: %w", did, err)
		}
	}
	return nil
}

func (t *repoTx) existingRecords(ctx context.Context, did string) (map[string]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT uri, cid FROM record WHERE did = $1`, did)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", did, err)
	}
	defer rows.Close()

	existing := make(map[string]string)
	for rows.Next() {
		var uri, cid string
		if err := rows.Scan(&uri, &cid); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		existing[uri] = cid
	}
	return existing, rows.Err()
}

type profileRecord struct {
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Avatar      *struct {
		Ref struct {
			Link string `json:"$link"`
		} `json:"ref"`
	} `json:"avatar"`
}

func (t *repoTx) writeProfile(ctx context.Context, did string, r repo.Record, now time.Time) error {
	var p profileRecord
	if err := json.Unmarshal(r.Value, &p); err != nil {
		return &ValidationError{DID: did, Reason: "malformed profile record", Err: err}
	}
	avatar := ""
	if p.Avatar != nil {
		avatar = p.Avatar.Ref.Link
	}

	var previous sql.NullString
	err := t.tx.QueryRowContext(ctx, `SELECT avatar_cid FROM profile WHERE did = $1`, did).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read profile of %s: %w", did, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO profile (did, display_name, description, avatar_cid, indexed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (did) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			avatar_cid = EXCLUDED.avatar_cid,
			indexed_at = EXCLUDED.indexed_at
	`, did, nullString(p.DisplayName), nullString(p.Description), nullString(avatar), now)
	if err != nil {
		return fmt.Errorf("failed to store profile of %s: %w", did, err)
	}

	if previous.Valid && previous.String != avatar && t.svc.deps.Images != nil {
		old := previous.String
		t.after("invalidate-avatar", func(ctx context.Context) error {
			return t.svc.deps.Images.InvalidateImage(ctx, did, old)
		})
	}
	return nil
}

func (t *repoTx) IndexHandle(ctx context.Context, did string, observedAt time.Time) (string, error) {
	if err := t.lockRepo(ctx, did); err != nil {
		return "", err
	}

	handle, err := identity.VerifiedHandle(ctx, t.svc.deps.Resolver, did)
	if err != nil {
		return "", fmt.Errorf("failed to resolve handle of %s: %w", did, err)
	}

	if handle != "" {
		// A handle belongs to at most one repository. It moves only when this
		// observation is not older than the stored one.
		_, err := t.tx.ExecContext(ctx, `
			UPDATE actor SET handle = NULL
			WHERE lower(handle) = $1 AND did <> $2
				AND NOT EXISTS (SELECT 1 FROM actor WHERE did = $2 AND indexed_at > $3)
		`, handle, did, observedAt)
		if err != nil {
			return "", fmt.Errorf("failed to release handle %s: %w", handle, err)
		}
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO actor (did, handle, indexed_at) VALUES ($1, $2, $3)
		ON CONFLICT (did) DO UPDATE SET handle = EXCLUDED.handle, indexed_at = EXCLUDED.indexed_at
		WHERE actor.indexed_at <= EXCLUDED.indexed_at
	`, did, nullString(handle), observedAt)
	if err != nil {
		return "", fmt.Errorf("failed to store actor %s: %w", did, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		t.svc.logger.Debug("Skipping older handle observation", "did", did, "observed_at", observedAt)
		return handle, nil
	}

	t.after("publish", func(ctx context.Context) error {
		return pubsub.PublishRepoIndexed(ctx, t.svc.deps.Publisher, pubsub.RepoIndexed{
			DID: did, Handle: handle, IndexedAt: observedAt,
		})
	})
	return handle, nil
}

func (t *repoTx) SetCommitLastSeen(ctx context.Context, did string, applied AppliedCommit) (bool, error) {
	if err := t.lockRepo(ctx, did); err != nil {
		return false, err
	}
	return t.svc.deps.Watermarks.CompareAndSet(ctx, t.tx, did, watermark.Candidate{
		Commit:     applied.Root,
		Rev:        applied.Rev,
		Rebase:     applied.Rebase,
		TooBig:     applied.TooBig,
		ObservedAt: t.svc.now(),
	})
}

func (t *repoTx) ApplyCommit(ctx context.Context, did, commit string, meta CommitMeta) (AppliedCommit, error) {
	if err := t.lockRepo(ctx, did); err != nil {
		return AppliedCommit{}, err
	}

	if meta.Rev != "" {
		stored, err := t.svc.deps.Watermarks.Get(ctx, t.tx, did)
		if err != nil {
			return AppliedCommit{}, err
		}
		if !watermark.Accept(stored, watermark.Candidate{Commit: commit, Rev: meta.Rev, Rebase: meta.Rebase}) {
			metrics.CommitsApplied.WithLabelValues("firehose", "stale").Inc()
			return AppliedCommit{}, ErrStaleCommit
		}
	}

	applied, err := t.IndexRepo(ctx, did, commit, meta.Rebase)
	if err != nil {
		return AppliedCommit{}, err
	}

	var known bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM actor WHERE did = $1)`, did).Scan(&known); err != nil {
		return AppliedCommit{}, fmt.Errorf("failed to look up actor %s: %w", did, err)
	}
	if !known {
		observedAt := meta.Time
		if observedAt.IsZero() {
			observedAt = t.svc.now()
		}
		if _, err := t.IndexHandle(ctx, did, observedAt); err != nil {
			return AppliedCommit{}, err
		}
	}

	ok, err := t.SetCommitLastSeen(ctx, did, applied)
	if err != nil {
		return AppliedCommit{}, err
	}
	if !ok {
		metrics.CommitsApplied.WithLabelValues("firehose", "stale").Inc()
		return AppliedCommit{}, ErrStaleCommit
	}
	metrics.CommitsApplied.WithLabelValues("firehose", "applied").Inc()
	return applied, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Tx = (*repoTx)(nil)
