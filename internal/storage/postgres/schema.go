package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS actor (
    did         VARCHAR(2048) PRIMARY KEY,
    handle      VARCHAR(253) UNIQUE,
    indexed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_actor_handle_lower ON actor (lower(handle) text_pattern_ops);

CREATE TABLE IF NOT EXISTS repo_root (
    did         VARCHAR(2048) PRIMARY KEY,
    root        VARCHAR(128) NOT NULL,
    rev         VARCHAR(64) NOT NULL,
    indexed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profile (
    did           VARCHAR(2048) PRIMARY KEY,
    display_name  VARCHAR(640),
    description   TEXT,
    avatar_cid    VARCHAR(128),
    indexed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profile_display_name_lower ON profile (lower(display_name));

CREATE TABLE IF NOT EXISTS record (
    uri         TEXT PRIMARY KEY,
    did         VARCHAR(2048) NOT NULL,
    collection  VARCHAR(317) NOT NULL,
    rkey        VARCHAR(512) NOT NULL,
    cid         VARCHAR(128) NOT NULL,
    json        JSONB NOT NULL,
    indexed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_record_did ON record (did);

CREATE TABLE IF NOT EXISTS repo_watermark (
    did          VARCHAR(2048) PRIMARY KEY,
    commit       VARCHAR(128) NOT NULL,
    rev          VARCHAR(64) NOT NULL,
    rebase       BOOLEAN NOT NULL DEFAULT FALSE,
    too_big      BOOLEAN NOT NULL DEFAULT FALSE,
    observed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subscription_cursor (
    service     TEXT PRIMARY KEY,
    cursor      BIGINT NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS did_cache (
    did         VARCHAR(2048) PRIMARY KEY,
    doc         JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS label (
    src   VARCHAR(2048) NOT NULL,
    uri   TEXT NOT NULL,
    val   VARCHAR(128) NOT NULL,
    neg   BOOLEAN NOT NULL DEFAULT FALSE,
    cts   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (src, uri, val)
);
`

// EnsureSchema creates the index tables if they don't exist.
func EnsureSchema(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
