package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syntrixbase/appview/internal/storage"
)

// Row is an actor joined with its profile.
type Row struct {
	DID         string
	Handle      string
	DisplayName string
	Description string
	AvatarCID   string
}

// Store reads actors from the index.
type Store interface {
	// Search returns up to limit actors whose handle starts with term or
	// whose display name contains it, ordered by handle, strictly after the
	// after handle.
	Search(ctx context.Context, term string, limit int, after string) ([]Row, error)
	// LookupHandle returns the DID bound to handle, or "".
	LookupHandle(ctx context.Context, handle string) (string, error)
}

type sqlStore struct {
	db storage.Querier
}

func NewStore(db storage.Querier) Store {
	return &sqlStore{db: db}
}

const searchQuery = `
SELECT a.did, a.handle, COALESCE(p.display_name, ''), COALESCE(p.description, ''), COALESCE(p.avatar_cid, '')
FROM actor a
LEFT JOIN profile p ON p.did = a.did
WHERE a.handle IS NOT NULL
  AND (a.handle LIKE $1 ESCAPE '\' OR lower(p.display_name) LIKE $2 ESCAPE '\')
  AND a.handle > $3
ORDER BY a.handle
LIMIT $4`

func (s *sqlStore) Search(ctx context.Context, term string, limit int, after string) ([]Row, error) {
	esc := escapeLike(term)
	rows, err := s.db.QueryContext(ctx, searchQuery, esc+"%", "%"+esc+"%", after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search actors: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.DID, &r.Handle, &r.DisplayName, &r.Description, &r.AvatarCID); err != nil {
			return nil, fmt.Errorf("failed to scan actor: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) LookupHandle(ctx context.Context, handle string) (string, error) {
	var did string
	err := s.db.QueryRowContext(ctx, `SELECT did FROM actor WHERE lower(handle) = $1`, handle).Scan(&did)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up handle %s: %w", handle, err)
	}
	return did, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
