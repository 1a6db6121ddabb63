package search

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_Search(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM actor a\s+LEFT JOIN profile p`).
		WithArgs(`a\_b%`, `%a\_b%`, "", 10).
		WillReturnRows(sqlmock.NewRows([]string{"did", "handle", "display_name", "description", "avatar_cid"}).
			AddRow("did:example:1", "a_b.example", "A B", "", "bafyav"))

	rows, err := s.Search(context.Background(), "a_b", 10, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a_b.example", rows[0].Handle)
	assert.Equal(t, "bafyav", rows[0].AvatarCID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SearchError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM actor a`).WillReturnError(errors.New("timeout"))

	_, err := s.Search(context.Background(), "x", 10, "")
	assert.ErrorContains(t, err, "failed to search actors")
}

func TestStore_LookupHandle(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT did FROM actor WHERE lower\(handle\) = \$1`).
		WithArgs("alice.example").
		WillReturnRows(sqlmock.NewRows([]string{"did"}).AddRow("did:example:alice"))
	mock.ExpectQuery(`SELECT did FROM actor`).
		WithArgs("ghost.example").
		WillReturnRows(sqlmock.NewRows([]string{"did"}))

	did, err := s.LookupHandle(context.Background(), "alice.example")
	require.NoError(t, err)
	assert.Equal(t, "did:example:alice", did)

	did, err = s.LookupHandle(context.Background(), "ghost.example")
	require.NoError(t, err)
	assert.Empty(t, did)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_off\\`, escapeLike(`100%_off\`))
}
