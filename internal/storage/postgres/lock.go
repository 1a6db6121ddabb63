package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/syntrixbase/appview/internal/storage"
)

// AdvisoryLocker hands out session-level Postgres advisory locks. Each lock
// pins its own connection so the lock lives exactly as long as the holder
// keeps it.
type AdvisoryLocker struct {
	db *sql.DB
}

var _ storage.Locker = (*AdvisoryLocker)(nil)

func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, id int64) (storage.Lock, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to try advisory lock %d: %w", id, err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return &advisoryLock{id: id, conn: conn}, true, nil
}

type advisoryLock struct {
	id   int64
	conn *sql.Conn
	once sync.Once
	err  error
}

func (l *advisoryLock) ID() int64 { return l.id }

// Release unlocks and returns the pinned connection. If the unlock query
// fails the connection is discarded instead, which ends the session and
// frees the lock server-side.
func (l *advisoryLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		defer l.conn.Close()

		var released bool
		if err := l.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.id).Scan(&released); err != nil {
			l.err = fmt.Errorf("failed to release advisory lock %d: %w", l.id, err)
			_ = l.conn.Raw(func(any) error { return driver.ErrBadConn })
			return
		}
		if !released {
			l.err = fmt.Errorf("advisory lock %d was not held", l.id)
		}
	})
	return l.err
}
