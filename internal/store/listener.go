package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener is a long-lived LISTEN session on the log notification channel.
// It holds a dedicated pooled connection for its whole lifetime: Postgres
// ties notification delivery to the session, so the connection must not be
// shared with ad hoc queries while the listen is active.
type Listener struct {
	conn *pgxpool.Conn
}

// Listen opens a notification session on NotifyChannel. The caller must
// Close the listener to release the connection, on every exit path.
func (s *Store) Listen(ctx context.Context) (*Listener, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	return &Listener{conn: conn}, nil
}

// Wait blocks until the next notification arrives and returns its raw
// payload. Returns the context's error on cancellation. A nil error with an
// empty payload never happens; any other failure means the session is dead
// and the listener must be closed.
func (l *Listener) Wait(ctx context.Context) (string, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

// Close tears down the LISTEN session and returns the connection to the pool.
// If the unlisten fails the connection is destroyed rather than returned, so
// a later borrower can never observe stray notifications.
func (l *Listener) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = l.conn.Conn().Close(ctx)
	}
	l.conn.Release()
}
