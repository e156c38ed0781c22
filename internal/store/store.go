// Package store is the Postgres persistence layer. Queries run through
// go-zero's sqlx over the pgx stdlib driver; every engine-facing write path
// is also served inside a per-participant transaction that locks the
// portfolio row, so mark-to-market and order execution serialize per
// account.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/nykznykz/gauntlet/internal/engine"
)

// zeroUUID spots unset optional references before they hit the database.
var zeroUUID = uuid.UUID{}

// queries holds every row-level accessor. It is shared between the base
// store and transaction-scoped views: both run the same SQL, differing only
// in the session underneath.
type queries struct {
	session sqlx.Session
}

// Store is the application-wide persistence handle.
type Store struct {
	queries
	conn sqlx.SqlConn
}

// txView is the transaction-scoped store handed to engine callbacks.
type txView struct {
	queries
}

// New opens a store over a Postgres DSN.
func New(dsn string) *Store {
	conn := sqlx.NewSqlConn("pgx", dsn)
	return &Store{queries: queries{session: conn}, conn: conn}
}

// NewWithConn wires a store over an existing connection (tests, shared
// pools).
func NewWithConn(conn sqlx.SqlConn) *Store {
	return &Store{queries: queries{session: conn}, conn: conn}
}

// Transact runs fn inside one transaction serialized on the participant's
// portfolio row. Everything fn writes commits or rolls back together.
func (s *Store) Transact(ctx context.Context, participantID uuid.UUID, fn func(tx engine.Store) error) error {
	return s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		var lockedID string
		err := session.QueryRowCtx(ctx, &lockedID,
			`SELECT id FROM portfolios WHERE participant_id = $1 FOR UPDATE`, participantID)
		if err != nil && !errors.Is(err, sqlx.ErrNotFound) {
			return fmt.Errorf("store: lock portfolio for participant %s: %w", participantID, err)
		}
		return fn(&txView{queries: queries{session: session}})
	})
}

// wrapNotFound converts driver-level row misses into the engine sentinel.
func wrapNotFound(err error, what string) error {
	if errors.Is(err, sqlx.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, engine.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
