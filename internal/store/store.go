// Package store is the durable relational layer: users, credit balances,
// the append-only ledger, idempotency markers, and the job/scaling-event
// archive. Postgres is always the source of truth for correctness-critical
// fields; internal/cache mirrors reads for speed. Grounded directly on the
// teacher's internal/ledger/ledger.go connection and transaction style
// (sql.Open("postgres", ...), explicit sql.Tx with rollback-on-defer).
package store

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Store wraps the durable Postgres connection pool shared by every
// durable-store-backed component (Ledger, Job archive, Idempotency
// markers).
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to postgresURL with the teacher's pool sizing
// (MaxOpenConns 50 / MaxIdleConns 25) and verifies connectivity.
func Open(postgresURL string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log.With().Str("subcomponent", "store").Logger()}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }
