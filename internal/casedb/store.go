// Package casedb persists cases and everything hanging off them in DuckDB.
package casedb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/Kiwi1009/interview-to-quote/internal/logger"
)

// Options tunes the DuckDB connection.
type Options struct {
	Threads     int
	MemoryLimit string
	Log         *logger.Logger
}

// Store is the durable record store. Reads run concurrently; writes are
// serialized by mu so that check-then-insert sequences stay atomic.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logger.Logger
	now func() time.Time
}

const schema = `
CREATE SEQUENCE IF NOT EXISTS row_seq;

CREATE TABLE IF NOT EXISTS cases (
	id         VARCHAR PRIMARY KEY,
	owner      VARCHAR NOT NULL,
	title      VARCHAR NOT NULL,
	industry   VARCHAR,
	status     VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	seq        BIGINT NOT NULL DEFAULT nextval('row_seq')
);

CREATE TABLE IF NOT EXISTS uploads (
	id           VARCHAR PRIMARY KEY,
	case_id      VARCHAR NOT NULL,
	type         VARCHAR NOT NULL,
	filename     VARCHAR NOT NULL,
	path         VARCHAR NOT NULL,
	sha256       VARCHAR NOT NULL,
	size         BIGINT NOT NULL,
	content_type VARCHAR,
	created_at   TIMESTAMP NOT NULL,
	seq          BIGINT NOT NULL DEFAULT nextval('row_seq'),
	-- bumped when identical bytes are registered again
	registered_seq BIGINT NOT NULL DEFAULT nextval('row_seq')
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	case_id    VARCHAR NOT NULL,
	upload_id  VARCHAR NOT NULL,
	idx        INTEGER NOT NULL,
	speaker    VARCHAR,
	text       VARCHAR NOT NULL,
	start_char INTEGER NOT NULL,
	end_char   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_runs (
	id          VARCHAR PRIMARY KEY,
	case_id     VARCHAR NOT NULL,
	version     INTEGER NOT NULL,
	model       VARCHAR NOT NULL,
	prompt_hash VARCHAR,
	status      VARCHAR NOT NULL,
	error       VARCHAR,
	created_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	UNIQUE (case_id, version)
);

CREATE TABLE IF NOT EXISTS requirements (
	run_id     VARCHAR PRIMARY KEY,
	jsonb_data VARCHAR NOT NULL,
	confidence VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence (
	run_id      VARCHAR NOT NULL,
	position    INTEGER NOT NULL,
	field_path  VARCHAR NOT NULL,
	segment_idx INTEGER,
	snippet     VARCHAR NOT NULL,
	start_char  INTEGER,
	end_char    INTEGER
);

CREATE TABLE IF NOT EXISTS plans (
	id          VARCHAR PRIMARY KEY,
	case_id     VARCHAR NOT NULL,
	run_id      VARCHAR,
	plan_code   VARCHAR NOT NULL,
	name        VARCHAR NOT NULL,
	assumptions VARCHAR NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS quote_items (
	id              VARCHAR PRIMARY KEY,
	plan_id         VARCHAR NOT NULL,
	position        INTEGER NOT NULL,
	category        VARCHAR NOT NULL,
	item_name       VARCHAR NOT NULL,
	spec            VARCHAR,
	qty             DOUBLE NOT NULL,
	unit            VARCHAR NOT NULL,
	unit_price_low  DOUBLE NOT NULL,
	unit_price_high DOUBLE NOT NULL,
	subtotal_low    DOUBLE,
	subtotal_high   DOUBLE
);

CREATE TABLE IF NOT EXISTS documents (
	id         VARCHAR PRIMARY KEY,
	case_id    VARCHAR NOT NULL,
	run_id     VARCHAR,
	doc_type   VARCHAR NOT NULL,
	format     VARCHAR NOT NULL,
	path       VARCHAR NOT NULL,
	size       BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	seq        BIGINT NOT NULL DEFAULT nextval('row_seq')
);
`

// Open opens (or creates) the database at path and applies the schema.
// An empty path opens an in-memory database.
func Open(path string, opts Options) (*Store, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = 2
	}
	memLimit := opts.MemoryLimit
	if memLimit == "" {
		memLimit = "512MB"
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", memLimit),
			fmt.Sprintf("PRAGMA threads=%d", threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("casedb: create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("casedb: apply schema: %w", err)
		}
	}

	log.Info("case store opened", "path", path, "threads", threads, "memory_limit", memLimit)
	return &Store{
		db:  db,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction while holding the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
