package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/formrelay/internal/submission"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Store appends every record as a row; fields are kept as a JSON object.
type Store struct {
	db  *sql.DB
	log log.Logger
}

func Open(config *Config) (*Store, error) {
	path := strings.TrimSpace(config.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	st := &Store{db: db, log: log.DefaultLogger}
	st.log.Context = log.NewContext(nil).Str("module", "sqlitestore").Value()
	if err := st.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (st *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY,
			received_key TEXT NOT NULL,
			received_at INTEGER NOT NULL,
			fields TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_received_at ON submissions(received_at);`,
	}
	for _, stmt := range stmts {
		if _, err := st.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlitestore: init schema: %w", err)
		}
	}
	return nil
}

func (st *Store) Put(ctx context.Context, rec submission.Record) error {
	if rec.Data == nil {
		return fmt.Errorf("sqlitestore: record has no data")
	}
	fields, err := rec.Data.MarshalJSON()
	if err != nil {
		return fmt.Errorf("sqlitestore: encode fields: %w", err)
	}
	_, err = st.db.ExecContext(ctx,
		"INSERT INTO submissions (received_key, received_at, fields) VALUES (?, ?, ?)",
		rec.Key(), rec.Received.UnixNano(), string(fields),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert: %w", err)
	}
	st.log.Debug().Str("key", rec.Key()).Msg("record stored")
	return nil
}

// Count returns the number of stored records.
func (st *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions").Scan(&n)
	return n, err
}

// Latest returns the most recently received record.
func (st *Store) Latest(ctx context.Context) (submission.Record, error) {
	var nanos int64
	var fields string
	err := st.db.QueryRowContext(ctx,
		"SELECT received_at, fields FROM submissions ORDER BY received_at DESC, id DESC LIMIT 1",
	).Scan(&nanos, &fields)
	if err != nil {
		return submission.Record{}, err
	}
	s := submission.New()
	if err := s.UnmarshalJSON([]byte(fields)); err != nil {
		return submission.Record{}, fmt.Errorf("sqlitestore: decode fields: %w", err)
	}
	return submission.NewRecord(s, time.Unix(0, nanos)), nil
}

func (st *Store) Close() error {
	return st.db.Close()
}
