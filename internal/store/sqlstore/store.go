// Package sqlstore implements store.Store over database/sql for the SQLite
// and MySQL job tables.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/simdispatch/internal/status"
	"github.com/mattjoyce/simdispatch/internal/storage"
	"github.com/mattjoyce/simdispatch/internal/store"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const mysqlTimeout = 10 * time.Second

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the job table for driver. For SQLite the dsn is a file path
// and the tables are created when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = storage.OpenSQLite(ctx, dsn)
	case DriverMySQL:
		db, err = storage.OpenMySQL(dsn, mysqlTimeout)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Ping checks that the job table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping job table: %w", err)
	}
	return nil
}

func (s *Store) FetchActionable(ctx context.Context) ([]store.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, store.ActionableQuery)
	if err != nil {
		return nil, fmt.Errorf("query actionable jobs: %w", err)
	}
	defer rows.Close()

	var out []store.JobRecord
	for rows.Next() {
		var r store.Row
		if err := rows.Scan(r.Dest()...); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, r.Record())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, st status.Status) error {
	key, err := store.ParseID(id)
	if err != nil {
		return fmt.Errorf("job id %q: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE results SET result = ? WHERE id = ?;`, st.Code(), key)
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, st, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update job %s: %w", id, store.ErrJobNotFound)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
