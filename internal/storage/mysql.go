package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// OpenMySQL returns a pool for the front end's MySQL job table. The schema is
// owned by the front end and is never created here.
//
// The pool connects lazily, so a server that is down at startup does not
// fail this call; each dispatch cycle retries through the pool.
func OpenMySQL(dsn string, timeout time.Duration) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Report matched rather than changed rows so an idempotent status write
	// is not mistaken for a missing job.
	cfg.ClientFoundRows = true
	if timeout > 0 {
		cfg.Timeout = timeout
		cfg.ReadTimeout = timeout
		cfg.WriteTimeout = timeout
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
