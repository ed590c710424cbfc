// Package store is the dispatcher's narrow view of the shared job table.
//
// The table is owned by the front end. The dispatcher only lists the jobs
// that still need attention and writes back a status code per job. Backends
// live in subpackages: sqlstore (SQLite, MySQL) and pgstore (PostgreSQL).
package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/mattjoyce/simdispatch/internal/status"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/simdispatch/internal/store Store

// Store is the state store adapter used by the dispatch loop.
type Store interface {
	// FetchActionable returns every job whose status is not terminal,
	// including rows whose status cannot be decoded.
	FetchActionable(ctx context.Context) ([]JobRecord, error)

	// UpdateStatus persists st for the job with the given id.
	UpdateStatus(ctx context.Context, id string, st status.Status) error

	Close() error
}

// ErrJobNotFound is returned by UpdateStatus when no row matched.
var ErrJobNotFound = errors.New("job not found")

// JobRecord is one row of the job table as the dispatcher sees it.
type JobRecord struct {
	ID           string
	SimStart     string
	SimStop      string
	ModelID      int64
	AssessmentID int

	// Status is valid only when StatusErr is nil.
	Status    status.Status
	StatusErr error

	// Model is nil when the model reference does not resolve.
	Model *Model
}

// Model is the resolved model reference of a job.
type Model struct {
	Tarball  string
	Building string
	Estate   string
	MD5      string
}

// FormatID renders a numeric table key as a job identifier.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}

// NoAssessment is the AssessmentID of a row whose assessment column is NULL.
const NoAssessment = -1

// TerminalCodeList renders status.TerminalCodes for an SQL IN clause.
func TerminalCodeList() string {
	parts := make([]string, len(status.TerminalCodes))
	for i, c := range status.TerminalCodes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// ActionableQuery selects the columns scanned into Row. The model and estate
// joins are outer joins so that dangling references still reach the
// dispatcher and can be marked Error.
var ActionableQuery = `
SELECT r.id, r.sim_start, r.sim_stop, r.model, r.pam, r.result,
       m.tarball, m.name, e.name, m.md5
FROM results r
LEFT JOIN models m ON m.id = r.model
LEFT JOIN estates e ON e.id = m.estate
WHERE r.result IS NULL OR r.result NOT IN (` + TerminalCodeList() + `)
ORDER BY r.id;
`

// Row holds the nullable columns of ActionableQuery.
type Row struct {
	ID       int64
	SimStart sql.NullString
	SimStop  sql.NullString
	ModelID  sql.NullInt64
	Pam      sql.NullInt64
	Result   sql.NullInt64
	Tarball  sql.NullString
	Building sql.NullString
	Estate   sql.NullString
	MD5      sql.NullString
}

// Dest returns scan destinations in ActionableQuery column order.
func (r *Row) Dest() []any {
	return []any{
		&r.ID, &r.SimStart, &r.SimStop, &r.ModelID, &r.Pam, &r.Result,
		&r.Tarball, &r.Building, &r.Estate, &r.MD5,
	}
}

// Record converts a scanned row. Undecodable statuses are carried in
// StatusErr rather than dropped.
func (r *Row) Record() JobRecord {
	rec := JobRecord{
		ID:           FormatID(r.ID),
		SimStart:     r.SimStart.String,
		SimStop:      r.SimStop.String,
		AssessmentID: NoAssessment,
	}
	rec.Status, rec.StatusErr = status.DecodeNull(r.Result)
	if r.Pam.Valid {
		rec.AssessmentID = int(r.Pam.Int64)
	}
	if r.ModelID.Valid {
		rec.ModelID = r.ModelID.Int64
	}
	if r.Tarball.Valid {
		rec.Model = &Model{
			Tarball:  r.Tarball.String,
			Building: r.Building.String,
			Estate:   r.Estate.String,
			MD5:      r.MD5.String,
		}
	}
	return rec
}
