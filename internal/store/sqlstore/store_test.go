package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/simdispatch/internal/status"
	"github.com/mattjoyce/simdispatch/internal/store"
)

func openTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.db.Exec(`INSERT INTO estates(id, name) VALUES (1, 'north');`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO models(id, tarball, name, estate, md5) VALUES (10, 'office.tar.gz', 'office', 1, 'abc');`)
	require.NoError(t, err)
	return s, s.db
}

func insertJob(t *testing.T, db *sql.DB, id int64, model any, pam any, result any) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO results(id, sim_start, sim_stop, model, pam, result) VALUES (?, '2024-01-01', '2024-12-31', ?, ?, ?);`,
		id, model, pam, result)
	require.NoError(t, err)
}

func TestFetchActionableSkipsTerminal(t *testing.T) {
	t.Parallel()
	s, db := openTestStore(t)

	insertJob(t, db, 1, 10, 1, 0)
	insertJob(t, db, 2, 10, 1, 3)
	insertJob(t, db, 3, 10, 2, 14)
	insertJob(t, db, 4, 10, 1, 9)
	insertJob(t, db, 5, 10, 1, 7)

	recs, err := s.FetchActionable(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"1", "3", "5"}, ids)

	assert.NoError(t, recs[1].StatusErr)
	assert.Equal(t, status.Running(4), recs[1].Status)
	assert.Equal(t, 2, recs[1].AssessmentID)
	require.NotNil(t, recs[0].Model)
	assert.Equal(t, store.Model{Tarball: "office.tar.gz", Building: "office", Estate: "north", MD5: "abc"}, *recs[0].Model)
	assert.Equal(t, "2024-01-01", recs[0].SimStart)
	assert.Equal(t, "2024-12-31", recs[0].SimStop)
}

func TestFetchActionableKeepsMalformedRows(t *testing.T) {
	t.Parallel()
	s, db := openTestStore(t)

	insertJob(t, db, 1, 10, 1, nil)
	insertJob(t, db, 2, 10, 1, 42)
	insertJob(t, db, 3, 99, nil, 0)

	recs, err := s.FetchActionable(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.ErrorIs(t, recs[0].StatusErr, status.ErrMalformed)
	assert.ErrorIs(t, recs[1].StatusErr, status.ErrMalformed)

	assert.NoError(t, recs[2].StatusErr)
	assert.Nil(t, recs[2].Model)
	assert.Equal(t, int64(99), recs[2].ModelID)
	assert.Equal(t, store.NoAssessment, recs[2].AssessmentID)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	s, db := openTestStore(t)
	insertJob(t, db, 7, 10, 1, 0)

	ctx := context.Background()
	require.NoError(t, s.UpdateStatus(ctx, "7", status.Running(3)))

	var code int
	require.NoError(t, db.QueryRow(`SELECT result FROM results WHERE id = 7`).Scan(&code))
	assert.Equal(t, 13, code)

	require.NoError(t, s.UpdateStatus(ctx, "7", status.Complete(status.Advisory)))
	recs, err := s.FetchActionable(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpdateStatusMissingJob(t *testing.T) {
	t.Parallel()
	s, _ := openTestStore(t)

	err := s.UpdateStatus(context.Background(), "404", status.Error)
	assert.True(t, errors.Is(err, store.ErrJobNotFound), "got %v", err)

	err = s.UpdateStatus(context.Background(), "job-x", status.Error)
	assert.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), "oracle", "x")
	assert.Error(t, err)
}
