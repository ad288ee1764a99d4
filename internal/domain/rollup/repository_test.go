package rollup

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestActiveCompleters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCompletionRepository(sqlx.NewDb(db, "postgres"), time.Second)
	from := testNow.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT actor_ref`)).
		WithArgs(from, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"actor_ref"}).AddRow("alice").AddRow("dave"))

	refs, err := repo.ActiveCompleters(context.Background(), from, testNow)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "dave"}, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}
