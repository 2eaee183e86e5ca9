package message

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	insertMessageQuery = `(?s)^INSERT\s+INTO\s+messages\s*\(author,\s*body\)\s*VALUES\s*\(\$1,\s*\$2\)\s*RETURNING\s+id,\s*created_at\s*$`
	recentQuery        = `(?s)^SELECT\s+id,\s*author,\s*body,\s*created_at\s+FROM\s*\(.*ORDER\s+BY\s+id\s+DESC\s+LIMIT\s+\$1\s*\)\s*recent\s+ORDER\s+BY\s+id\s+ASC\s*$`
)

func newPostgresWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock, db
}

func TestPostgresAppend_Success(t *testing.T) {
	s, mock, _ := newPostgresWithMock(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(insertMessageQuery).
		WithArgs("alice", "hi").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), at))

	m := chat("alice", "hi")
	require.NoError(t, s.Append(context.Background(), m))
	assert.Equal(t, int64(7), m.ID)
	assert.True(t, m.CreatedAt.Equal(at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppend_DBError(t *testing.T) {
	s, mock, _ := newPostgresWithMock(t)

	mock.ExpectQuery(insertMessageQuery).
		WithArgs("alice", "hi").
		WillReturnError(errors.New("db down"))

	err := s.Append(context.Background(), chat("alice", "hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "db down")
}

func TestPostgresRecent_Success(t *testing.T) {
	s, mock, _ := newPostgresWithMock(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "author", "body", "created_at"}).
		AddRow(int64(3), "alice", "one", at).
		AddRow(int64(4), "bob", "two", at.Add(time.Second))
	mock.ExpectQuery(recentQuery).WithArgs(50).WillReturnRows(rows)

	got, err := s.Recent(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Author)
	assert.Equal(t, "two", got[1].Body)
	assert.Equal(t, int64(4), got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecent_NonPositiveLimitSkipsQuery(t *testing.T) {
	s, mock, _ := newPostgresWithMock(t)

	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecent_QueryError(t *testing.T) {
	s, mock, _ := newPostgresWithMock(t)

	mock.ExpectQuery(recentQuery).WithArgs(50).WillReturnError(errors.New("conn reset"))

	_, err := s.Recent(context.Background(), 50)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func TestPostgresRecent_RowError(t *testing.T) {
	s, mock, _ := newPostgresWithMock(t)

	rows := sqlmock.NewRows([]string{"id", "author", "body", "created_at"}).
		AddRow(int64(1), "alice", "one", time.Now()).
		RowError(0, errors.New("broken row"))
	mock.ExpectQuery(recentQuery).WithArgs(50).WillReturnRows(rows)

	_, err := s.Recent(context.Background(), 50)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
}
