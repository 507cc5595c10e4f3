package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom(t *testing.T) {
	t.Parallel()

	t.Run("empty rows skip the round trip", func(t *testing.T) {
		t.Parallel()
		n, err := CopyFrom(context.Background(), nil, "field_provenance", []string{"a"}, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("plain table", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectCopyFrom(pgx.Identifier{"field_provenance"}, []string{"snapshot_id", "field_key"}).WillReturnResult(2)
		n, err := CopyFrom(context.Background(), mock, "field_provenance", []string{"snapshot_id", "field_key"},
			[][]any{{"s1", "revenue"}, {"s1", "net_income"}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema qualified", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectCopyFrom(pgx.Identifier{"fundamentals", "field_provenance"}, []string{"a"}).WillReturnError(errors.New("permission denied"))
		_, err = CopyFrom(context.Background(), mock, "fundamentals.field_provenance", []string{"a"}, [][]any{{1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "COPY INTO fundamentals.field_provenance")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInTx(t *testing.T) {
	t.Parallel()

	t.Run("commits", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM snapshots").WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()
		err = InTx(context.Background(), mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(context.Background(), "DELETE FROM snapshots")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()
		boom := errors.New("boom")
		err = InTx(context.Background(), mock, func(pgx.Tx) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
