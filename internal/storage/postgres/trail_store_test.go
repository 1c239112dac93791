package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/tmorandi/stubborn/internal/fetch"
	"github.com/tmorandi/stubborn/internal/storage"
)

func TestSaveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTrailStoreWithPool(mock, "fetches")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	rec := storage.Record{
		Result: fetch.Result{
			RequestID:  "uuid-v7",
			URL:        "https://example.com/page",
			Success:    true,
			StatusCode: 200,
			WonAttempt: 1,
			Attempts: []fetch.AttemptRecord{
				{Index: 0, Outcome: fetch.OutcomeRateLimited, StatusCode: 429},
				{Index: 1, Outcome: fetch.OutcomeSuccess, StatusCode: 200},
			},
		},
		BlobURI:   "gs://bucket/bodies/uuid-v7",
		CreatedAt: now,
	}

	attemptsJSON, err := json.Marshal(rec.Result.Attempts)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO fetches").
		WithArgs(
			rec.Result.RequestID,
			rec.Result.URL,
			rec.Result.Success,
			"",
			rec.Result.StatusCode,
			rec.Result.WonAttempt,
			attemptsJSON,
			rec.BlobURI,
			rec.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRequiresRequestID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTrailStoreWithPool(mock, "fetches")
	require.NoError(t, err)

	err = store.Save(context.Background(), storage.Record{})
	require.Error(t, err)
}

func TestGetReturnsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTrailStoreWithPool(mock, "fetches")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	attemptsJSON := []byte(`[{"index":0,"outcome":"blocked","status_code":403}]`)

	rows := pgxmock.NewRows([]string{
		"id", "url", "success", "failure_kind", "status_code",
		"won_attempt", "attempts", "blob_uri", "created_at",
	}).AddRow(
		"uuid-v7", "https://example.com/page", false, "blocked", 403,
		-1, attemptsJSON, "", now,
	)

	mock.ExpectQuery("SELECT").
		WithArgs("uuid-v7").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "uuid-v7")
	require.NoError(t, err)
	require.Equal(t, fetch.FailureBlocked, rec.Result.FailureKind)
	require.Len(t, rec.Result.Attempts, 1)
	require.Equal(t, fetch.OutcomeBlocked, rec.Result.Attempts[0].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewTrailStoreWithPool(mock, "fetches")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewTrailStoreWithPool(mock, "fetches; DROP TABLE fetches")
	require.Error(t, err)
}
