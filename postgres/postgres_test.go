package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/cepro/northbridge/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatchResults struct {
	execs   int
	failAt  int // 1-based, zero never fails
	closed  bool
	closeEr error
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	f.execs++
	if f.execs == f.failAt {
		return pgconn.CommandTag{}, errors.New("duplicate key")
	}
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", 1)), nil
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error {
	f.closed = true
	return f.closeEr
}

type fakePool struct {
	batch   *pgx.Batch
	results *fakeBatchResults
	closed  bool
}

func (f *fakePool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return f.results
}

func (f *fakePool) Close() { f.closed = true }

func testReadings(n int) []repository.StoredReading {
	readings := make([]repository.StoredReading, 0, n)
	for i := 0; i < n; i++ {
		id := uint64(i + 1)
		readings = append(readings, repository.StoredReading{
			ID:        uuid.New(),
			ReadingID: &id,
			AssetCode: "pump",
			ReadKey:   fmt.Sprintf("k%d", i),
			UserTs:    time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
			Ts:        time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
			Payload:   `{"rate":1}`,
		})
	}
	return readings
}

func TestSink_UploadReadings(t *testing.T) {

	tests := []struct {
		name        string
		readings    int
		failAt      int
		closeErr    error
		expectedErr string
		queued      int
	}{
		{name: "no readings", readings: 0, queued: 0},
		{name: "all inserted", readings: 3, queued: 3},
		{name: "insert fails", readings: 3, failAt: 2, queued: 3, expectedErr: "insert reading 2 of 3: duplicate key"},
		{name: "close fails", readings: 1, closeErr: errors.New("conn lost"), queued: 1, expectedErr: "close batch: conn lost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{results: &fakeBatchResults{failAt: tt.failAt, closeEr: tt.closeErr}}
			sink, err := newSink(pool, "telemetry.readings", slog.Default())
			require.NoError(t, err)

			err = sink.UploadReadings(context.Background(), testReadings(tt.readings))
			if tt.expectedErr != "" {
				assert.EqualError(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}

			if tt.queued == 0 {
				assert.Nil(t, pool.batch)
				return
			}
			require.NotNil(t, pool.batch)
			assert.Equal(t, tt.queued, pool.batch.Len())
			assert.Contains(t, pool.batch.QueuedQueries[0].SQL, `INSERT INTO "telemetry"."readings"`)
			assert.True(t, pool.results.closed)
		})
	}
}

func TestNewSink_MissingTable(t *testing.T) {
	_, err := newSink(&fakePool{}, "", slog.Default())
	assert.Error(t, err)
}

func TestSink_Close(t *testing.T) {
	pool := &fakePool{}
	sink, err := newSink(pool, "readings", slog.Default())
	require.NoError(t, err)
	sink.Close()
	assert.True(t, pool.closed)
	assert.Equal(t, "postgres", sink.Name())
}
