package north

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/cepro/northbridge/repository"
	"github.com/cepro/northbridge/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name     string
	err      error
	uploaded [][]repository.StoredReading
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) UploadReadings(ctx context.Context, readings []repository.StoredReading) error {
	f.uploaded = append(f.uploaded, readings)
	return f.err
}

func newTestRepository(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.New(filepath.Join(t.TempDir(), "buffer.sqlite"))
	require.NoError(t, err)
	return repo
}

func testSet(ids ...uint64) *telemetry.ReadingSet {
	readings := make([]*telemetry.Reading, 0, len(ids))
	for i, id := range ids {
		r := telemetry.NewReading("pump", "k", time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC))
		r.SetID(id)
		r.AddDatapoint(telemetry.NewDatapoint("rate", telemetry.NewIntegerValue(int64(id))))
		readings = append(readings, r)
	}
	return telemetry.NewReadingSet(readings)
}

func TestDataPlatform_UploadSuccess(t *testing.T) {
	repo := newTestRepository(t)
	first, second := &fakeSink{name: "first"}, &fakeSink{name: "second"}

	d, err := New(Config{Repository: repo, Sinks: []Sink{first, second}, UploadChunkLimit: 2})
	require.NoError(t, err)

	require.NoError(t, d.store(testSet(1, 2, 3)))
	d.attemptUpload(context.Background())

	// one fresh chunk per upload attempt
	require.Len(t, first.uploaded, 1)
	assert.Len(t, first.uploaded[0], 2)
	require.Len(t, second.uploaded, 1)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	d.attemptUpload(context.Background())
	count, err = repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDataPlatform_UploadFailureKeepsReadings(t *testing.T) {
	repo := newTestRepository(t)
	good, bad := &fakeSink{name: "good"}, &fakeSink{name: "bad", err: errors.New("unavailable")}

	d, err := New(Config{Repository: repo, Sinks: []Sink{good, bad}})
	require.NoError(t, err)

	require.NoError(t, d.store(testSet(1, 2)))
	err = uploadFresh(t, d, repo)
	assert.ErrorContains(t, err, "upload to bad: unavailable")

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	old, err := repo.GetReadings(10, false)
	require.NoError(t, err)
	assert.Len(t, old, 2)

	// a retry only goes to the sink that failed
	d.attemptUpload(context.Background())
	assert.Len(t, good.uploaded, 1)
	assert.Len(t, bad.uploaded, 2)

	// once the sink recovers the old readings are retried and removed
	bad.err = nil
	d.attemptUpload(context.Background())
	count, err = repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.Len(t, good.uploaded, 1)
	require.Len(t, bad.uploaded, 3)
	assert.Len(t, bad.uploaded[2], 2)
}

func TestDataPlatform_PartialSinkFailure(t *testing.T) {

	tests := []struct {
		name            string
		failing         []string
		expectedRetries map[string]int
	}{
		{
			name:            "first sink fails",
			failing:         []string{"supabase"},
			expectedRetries: map[string]int{"supabase": 1, "postgres": 0},
		},
		{
			name:            "second sink fails",
			failing:         []string{"postgres"},
			expectedRetries: map[string]int{"supabase": 0, "postgres": 1},
		},
		{
			name:            "both sinks fail",
			failing:         []string{"supabase", "postgres"},
			expectedRetries: map[string]int{"supabase": 1, "postgres": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepository(t)
			sinks := map[string]*fakeSink{
				"supabase": {name: "supabase"},
				"postgres": {name: "postgres"},
			}
			for _, name := range tt.failing {
				sinks[name].err = errors.New("unavailable")
			}

			d, err := New(Config{Repository: repo, Sinks: []Sink{sinks["supabase"], sinks["postgres"]}})
			require.NoError(t, err)
			require.NoError(t, d.store(testSet(1, 2, 3)))

			assert.Error(t, uploadFresh(t, d, repo))
			for _, sink := range sinks {
				sink.err = nil
			}
			d.attemptUpload(context.Background())

			for name, retries := range tt.expectedRetries {
				assert.Len(t, sinks[name].uploaded, 1+retries, name)
				for _, chunk := range sinks[name].uploaded {
					assert.Len(t, chunk, 3, name)
				}
			}
			count, err := repo.Count()
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

// uploadFresh uploads the current fresh readings and returns the error instead of logging it.
func uploadFresh(t *testing.T, d *DataPlatform, repo *repository.Repository) error {
	t.Helper()
	fresh, err := repo.GetReadings(d.uploadChunkLimit, true)
	require.NoError(t, err)
	return d.handleReadings(context.Background(), fresh)
}

func TestDataPlatform_Run(t *testing.T) {
	repo := newTestRepository(t)
	sink := &fakeSink{name: "sink"}

	d, err := New(Config{Repository: repo, Sinks: []Sink{sink}, UploadInterval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.ReadingSets <- testSet(7, 8)
	d.ReadingSets <- nil

	assert.Eventually(t, func() bool {
		count, err := repo.Count()
		return err == nil && count == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestDataPlatform_RunDrainsQueuedSets(t *testing.T) {
	repo := newTestRepository(t)

	d, err := New(Config{Repository: repo, Sinks: []Sink{&fakeSink{name: "sink"}}, UploadInterval: time.Hour})
	require.NoError(t, err)

	d.ReadingSets <- testSet(1, 2, 3)
	d.ReadingSets <- testSet(4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Empty(t, d.ReadingSets)
	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestDataPlatform_StoreFailure(t *testing.T) {
	repo := newTestRepository(t)

	d, err := New(Config{Repository: repo, Sinks: []Sink{&fakeSink{name: "sink"}}, UploadInterval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	bad := telemetry.NewReading("pump", "k", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	bad.AddDatapoint(telemetry.NewDatapoint("rate", telemetry.NewFloatValue(math.NaN())))
	set := telemetry.NewReadingSet([]*telemetry.Reading{bad})

	err = d.Store(ctx, set)
	assert.ErrorContains(t, err, "persist 1 readings")
	assert.Equal(t, 1, set.Len())

	require.NoError(t, d.Store(ctx, testSet(5, 6)))
	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Sinks: []Sink{&fakeSink{}}})
	assert.Error(t, err)

	_, err = New(Config{Repository: newTestRepository(t)})
	assert.Error(t, err)
}
