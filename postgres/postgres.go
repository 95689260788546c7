package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cepro/northbridge/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// batchSender is the part of pgxpool.Pool used by the Sink.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Sink uploads buffered readings into a Postgres (or TimescaleDB) table with columns
// (id, reading_id, asset_code, read_key, user_ts, ts, reading, quarantined).
type Sink struct {
	pool        batchSender
	insertQuery string
	logger      *slog.Logger
}

// New connects to the database at `url` and checks that it is reachable. `table` may be schema qualified.
func New(ctx context.Context, url, table string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("configure postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSink(pool, table, slog.Default().With("host", pool.Config().ConnConfig.Host))
}

func newSink(pool batchSender, table string, logger *slog.Logger) (*Sink, error) {
	if table == "" {
		return nil, errors.New("missing postgres table")
	}
	identifier := pgx.Identifier(strings.Split(table, ".")).Sanitize()

	return &Sink{
		pool: pool,
		insertQuery: fmt.Sprintf(
			`INSERT INTO %s (id, reading_id, asset_code, read_key, user_ts, ts, reading, quarantined)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`, identifier),
		logger: logger,
	}, nil
}

func (s *Sink) Name() string {
	return "postgres"
}

// UploadReadings inserts all readings in a single batch. Rows already present (same id) are skipped, so a retried
// upload does not duplicate data.
func (s *Sink) UploadReadings(ctx context.Context, readings []repository.StoredReading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		var readingID *int64
		if r.ReadingID != nil {
			id := int64(*r.ReadingID)
			readingID = &id
		}
		batch.Queue(s.insertQuery, r.ID, readingID, r.AssetCode, r.ReadKey, r.UserTs.UTC(), r.Ts.UTC(), r.Payload, r.Quarantined)
	}

	results := s.pool.SendBatch(ctx, batch)
	inserted := int64(0)
	for i := range readings {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return fmt.Errorf("insert reading %d of %d: %w", i+1, len(readings), err)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	s.logger.Debug("Inserted readings", "readings", len(readings), "inserted", inserted)

	return nil
}

func (s *Sink) Close() {
	s.pool.Close()
}

var _ batchSender = (*pgxpool.Pool)(nil)
