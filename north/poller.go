package north

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/northbridge/telemetry"
)

// ReadingFetcher returns up to `count` readings with an id greater than `afterID`.
type ReadingFetcher interface {
	FetchReadings(ctx context.Context, afterID uint64, count int) (*telemetry.ReadingSet, error)
}

// Checkpoint persists the id of the last reading that was written to the buffer.
type Checkpoint interface {
	Load(ctx context.Context) (uint64, error)
	Save(ctx context.Context, id uint64) error
}

// ReadingStore writes a reading set to the buffer, returning once the readings are safe.
type ReadingStore interface {
	Store(ctx context.Context, set *telemetry.ReadingSet) error
}

// Poller pulls readings from the storage service in blocks, resuming after the checkpointed id.
type Poller struct {
	fetcher    ReadingFetcher
	checkpoint Checkpoint
	store      ReadingStore
	blockSize  int
	logger     *slog.Logger

	lastID uint64
	loaded bool
}

func NewPoller(fetcher ReadingFetcher, checkpoint Checkpoint, store ReadingStore, blockSize int) (*Poller, error) {
	if fetcher == nil || checkpoint == nil || store == nil {
		return nil, errors.New("poller needs a fetcher, a checkpoint and a store")
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	return &Poller{
		fetcher:    fetcher,
		checkpoint: checkpoint,
		store:      store,
		blockSize:  blockSize,
		logger:     slog.Default().With("component", "poller"),
	}, nil
}

// Run polls every `interval` until the context is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := p.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("Failed to poll readings", "last_id", p.lastID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches blocks until the storage service has no more readings after the checkpoint, and returns the number
// of readings forwarded. The checkpoint only moves past readings that have been stored.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !p.loaded {
		lastID, err := p.checkpoint.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("load checkpoint: %w", err)
		}
		p.lastID = lastID
		p.loaded = true
		p.logger.Info("Resuming from checkpoint", "last_id", lastID)
	}

	forwarded := 0
	for {
		set, err := p.fetcher.FetchReadings(ctx, p.lastID, p.blockSize)
		if err != nil {
			return forwarded, fmt.Errorf("fetch readings after %d: %w", p.lastID, err)
		}
		n := set.Len()
		if n == 0 {
			return forwarded, nil
		}

		lastID := set.LastID()
		for _, rowErr := range set.RowErrors() {
			p.logger.Warn("Forwarding quarantined row", "row", rowErr.Index, "error", rowErr.Err)
		}

		err = p.store.Store(ctx, set)
		if err != nil {
			return forwarded, fmt.Errorf("store readings after %d: %w", p.lastID, err)
		}
		forwarded += n

		if lastID <= p.lastID {
			// without ids the checkpoint can't move, so stop rather than fetching the same block again
			p.logger.Warn("Fetched readings did not advance the checkpoint", "last_id", p.lastID, "readings", n)
			return forwarded, nil
		}

		err = p.checkpoint.Save(ctx, lastID)
		if err != nil {
			return forwarded, fmt.Errorf("save checkpoint %d: %w", lastID, err)
		}
		p.lastID = lastID
		p.logger.Debug("Forwarded readings", "readings", n, "last_id", lastID)

		if n < p.blockSize {
			return forwarded, nil
		}
	}
}

// LastID returns the id the next poll will resume after.
func (p *Poller) LastID() uint64 {
	return p.lastID
}
