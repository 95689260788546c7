package north

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/northbridge/repository"
	"github.com/cepro/northbridge/telemetry"
)

const (
	defaultUploadInterval = time.Second * 5

	// defaultUploadChunkLimit defines how many readings we upload in one sink request
	defaultUploadChunkLimit = 100
)

// Sink is a destination for buffered readings, e.g. Supabase or Postgres.
type Sink interface {
	Name() string
	UploadReadings(ctx context.Context, readings []repository.StoredReading) error
}

// DataPlatform handles the streaming of decoded readings to the sinks.
// Put reading sets onto the ReadingSets channel, or hand them to Store to wait until they are written. They are
// buffered on disk in a SQLite database before being uploaded to every sink.
type DataPlatform struct {
	ReadingSets chan *telemetry.ReadingSet

	storeRequests chan storeRequest

	repository       *repository.Repository
	sinks            []Sink
	uploadInterval   time.Duration
	uploadChunkLimit int
	logger           *slog.Logger
}

type storeRequest struct {
	set    *telemetry.ReadingSet
	result chan error
}

type Config struct {
	Repository       *repository.Repository
	Sinks            []Sink
	UploadInterval   time.Duration
	UploadChunkLimit int
}

func New(config Config) (*DataPlatform, error) {
	if config.Repository == nil {
		return nil, errors.New("missing repository")
	}
	if len(config.Sinks) == 0 {
		return nil, errors.New("no sinks configured")
	}

	d := &DataPlatform{
		ReadingSets:      make(chan *telemetry.ReadingSet, 25), // a small buffer to allow SQLite to catch up in case the disk is slow
		storeRequests:    make(chan storeRequest),
		repository:       config.Repository,
		sinks:            config.Sinks,
		uploadInterval:   config.UploadInterval,
		uploadChunkLimit: config.UploadChunkLimit,
		logger:           slog.Default().With("component", "data_platform"),
	}
	if d.uploadInterval <= 0 {
		d.uploadInterval = defaultUploadInterval
	}
	if d.uploadChunkLimit <= 0 {
		d.uploadChunkLimit = defaultUploadChunkLimit
	}
	return d, nil
}

// Run loops until the context is cancelled, storing incoming reading sets and periodically uploading them. Sets still
// queued on ReadingSets are stored before Run returns.
func (d *DataPlatform) Run(ctx context.Context) {

	uploadTicker := time.NewTicker(d.uploadInterval)
	defer uploadTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case set := <-d.ReadingSets:
			d.storeQueued(set)
		case req := <-d.storeRequests:
			req.result <- d.store(req.set)
		case <-uploadTicker.C:
			d.attemptUpload(ctx)
		}
	}
}

// Store hands the set to Run and waits until it has been written to the buffer. Only a nil error means the readings
// are safe on disk.
func (d *DataPlatform) Store(ctx context.Context, set *telemetry.ReadingSet) error {
	req := storeRequest{set: set, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.storeRequests <- req:
	}
	// Run always answers a request it has received
	return <-req.result
}

func (d *DataPlatform) drain() {
	for {
		select {
		case set := <-d.ReadingSets:
			d.storeQueued(set)
		default:
			return
		}
	}
}

// storeQueued stores a set that nobody waits for, so failures can only be logged.
func (d *DataPlatform) storeQueued(set *telemetry.ReadingSet) {
	if set == nil {
		return
	}
	n := set.Len()
	err := d.store(set)
	if err != nil {
		d.logger.Error("Failed to persist reading set", "readings", n, "error", err)
	}
}

func (d *DataPlatform) store(set *telemetry.ReadingSet) error {
	if set == nil {
		return nil
	}
	n := set.Len()
	lastID := set.LastID()
	err := d.repository.AddReadingSet(set)
	if err != nil {
		return fmt.Errorf("persist %d readings: %w", n, err)
	}
	d.logger.Debug("Stored reading set", "readings", n, "last_id", lastID)
	return nil
}

// attemptUpload attempts to upload the readings from the repository into the sinks.
func (d *DataPlatform) attemptUpload(ctx context.Context) {

	// first attempt to upload any new readings that have not been seen before
	freshReadings, err := d.repository.GetReadings(d.uploadChunkLimit, true)
	if err != nil {
		d.logger.Error("Failed to query fresh readings", "error", err)
	} else if len(freshReadings) > 0 {
		err = d.handleReadings(ctx, freshReadings)
		if err != nil {
			d.logger.Error("Failed to handle fresh readings", "error", err)
		}
	}

	// then attempt to upload any old readings that have already failed an upload at least once
	oldReadings, err := d.repository.GetReadings(d.uploadChunkLimit, false)
	if err != nil {
		d.logger.Error("Failed to query old readings", "error", err)
	} else if len(oldReadings) > 0 {
		err = d.handleReadings(ctx, oldReadings)
		if err != nil {
			d.logger.Error("Failed to handle old readings", "error", err)
		}
	}
}

// handleReadings uploads the given readings to every sink that has not accepted them yet. Once all sinks have them,
// it deletes the readings from the database, otherwise it increments the 'upload attempt count' column and leaves
// the readings in the database for another time. Sinks that already accepted a reading are not sent it again.
func (d *DataPlatform) handleReadings(ctx context.Context, readings []repository.StoredReading) error {

	var uploadErrs []error
	for _, sink := range d.sinks {
		pending, err := d.repository.Undelivered(sink.Name(), readings)
		if err != nil {
			uploadErrs = append(uploadErrs, fmt.Errorf("query deliveries to %s: %w", sink.Name(), err))
			continue
		}
		if len(pending) == 0 {
			continue
		}
		err = sink.UploadReadings(ctx, pending)
		if err != nil {
			uploadErrs = append(uploadErrs, fmt.Errorf("upload to %s: %w", sink.Name(), err))
			continue
		}
		err = d.repository.MarkDelivered(sink.Name(), pending)
		if err != nil {
			uploadErrs = append(uploadErrs, fmt.Errorf("record delivery to %s: %w", sink.Name(), err))
		}
	}

	if uploadErr := errors.Join(uploadErrs...); uploadErr != nil {
		errInc := d.repository.IncrementUploadAttemptCount(readings)
		if errInc != nil {
			return fmt.Errorf("%w: increment upload attempt count: %w", uploadErr, errInc)
		}
		return uploadErr
	}

	deleteErr := d.repository.DeleteReadings(readings)
	if deleteErr != nil {
		return fmt.Errorf("delete %d uploaded readings: %w", len(readings), deleteErr)
	}

	d.logger.Info("Uploaded readings", "records", len(readings), "sinks", len(d.sinks))

	return nil
}
