package repository

import (
	"fmt"
	"time"

	"github.com/cepro/northbridge/telemetry"
	"github.com/google/uuid"
)

// StoredReading represents a decoded reading that is persisted to the SQLite database while it waits to be uploaded,
// and includes a count of upload attempts.
type StoredReading struct {
	ID                 uuid.UUID
	ReadingID          *uint64 // id assigned by the storage service, nil for readings that arrived without one
	AssetCode          string
	ReadKey            string
	UserTs             time.Time
	Ts                 time.Time
	Payload            string // the datapoints as a JSON object
	Quarantined        bool
	UploadAttemptCount uint
}

// SinkDelivery records that a sink has accepted a buffered reading. Readings stay buffered until every sink has
// accepted them, and retries skip the sinks that already have.
type SinkDelivery struct {
	ReadingID uuid.UUID `gorm:"primaryKey"`
	Sink      string    `gorm:"primaryKey"`
}

func newStoredReading(reading *telemetry.Reading) (StoredReading, error) {
	payload, err := reading.DatapointsJSON()
	if err != nil {
		return StoredReading{}, fmt.Errorf("encode payload: %w", err)
	}

	stored := StoredReading{
		ID:                 uuid.New(),
		AssetCode:          reading.AssetName(),
		ReadKey:            reading.ReadKey(),
		UserTs:             reading.UserTimestamp(),
		Ts:                 reading.Timestamp(),
		Payload:            string(payload),
		Quarantined:        reading.IsQuarantined(),
		UploadAttemptCount: 0,
	}
	if id, ok := reading.ID(); ok {
		stored.ReadingID = &id
	}
	return stored, nil
}
