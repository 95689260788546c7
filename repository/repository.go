package repository

import (
	"fmt"

	"github.com/cepro/northbridge/telemetry"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository stores decoded readings to the local file system (sqlite) before they are uploaded to the sinks.
type Repository struct {
	db *gorm.DB
}

func New(path string) (*Repository, error) {

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&StoredReading{}, &SinkDelivery{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Repository{
		db: db,
	}, nil
}

// AddReadingSet persists every reading of the set in one transaction. Once written the readings are moved out of the
// set, which is left empty. On error the set is left untouched.
func (r *Repository) AddReadingSet(set *telemetry.ReadingSet) error {
	readings := set.Readings()
	if len(readings) == 0 {
		return nil
	}

	stored := make([]StoredReading, 0, len(readings))
	for _, reading := range readings {
		s, err := newStoredReading(reading)
		if err != nil {
			return err
		}
		stored = append(stored, s)
	}

	result := r.db.Create(&stored)
	if result.Error != nil {
		return result.Error
	}
	set.Clear()
	return nil
}

func (r *Repository) AddReading(reading *telemetry.Reading) error {
	stored, err := newStoredReading(reading)
	if err != nil {
		return err
	}
	result := r.db.Create(&stored)
	return result.Error
}

// GetReadings returns up to `limit` readings. Fresh readings have never been part of an upload attempt, the others
// have failed at least once.
func (r *Repository) GetReadings(limit int, fresh bool) ([]StoredReading, error) {
	var readings []StoredReading

	query := r.db.Limit(limit).Order("upload_attempt_count asc, user_ts desc")
	if fresh {
		query = query.Where("upload_attempt_count = ?", 0)
	} else {
		query = query.Where("upload_attempt_count > ?", 0)
		// TODO: do we want to give up after a certain amount of attempts?
	}
	result := query.Find(&readings)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

// DeleteReadings removes the readings and their delivery records.
func (r *Repository) DeleteReadings(readings []StoredReading) error {
	if len(readings) == 0 {
		return nil
	}
	readingIDs := ids(readings)
	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("reading_id IN ?", readingIDs).Delete(&SinkDelivery{}).Error
		if err != nil {
			return err
		}
		return tx.Where("id IN ?", readingIDs).Delete(&StoredReading{}).Error
	})
}

// MarkDelivered records that the named sink accepted the readings. Marking a reading twice is a no-op.
func (r *Repository) MarkDelivered(sink string, readings []StoredReading) error {
	if len(readings) == 0 {
		return nil
	}
	deliveries := make([]SinkDelivery, 0, len(readings))
	for _, reading := range readings {
		deliveries = append(deliveries, SinkDelivery{ReadingID: reading.ID, Sink: sink})
	}
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&deliveries)
	return result.Error
}

// Undelivered returns the subset of readings that the named sink has not accepted yet, in their original order.
func (r *Repository) Undelivered(sink string, readings []StoredReading) ([]StoredReading, error) {
	if len(readings) == 0 {
		return nil, nil
	}
	var delivered []uuid.UUID
	result := r.db.Model(&SinkDelivery{}).
		Where("sink = ? AND reading_id IN ?", sink, ids(readings)).
		Pluck("reading_id", &delivered)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(delivered) == 0 {
		return readings, nil
	}

	done := make(map[uuid.UUID]struct{}, len(delivered))
	for _, id := range delivered {
		done[id] = struct{}{}
	}
	pending := make([]StoredReading, 0, len(readings)-len(delivered))
	for _, reading := range readings {
		if _, ok := done[reading.ID]; !ok {
			pending = append(pending, reading)
		}
	}
	return pending, nil
}

func (r *Repository) IncrementUploadAttemptCount(readings []StoredReading) error {
	if len(readings) == 0 {
		return nil
	}
	result := r.db.Model(&StoredReading{}).
		Where("id IN ?", ids(readings)).
		UpdateColumn("upload_attempt_count", gorm.Expr("upload_attempt_count + ?", 1))
	return result.Error
}

// Count returns the number of readings waiting to be uploaded.
func (r *Repository) Count() (int64, error) {
	var count int64
	result := r.db.Model(&StoredReading{}).Count(&count)
	return count, result.Error
}

func ids(readings []StoredReading) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(readings))
	for _, reading := range readings {
		out = append(out, reading.ID)
	}
	return out
}
