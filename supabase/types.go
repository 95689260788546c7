package supabase

import (
	"encoding/json"
	"time"

	"github.com/cepro/northbridge/repository"
	"github.com/google/uuid"
)

// supabaseReading holds the json encoding schema for a reading in supabase.
type supabaseReading struct {
	ID          uuid.UUID       `json:"id"`
	ReadingID   *uint64         `json:"reading_id"`
	AssetCode   string          `json:"asset_code"`
	ReadKey     string          `json:"read_key"`
	UserTs      time.Time       `json:"user_ts"`
	Ts          time.Time       `json:"ts"`
	Reading     json.RawMessage `json:"reading"`
	Quarantined bool            `json:"quarantined"`
}

func convertReadings(readings []repository.StoredReading) []supabaseReading {
	supabaseReadings := make([]supabaseReading, 0, len(readings))
	for _, reading := range readings {
		supabaseReadings = append(supabaseReadings, supabaseReading{
			ID:          reading.ID,
			ReadingID:   reading.ReadingID,
			AssetCode:   reading.AssetCode,
			ReadKey:     reading.ReadKey,
			UserTs:      reading.UserTs.UTC(),
			Ts:          reading.Ts.UTC(),
			Reading:     json.RawMessage(reading.Payload),
			Quarantined: reading.Quarantined,
		})
	}
	return supabaseReadings
}
