package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	timeutils "github.com/cepro/northbridge/time_utils"
	"github.com/mitchellh/mapstructure"
)

// InvalidReadingAssetPrefix is prepended to the asset name of readings whose value could not be decoded.
const InvalidReadingAssetPrefix = "error_invalid_reading"

// Reading is one sensor observation: identity fields plus an ordered list of Datapoints.
type Reading struct {
	id         uint64
	hasID      bool
	asset      string
	readKey    string
	userTs     time.Time
	ts         time.Time
	datapoints []Datapoint
}

// NewReading creates a reading without datapoints. The arrival timestamp defaults to the user timestamp.
func NewReading(asset, readKey string, userTs time.Time) *Reading {
	return &Reading{
		asset:      asset,
		readKey:    readKey,
		userTs:     userTs,
		ts:         userTs,
		datapoints: []Datapoint{},
	}
}

func (r *Reading) SetID(id uint64) {
	r.id = id
	r.hasID = true
}

// ID returns the storage identifier and whether the reading has one.
func (r *Reading) ID() (uint64, bool) { return r.id, r.hasID }

func (r *Reading) HasID() bool { return r.hasID }

func (r *Reading) AssetName() string { return r.asset }

func (r *Reading) ReadKey() string { return r.readKey }

// UserTimestamp is the time the observation was made.
func (r *Reading) UserTimestamp() time.Time { return r.userTs }

// Timestamp is the time the reading arrived at the storage service.
func (r *Reading) Timestamp() time.Time { return r.ts }

func (r *Reading) SetTimestamp(ts time.Time) { r.ts = ts }

// Datapoints returns a copy of the reading's datapoints, in insertion order.
func (r *Reading) Datapoints() []Datapoint {
	return cloneDatapoints(r.datapoints)
}

func (r *Reading) AddDatapoint(dp Datapoint) {
	r.datapoints = append(r.datapoints, dp)
}

// quarantine renames the asset so the reading is recognisable as one that carried an invalid value.
func (r *Reading) quarantine() {
	if r.asset == "" {
		r.asset = InvalidReadingAssetPrefix
		return
	}
	r.asset = InvalidReadingAssetPrefix + "_" + r.asset
}

// IsQuarantined reports whether the reading went through the invalid reading path.
func (r *Reading) IsQuarantined() bool {
	return r.asset == InvalidReadingAssetPrefix || strings.HasPrefix(r.asset, InvalidReadingAssetPrefix+"_")
}

// Map returns the datapoints as plain Go values keyed by name. Later duplicates win.
func (r *Reading) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.datapoints))
	for _, dp := range r.datapoints {
		out[dp.name] = dp.value.Interface()
	}
	return out
}

// DecodeDatapoints decodes the reading's datapoints into `out`, which must be a pointer to a struct or map.
// Struct fields are matched by name, or by `mapstructure` tag.
func (r *Reading) DecodeDatapoints(out interface{}) error {
	err := mapstructure.Decode(r.Map(), out)
	if err != nil {
		return fmt.Errorf("decode datapoints of '%s': %w", r.asset, err)
	}
	return nil
}

// MarshalJSON encodes the reading in the storage service reading-object shape, so that the output can be
// decoded again with DecodeReading.
func (r *Reading) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r.hasID {
		buf.WriteString(`"id":`)
		buf.WriteString(strconv.FormatUint(r.id, 10))
		buf.WriteByte(',')
	}
	writeStringMember(&buf, "asset_code", r.asset)
	buf.WriteByte(',')
	writeStringMember(&buf, "read_key", r.readKey)
	buf.WriteByte(',')
	writeStringMember(&buf, "user_ts", timeutils.FormatStorageTimestamp(r.userTs))
	buf.WriteByte(',')
	writeStringMember(&buf, "ts", timeutils.FormatStorageTimestamp(r.ts))
	buf.WriteString(`,"reading":{`)
	if err := writeDatapointMembers(&buf, r.datapoints); err != nil {
		return nil, fmt.Errorf("encode reading '%s': %w", r.asset, err)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// DatapointsJSON encodes the datapoints alone as a JSON object, in insertion order.
func (r *Reading) DatapointsJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeDatapointMembers(&buf, r.datapoints); err != nil {
		return nil, fmt.Errorf("encode datapoints of '%s': %w", r.asset, err)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeStringMember(buf *bytes.Buffer, name, value string) {
	// strings always marshal successfully
	encodedName, _ := json.Marshal(name)
	encodedValue, _ := json.Marshal(value)
	buf.Write(encodedName)
	buf.WriteByte(':')
	buf.Write(encodedValue)
}

func (r *Reading) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<reading %s: %v>", r.asset, err)
	}
	return string(b)
}
