package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	timeutils "github.com/cepro/northbridge/time_utils"
)

// unnamedListElement is the name given to the datapoints wrapping each element of a reading array.
const unnamedListElement = "unnamed_list_elem#"

// DecoderConfig holds the settings of a Decoder. The zero value is usable.
type DecoderConfig struct {
	// Location is used to interpret timestamps that carry no UTC offset. Defaults to time.Local.
	Location *time.Location

	// IsolateRows turns a row that fails to decode into a quarantined reading, instead of failing the whole payload.
	// Envelope level errors always fail the payload.
	IsolateRows bool

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Decoder turns storage service JSON payloads into ReadingSets. It holds no mutable state, so one Decoder can
// be used from many goroutines.
type Decoder struct {
	location    *time.Location
	isolateRows bool
	logger      *slog.Logger
}

func NewDecoder(config DecoderConfig) *Decoder {
	d := &Decoder{
		location:    config.Location,
		isolateRows: config.IsolateRows,
		logger:      config.Logger,
	}
	if d.location == nil {
		d.location = time.Local
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// DecodeReadingSet decodes a payload with the default decoder settings.
func DecodeReadingSet(payload string) (*ReadingSet, error) {
	return NewDecoder(DecoderConfig{}).DecodeReadingSet([]byte(payload))
}

// DecodeReadingSet decodes either a query result (`{"count": n, "rows": [...]}`) or a notification
// (`{"readings": [...]}`) into a ReadingSet.
func (d *Decoder) DecodeReadingSet(payload []byte) (*ReadingSet, error) {
	doc, err := parseJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentMalformed, err)
	}

	rows := doc.member("rows")         // query
	readings := doc.member("readings") // notification
	if rows == nil && readings == nil {
		return nil, ErrMissingRowsOrReadings
	}

	set := &ReadingSet{readings: []*Reading{}}

	countDeclared := false
	if count := doc.member("count"); rows != nil && count != nil {
		declared, err := parseUnsigned(count)
		if err != nil {
			return nil, fieldError("count", err)
		}
		set.count = declared
		countDeclared = true
		if declared == 0 {
			return set, nil
		}
	}

	elements := rows
	if elements == nil {
		elements = readings
	}
	if !elements.is(jsonArray) {
		return nil, ErrRowsNotArray
	}

	for i, row := range elements.elems {
		reading, err := d.decodeRow(row)
		if err != nil {
			if !d.isolateRows {
				return nil, &RowError{Index: i, Err: err}
			}
			rowErr := &RowError{Index: i, Err: err}
			set.rowErrors = append(set.rowErrors, rowErr)
			reading = d.quarantineRow(row)
			d.logger.Warn("Quarantined undecodable row", "row", i, "asset", reading.AssetName(), "error", err)
		}
		set.readings = append(set.readings, reading)
	}

	set.lastID = lastIDOf(set.readings)
	if !countDeclared {
		set.count = uint64(len(set.readings))
	}

	d.logger.Debug("Decoded reading set", "readings", len(set.readings), "count", set.count, "last_id", set.lastID)

	return set, nil
}

// DecodeReading decodes a single reading object.
func (d *Decoder) DecodeReading(payload []byte) (*Reading, error) {
	node, err := parseJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocumentMalformed, err)
	}
	return d.decodeRow(node)
}

func (d *Decoder) decodeRow(row *jsonNode) (*Reading, error) {
	if !row.is(jsonObject) {
		return nil, ErrRowNotObject
	}

	asset, err := requiredString(row, "asset_code")
	if err != nil {
		return nil, err
	}
	userTsText, err := requiredString(row, "user_ts")
	if err != nil {
		return nil, err
	}
	userTs, err := d.parseTimestamp("user_ts", userTsText)
	if err != nil {
		return nil, err
	}
	readKey, err := requiredString(row, "read_key")
	if err != nil {
		return nil, err
	}

	reading := NewReading(asset, readKey, userTs)

	if idNode := row.member("id"); idNode != nil {
		id, err := parseUnsigned(idNode)
		if err != nil {
			return nil, fieldError("id", err)
		}
		reading.SetID(id)
	}

	if tsNode := row.member("ts"); tsNode != nil {
		if !tsNode.is(jsonString) {
			return nil, fieldError("ts", ErrInvalidTimestamp)
		}
		ts, err := d.parseTimestamp("ts", tsNode.str)
		if err != nil {
			return nil, err
		}
		reading.SetTimestamp(ts)
	}

	// a single numeric value
	if value := row.member("value"); value.is(jsonNumber) {
		dpv, ok := classifyNumber(value.num)
		if !ok {
			return nil, fieldError("value", ErrUnparsableNumericField)
		}
		reading.AddDatapoint(NewDatapoint("value", dpv))
		return reading, nil
	}

	readingNode := row.member("reading")
	if readingNode.is(jsonObject) {
		if err := d.addReadingMembers(reading, readingNode); err != nil {
			return nil, err
		}
		return reading, nil
	}

	if err := d.quarantineScalar(reading, readingNode); err != nil {
		return nil, err
	}
	return reading, nil
}

// addReadingMembers adds one datapoint per member of the `reading` object, in declaration order.
func (d *Decoder) addReadingMembers(reading *Reading, obj *jsonNode) error {
	for _, m := range obj.members {
		switch m.value.typ {
		case jsonString:
			reading.AddDatapoint(NewDatapoint(m.name, NewStringValue(m.value.str)))

		case jsonNumber:
			dpv, ok := classifyNumber(m.value.num)
			if !ok {
				return fieldError(m.name, ErrUnparsableNumericField)
			}
			reading.AddDatapoint(NewDatapoint(m.name, dpv))

		case jsonArray:
			elements := make([]Datapoint, 0, len(m.value.elems))
			for _, elem := range m.value.elems {
				if !elem.is(jsonObject) {
					return fieldError(m.name, ErrRowNotObject)
				}
				dpv, ok, err := d.objectToValue(elem)
				if err != nil {
					return err
				}
				if !ok {
					return fieldError(m.name, ErrEmptyArrayValue)
				}
				elements = append(elements, NewDatapoint(unnamedListElement, dpv))
			}
			if len(elements) == 0 {
				return fieldError(m.name, ErrEmptyArrayValue)
			}
			reading.AddDatapoint(NewDatapoint("value", NewArrayValue(elements)))

		default:
			return fieldError(m.name, fmt.Errorf("%w '%s'", ErrUnhandledFieldType, m.value.typ))
		}
	}
	return nil
}

// objectToValue converts the leaf members of an array element into an Object value. Nested objects and arrays,
// booleans and nulls are skipped. ok is false when no member produced a datapoint.
func (d *Decoder) objectToValue(obj *jsonNode) (value DatapointValue, ok bool, err error) {
	leaves := make([]Datapoint, 0, len(obj.members))
	for _, m := range obj.members {
		switch m.value.typ {
		case jsonString:
			leaves = append(leaves, NewDatapoint(m.name, NewStringValue(m.value.str)))
		case jsonNumber:
			dpv, ok := classifyNumber(m.value.num)
			if !ok {
				return DatapointValue{}, false, fieldError(m.name, ErrUnparsableNumericField)
			}
			leaves = append(leaves, NewDatapoint(m.name, dpv))
		default:
			// TODO: expand nested objects and arrays into composite values once downstream sinks accept them.
			d.logger.Debug("Skipping non-leaf member of array element", "member", m.name, "type", m.value.typ.String())
		}
	}
	if len(leaves) == 0 {
		return DatapointValue{}, false, nil
	}
	return NewObjectValue(leaves), true, nil
}

// quarantineScalar handles a `reading` that is not an object. The value is kept under a datapoint named after the
// original asset and the asset is renamed. Non scalar or missing values leave the reading without datapoints.
func (d *Decoder) quarantineScalar(reading *Reading, node *jsonNode) error {
	asset := reading.AssetName()

	switch {
	case node.is(jsonString):
		escaped := EscapeJSONCharacters(node.str)
		d.logger.Error("Invalid reading", "asset", asset, "reading", node.str, "converted", escaped)
		reading.AddDatapoint(NewDatapoint(asset, NewStringValue(escaped)))

	case node.is(jsonNumber):
		dpv, ok := classifyNumber(node.num)
		if !ok {
			return fieldError("reading", ErrUnparsableNumericField)
		}
		d.logger.Error("Invalid reading", "asset", asset, "reading", node.num.String())
		reading.AddDatapoint(NewDatapoint(asset, dpv))

	default:
		typ := "missing"
		if node != nil {
			typ = node.typ.String()
		}
		d.logger.Error("Invalid reading without a usable value", "asset", asset, "type", typ)
	}

	reading.quarantine()
	return nil
}

// quarantineRow builds a diagnosable reading out of a row that failed to decode. Identity fields are taken on a
// best effort basis and the offending value is kept, escaped, as a string datapoint.
func (d *Decoder) quarantineRow(row *jsonNode) *Reading {
	var asset, readKey string
	var userTs time.Time

	if n := row.member("asset_code"); n.is(jsonString) {
		asset = n.str
	}
	if n := row.member("read_key"); n.is(jsonString) {
		readKey = n.str
	}
	if n := row.member("user_ts"); n.is(jsonString) {
		if ts, err := timeutils.ParseStorageTimestamp(n.str, d.location); err == nil {
			userTs = ts
		}
	}

	reading := NewReading(asset, readKey, userTs)
	if n := row.member("id"); n != nil {
		if id, err := parseUnsigned(n); err == nil {
			reading.SetID(id)
		}
	}

	offending := row
	if n := row.member("reading"); n != nil {
		offending = n
	} else if n := row.member("value"); n != nil {
		offending = n
	}
	raw, err := offending.MarshalJSON()
	if err != nil {
		raw = []byte(err.Error())
	}

	name := asset
	if name == "" {
		name = "row"
	}
	reading.AddDatapoint(NewDatapoint(name, NewStringValue(EscapeJSONCharacters(string(raw)))))
	reading.quarantine()
	return reading
}

func (d *Decoder) parseTimestamp(field, text string) (time.Time, error) {
	ts, err := timeutils.ParseStorageTimestamp(text, d.location)
	if err != nil {
		return time.Time{}, fieldError(field, fmt.Errorf("%w: %w", ErrInvalidTimestamp, err))
	}
	return ts, nil
}

func requiredString(obj *jsonNode, field string) (string, error) {
	n := obj.member(field)
	if !n.is(jsonString) || n.str == "" {
		return "", fieldError(field, ErrMissingField)
	}
	return n.str, nil
}

// classifyNumber decides once whether a number literal is an Integer or a Float. Integral literals must fit a
// signed 64 bit integer, and decimal/exponent literals a float64. ok is false otherwise.
func classifyNumber(num json.Number) (value DatapointValue, ok bool) {
	literal := num.String()
	if !strings.ContainsAny(literal, ".eE") {
		i, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return DatapointValue{}, false
		}
		return NewIntegerValue(i), true
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return DatapointValue{}, false
	}
	return NewFloatValue(f), true
}

func parseUnsigned(n *jsonNode) (uint64, error) {
	if !n.is(jsonNumber) {
		return 0, fmt.Errorf("%w '%s'", ErrUnhandledFieldType, n.typ)
	}
	v, err := strconv.ParseUint(n.num.String(), 10, 64)
	if err != nil {
		return 0, ErrUnparsableNumericField
	}
	return v, nil
}
