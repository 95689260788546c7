package telemetry

// ReadingSet is an ordered collection of Readings decoded from one payload, plus the count declared by the
// storage service and the id of the last decoded reading.
// A ReadingSet is not safe for concurrent mutation.
type ReadingSet struct {
	readings  []*Reading
	count     uint64
	lastID    uint64
	rowErrors []*RowError
}

// NewReadingSet takes ownership of the given readings.
func NewReadingSet(readings []*Reading) *ReadingSet {
	set := &ReadingSet{readings: make([]*Reading, 0, len(readings))}
	set.readings = append(set.readings, readings...)
	set.count = uint64(len(readings))
	set.lastID = lastIDOf(readings)
	return set
}

// Readings returns the readings held by the set. The returned slice must not be modified.
func (s *ReadingSet) Readings() []*Reading { return s.readings }

func (s *ReadingSet) Len() int { return len(s.readings) }

// Count is the count declared by the query envelope, or the number of readings decoded otherwise.
func (s *ReadingSet) Count() uint64 { return s.count }

// LastID is the id of the last reading that carried one, zero if none did.
func (s *ReadingSet) LastID() uint64 { return s.lastID }

// RowErrors lists the rows that were quarantined when decoding with row isolation.
func (s *ReadingSet) RowErrors() []*RowError { return s.rowErrors }

// Append moves all readings of `other` to the end of this set. `other` is left empty but usable.
func (s *ReadingSet) Append(other *ReadingSet) {
	if other == nil || other == s {
		return
	}
	s.AppendReadings(other.Clear())
}

// AppendReadings takes ownership of the given readings and adds them to the end of the set.
func (s *ReadingSet) AppendReadings(readings []*Reading) {
	s.readings = append(s.readings, readings...)
	s.count += uint64(len(readings))
	if id := lastIDOf(readings); id != 0 {
		s.lastID = id
	}
}

// Clear detaches the readings from the set and hands them to the caller.
func (s *ReadingSet) Clear() []*Reading {
	readings := s.readings
	s.readings = []*Reading{}
	return readings
}

// RemoveAll discards every reading in the set.
func (s *ReadingSet) RemoveAll() {
	for i := range s.readings {
		s.readings[i] = nil
	}
	s.readings = s.readings[:0]
}

func lastIDOf(readings []*Reading) uint64 {
	for i := len(readings) - 1; i >= 0; i-- {
		if id, ok := readings[i].ID(); ok {
			return id
		}
	}
	return 0
}
