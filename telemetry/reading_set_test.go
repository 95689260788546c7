package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReading(asset string, id uint64) *Reading {
	r := NewReading(asset, "key-"+asset, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if id != 0 {
		r.SetID(id)
	}
	r.AddDatapoint(NewDatapoint("x", NewIntegerValue(int64(id))))
	return r
}

func TestReadingSet_Append(t *testing.T) {
	first := NewReadingSet([]*Reading{newTestReading("a", 1), newTestReading("b", 2)})
	second := NewReadingSet([]*Reading{newTestReading("c", 3), newTestReading("d", 0)})

	first.Append(second)

	assert.Equal(t, 4, first.Len())
	assert.Equal(t, uint64(4), first.Count())
	assert.Equal(t, uint64(3), first.LastID())
	assert.Equal(t, 0, second.Len())

	names := []string{}
	for _, r := range first.Readings() {
		names = append(names, r.AssetName())
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)

	// the emptied set stays usable
	second.AppendReadings([]*Reading{newTestReading("e", 9)})
	assert.Equal(t, 1, second.Len())
	assert.Equal(t, uint64(9), second.LastID())
}

func TestReadingSet_AppendSelfOrNil(t *testing.T) {
	set := NewReadingSet([]*Reading{newTestReading("a", 1)})
	set.Append(set)
	set.Append(nil)
	assert.Equal(t, 1, set.Len())
}

func TestReadingSet_AppendWithoutIDsKeepsLastID(t *testing.T) {
	set := NewReadingSet([]*Reading{newTestReading("a", 5)})
	set.AppendReadings([]*Reading{newTestReading("b", 0)})
	assert.Equal(t, uint64(5), set.LastID())
}

func TestReadingSet_Clear(t *testing.T) {
	a, b := newTestReading("a", 1), newTestReading("b", 2)
	set := NewReadingSet([]*Reading{a, b})

	detached := set.Clear()

	assert.Equal(t, 0, set.Len())
	require.Len(t, detached, 2)
	assert.Same(t, a, detached[0])
	assert.Same(t, b, detached[1])
	// detached readings are untouched
	assert.Len(t, detached[0].Datapoints(), 1)
}

func TestReadingSet_RemoveAll(t *testing.T) {
	set := NewReadingSet([]*Reading{newTestReading("a", 1), newTestReading("b", 2)})
	readings := set.Readings()

	set.RemoveAll()

	assert.Equal(t, 0, set.Len())
	assert.Nil(t, readings[0])
	assert.Nil(t, readings[1])

	set.AppendReadings([]*Reading{newTestReading("c", 3)})
	assert.Equal(t, 1, set.Len())
}
