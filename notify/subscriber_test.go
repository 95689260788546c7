package notify

import (
	"context"
	"testing"
	"time"

	"github.com/cepro/northbridge/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "storage/readings" }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestSubscriber(out chan *telemetry.ReadingSet) *Subscriber {
	return New("tcp://127.0.0.1:1", "test", "storage/readings",
		telemetry.NewDecoder(telemetry.DecoderConfig{Location: time.UTC}), out)
}

func TestSubscriber_HandleMessage(t *testing.T) {

	tests := []struct {
		name             string
		payload          string
		expectedReadings int
	}{
		{
			name: "notification",
			payload: `{"readings":[
				{"asset_code":"pump","read_key":"a","user_ts":"2024-01-01 00:00:00","reading":{"rate":1}},
				{"asset_code":"fan","read_key":"b","user_ts":"2024-01-01 00:00:00","value":3.5}]}`,
			expectedReadings: 2,
		},
		{
			name:             "empty notification is not forwarded",
			payload:          `{"readings":[]}`,
			expectedReadings: 0,
		},
		{
			name:             "undecodable payload is dropped",
			payload:          `{"readings":[{"asset_code":"pump"}]}`,
			expectedReadings: 0,
		},
		{
			name:             "not json",
			payload:          `hello`,
			expectedReadings: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make(chan *telemetry.ReadingSet, 1)
			s := newTestSubscriber(out)

			s.handleMessage(nil, &fakeMessage{payload: []byte(tt.payload)})

			if tt.expectedReadings == 0 {
				assert.Len(t, out, 0)
				return
			}
			require.Len(t, out, 1)
			assert.Equal(t, tt.expectedReadings, (<-out).Len())
		})
	}
}

func TestSubscriber_HandleMessageOnShutdown(t *testing.T) {
	out := make(chan *telemetry.ReadingSet) // nobody reads
	s := newTestSubscriber(out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ctx = ctx

	done := make(chan struct{})
	go func() {
		s.handleMessage(nil, &fakeMessage{payload: []byte(
			`{"readings":[{"asset_code":"pump","read_key":"a","user_ts":"2024-01-01 00:00:00","value":1}]}`)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleMessage blocked after shutdown")
	}
}
