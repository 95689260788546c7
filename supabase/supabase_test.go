package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cepro/northbridge/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedReadings() []repository.StoredReading {
	id := uint64(42)
	return []repository.StoredReading{
		{
			ID:        uuid.New(),
			ReadingID: &id,
			AssetCode: "pump",
			ReadKey:   "k1",
			UserTs:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Ts:        time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
			Payload:   `{"rate":1}`,
		},
	}
}

func TestClient_UploadReadings(t *testing.T) {
	var received []map[string]interface{}
	var path, profile string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		profile = r.Header.Get("Content-Profile")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client, err := New(server.URL, "anon", "", "flows", "readings")
	require.NoError(t, err)

	err = client.UploadReadings(context.Background(), storedReadings())
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(path, "/readings"), "unexpected path %s", path)
	assert.Equal(t, "flows", profile)
	require.Len(t, received, 1)
	assert.Equal(t, "pump", received[0]["asset_code"])
	assert.Equal(t, float64(42), received[0]["reading_id"])
	assert.Equal(t, map[string]interface{}{"rate": float64(1)}, received[0]["reading"])
}

func TestClient_UploadReadingsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom","code":"XX000"}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "anon", "", "", "readings")
	require.NoError(t, err)

	err = client.UploadReadings(context.Background(), storedReadings())
	assert.Error(t, err)
	assert.True(t, client.shouldReconnect)
}

func TestClient_UploadReadingsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	defer close(release)

	client, err := New(server.URL, "anon", "", "", "readings")
	require.NoError(t, err)
	client.uploadTimeout = 50 * time.Millisecond

	err = client.UploadReadings(context.Background(), storedReadings())
	assert.EqualError(t, err, "timed out")
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "anon", "", "", "readings")
	assert.Error(t, err)
	_, err = New("http://localhost", "anon", "", "", "")
	assert.Error(t, err)
}
