package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cepro/northbridge/telemetry"
)

// maxBodyBytes limits the size of a notification body.
const maxBodyBytes = 10 << 20

// BufferCounter reports how many readings are waiting to be uploaded.
type BufferCounter interface {
	Count() (int64, error)
}

type APIHandler struct {
	decoder *telemetry.Decoder
	out     chan<- *telemetry.ReadingSet
	buffer  BufferCounter
	logger  *slog.Logger
}

func NewAPIHandler(decoder *telemetry.Decoder, out chan<- *telemetry.ReadingSet, buffer BufferCounter) *APIHandler {
	return &APIHandler{
		decoder: decoder,
		out:     out,
		buffer:  buffer,
		logger:  slog.Default().With("component", "api"),
	}
}

type notificationResponse struct {
	Count  uint64 `json:"count"`
	LastID uint64 `json:"last_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Buffered int64  `json:"buffered"`
}

// HandleNotification decodes a reading set posted by the storage service and hands it to the data platform.
func (h *APIHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	defer r.Body.Close()

	set, err := h.decoder.DecodeReadingSet(body)
	if err != nil {
		h.logger.Warn("Rejected notification", "size", len(body), "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	response := notificationResponse{Count: set.Count(), LastID: set.LastID()}
	if set.Len() > 0 {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled before the readings were queued"})
			return
		case h.out <- set:
		}
	}

	writeJSON(w, http.StatusAccepted, response)
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{Status: "ok"}
	if h.buffer != nil {
		count, err := h.buffer.Count()
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		response.Buffered = count
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
