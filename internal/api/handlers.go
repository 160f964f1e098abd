package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/processor"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/store"
)

const maxBodyBytes = 64 << 10

// Handlers serves the HTTP routes of the service
type Handlers struct {
	Log       *slog.Logger
	Processor ReadingProcessor
	Store     Pinger
}

// Health reports whether the summary store is reachable
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ingest accepts one uplink in the network server's webhook format
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.Result{Reason: "unreadable body"})
		return
	}
	event, err := models.DecodeEvent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.Result{Reason: err.Error()})
		return
	}

	result, err := h.Processor.Process(r.Context(), event)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			h.Log.Error("failed to process reading", "dev_eui", event.DevEUI, "error", err)
		}
		writeJSON(w, status, models.Result{Reason: err.Error()})
		return
	}

	status := http.StatusOK
	switch {
	case result.Success:
	case result.Reason == processor.ReasonDecodeFailed:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// Summary returns the current cumulative summary of a machine
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["machineId"]

	row, ok, err := h.Processor.CurrentSummary(r.Context(), machineID)
	if err != nil {
		h.Log.Error("failed to read summary", "machine_id", machineID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read summary"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no readings for machine " + machineID})
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, processor.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAssociationNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidAssociation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
