package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"wardex-cloud/internal/auth"
	historyapp "wardex-cloud/internal/history/application"
	"wardex-cloud/internal/observability/metrics"
)

const timeLayout = time.RFC3339Nano

// Handler provides event history HTTP endpoints.
type Handler struct {
	service *historyapp.Service
	now     func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(service *historyapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("history handler: nil service")
	}
	return &Handler{service: service, now: time.Now}, nil
}

// Register mounts history routes on an /api subrouter.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/events", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/events/export", h.handleExport).Methods(http.MethodGet)
	router.HandleFunc("/devices/{deviceId}/events", h.handleDoorEvents).Methods(http.MethodGet)
	router.HandleFunc("/devices/{deviceId}/alarm-events", h.handleAlarmEvents).Methods(http.MethodGet)
}

type eventResponse struct {
	ID             int64    `json:"id"`
	DeviceID       string   `json:"deviceId"`
	Kind           string   `json:"kind"`
	DoorState      *string  `json:"doorState"`
	Battery        *float64 `json:"battery"`
	AlarmEnabled   *bool    `json:"alarmEnabled"`
	AlarmEventType *string  `json:"alarmEventType"`
	TriggeredBy    string   `json:"triggeredByUserId,omitempty"`
	TS             string   `json:"ts"`
}

type doorEventResponse struct {
	ID           int64    `json:"id"`
	DoorState    string   `json:"doorState"`
	Battery      *float64 `json:"battery"`
	AlarmEnabled *bool    `json:"alarmEnabled"`
	TS           string   `json:"ts"`
}

type alarmEventResponse struct {
	ID          int64  `json:"id"`
	EventType   string `json:"eventType"`
	TriggeredBy string `json:"triggeredByUserId,omitempty"`
	TS          string `json:"ts"`
}

// handleList serves GET /api/events, optionally narrowed by ?deviceId=.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	entries, err := h.query(r, identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := make([]eventResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toEventResponse(entry))
	}
	writeJSON(w, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if name == "" {
		name = FormatCSV
	}
	format, ok := exportFormats[name]
	if !ok {
		http.Error(w, "format must be csv, xlsx or pdf", http.StatusBadRequest)
		return
	}

	start := time.Now()
	entries, err := h.query(r, identity)
	if err != nil {
		metrics.ObserveExport(name, metrics.ResultError, time.Since(start))
		respondError(w, r, err)
		return
	}
	now := h.now().UTC()
	body, err := format.render(entries, now)
	if err != nil {
		metrics.ObserveExport(name, metrics.ResultError, time.Since(start))
		respondError(w, r, err)
		return
	}
	metrics.ObserveExport(name, metrics.ResultSuccess, time.Since(start))

	filename := fmt.Sprintf("events-%s.%s", now.Format("20060102T150405Z"), name)
	w.Header().Set("Content-Type", format.contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) handleDoorEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListDoorEvents(r.Context(), mux.Vars(r)["deviceId"], identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := make([]doorEventResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, doorEventResponse{
			ID:           row.ID,
			DoorState:    string(row.DoorState),
			Battery:      row.Battery,
			AlarmEnabled: row.AlarmEnabled,
			TS:           row.TS.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, resp)
}

func (h *Handler) handleAlarmEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListAlarmEvents(r.Context(), mux.Vars(r)["deviceId"], identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := make([]alarmEventResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, alarmEventResponse{
			ID:          row.ID,
			EventType:   string(row.EventType.Normalize()),
			TriggeredBy: row.TriggeredByUserID,
			TS:          row.TS.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, resp)
}

func (h *Handler) query(r *http.Request, identity auth.Identity) ([]historyapp.Entry, error) {
	if deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId")); deviceID != "" {
		return h.service.ListDeviceEvents(r.Context(), deviceID, identity)
	}
	limit, err := parseLimit(r)
	if err != nil {
		return nil, err
	}
	return h.service.ListEvents(r.Context(), identity, limit)
}

var errInvalidLimit = errors.New("limit must be a positive integer")

func parseLimit(r *http.Request) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get("limit"))
	if value == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, errInvalidLimit
	}
	return limit, nil
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return identity, ok
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFoundOrForbidden):
		http.Error(w, "device not found or no access", http.StatusNotFound)
	case errors.Is(err, errInvalidLimit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("history query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toEventResponse(entry historyapp.Entry) eventResponse {
	resp := eventResponse{
		ID:          entry.ID,
		DeviceID:    entry.DeviceID,
		Kind:        string(entry.Kind),
		TriggeredBy: entry.TriggeredByUserID,
		TS:          entry.TS.UTC().Format(timeLayout),
	}
	switch entry.Kind {
	case historyapp.KindDoor:
		door := string(entry.DoorState)
		resp.DoorState = &door
		resp.Battery = entry.Battery
		resp.AlarmEnabled = entry.AlarmEnabled
	case historyapp.KindAlarm:
		eventType := string(entry.AlarmEventType)
		resp.AlarmEventType = &eventType
	}
	return resp
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
