package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	devices "wardex-cloud/internal/devices/domain"
	"wardex-cloud/internal/observability/metrics"
	telemetryapp "wardex-cloud/internal/telemetry/application"
	telemetry "wardex-cloud/internal/telemetry/domain"
)

// maxBodyBytes bounds a single telemetry payload.
const maxBodyBytes = 16 << 10

// IngestHandler handles door telemetry posted by sensor bridges.
type IngestHandler struct {
	service *telemetryapp.Service
	logger  zerolog.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *telemetryapp.Service, logger zerolog.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("telemetry ingest: nil service")
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// Register mounts the ingest route on an /api subrouter behind the device trust boundary.
func (h *IngestHandler) Register(router *mux.Router, boundary func(http.Handler) http.Handler) {
	var handler http.Handler = h
	if boundary != nil {
		handler = boundary(handler)
	}
	router.Handle("/devices/{deviceId}/events/ingest", handler).Methods(http.MethodPost)
}

// ServeHTTP ingests one door reading.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	deviceID := mux.Vars(r)["deviceId"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, start, "read_body", http.StatusBadRequest, "read body error", err)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, start, "decode", http.StatusBadRequest, "invalid json", err)
		return
	}
	reading, err := req.toReading(deviceID)
	if err != nil {
		h.fail(w, start, "invalid_payload", http.StatusBadRequest, err.Error(), err)
		return
	}
	if err := reading.Validate(); err != nil {
		h.fail(w, start, "invalid_payload", http.StatusBadRequest, err.Error(), err)
		return
	}

	result, err := h.service.Ingest(r.Context(), reading)
	if err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			h.fail(w, start, "unknown_device", http.StatusNotFound, "device not found", err)
			return
		}
		if errors.Is(err, telemetry.ErrFutureReading) {
			h.fail(w, start, "future_ts", http.StatusBadRequest, err.Error(), err)
			return
		}
		h.fail(w, start, "storage", http.StatusInternalServerError, "ingest failed", err)
		return
	}

	outcome := metrics.IngestResultSuccess
	if result.Stale {
		outcome = metrics.IngestResultStale
	}
	metrics.ObserveIngest(outcome, time.Since(start))

	resp := map[string]any{
		"ok":        true,
		"stale":     result.Stale,
		"triggered": result.Triggered,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *IngestHandler) fail(w http.ResponseWriter, start time.Time, reason string, status int, msg string, err error) {
	metrics.IncIngestError(reason)
	metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Str("reason", reason).Msg("telemetry ingest rejected")
	http.Error(w, msg, status)
}

type ingestRequest struct {
	Door         string   `json:"door"`
	Battery      *float64 `json:"battery"`
	AlarmEnabled *bool    `json:"alarmEnabled"`
	TS           float64  `json:"ts"`
}

func (r ingestRequest) toReading(deviceID string) (telemetry.Reading, error) {
	if deviceID == "" {
		return telemetry.Reading{}, errors.New("missing deviceId")
	}
	if r.Battery == nil {
		return telemetry.Reading{}, errors.New("battery is required")
	}
	ts, err := telemetry.ParseTimestamp(r.TS)
	if err != nil {
		return telemetry.Reading{}, err
	}
	return telemetry.Reading{
		DeviceID:  deviceID,
		Door:      devices.DoorState(r.Door),
		Battery:   *r.Battery,
		ArmedHint: r.AlarmEnabled,
		TS:        ts,
	}, nil
}
