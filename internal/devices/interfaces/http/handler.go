package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"wardex-cloud/internal/auth"
	devicesapp "wardex-cloud/internal/devices/application"
	devices "wardex-cloud/internal/devices/domain"
)

const timeLayout = time.RFC3339Nano

// maxBodyBytes bounds registry request bodies.
const maxBodyBytes = 64 << 10

// Handler provides device registry HTTP endpoints.
type Handler struct {
	service *devicesapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *devicesapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Register mounts registry routes on an /api subrouter.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/devices", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/devices", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/devices/{deviceId}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/devices/{deviceId}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/devices/{deviceId}/access", h.handleGrant).Methods(http.MethodPost)
}

type deviceResponse struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"ownerId"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	RoomName       string   `json:"roomName,omitempty"`
	WifiSSID       string   `json:"wifiSsid,omitempty"`
	IsEnabled      bool     `json:"isEnabled"`
	AlarmEnabled   bool     `json:"alarmEnabled"`
	LastDoorState  string   `json:"lastDoorState,omitempty"`
	LastAlarmState string   `json:"lastAlarmState,omitempty"`
	LastBattery    *float64 `json:"lastBattery,omitempty"`
	LastSeenAt     string   `json:"lastSeenAt,omitempty"`
	IsOnline       *bool    `json:"isOnline,omitempty"`
	CreatedAt      string   `json:"createdAt,omitempty"`
	DeviceKey      string   `json:"deviceKey,omitempty"`
}

type accessResponse struct {
	ID        int64  `json:"id"`
	DeviceID  string `json:"deviceId"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := make([]deviceResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toDeviceResponse(&list[i], identity.UserID))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req devicesapp.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	device, err := h.service.Create(r.Context(), req, identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceResponse(device, identity.UserID))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	device, err := h.service.Get(r.Context(), mux.Vars(r)["deviceId"], identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(device, identity.UserID))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), mux.Vars(r)["deviceId"], identity); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req devicesapp.GrantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	access, err := h.service.GrantAccess(r.Context(), mux.Vars(r)["deviceId"], req, identity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accessResponse{
		ID:        access.ID,
		DeviceID:  access.DeviceID,
		UserID:    access.UserID,
		Role:      access.Role,
		CreatedAt: formatTime(access.CreatedAt),
	})
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
	case errors.Is(err, devices.ErrConflict):
		http.Error(w, "access already granted", http.StatusConflict)
	case errors.Is(err, devices.ErrDeviceNotFound):
		http.Error(w, "device not found or no access", http.StatusNotFound)
	case errors.Is(err, devicesapp.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("device registry request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toDeviceResponse(device *devices.Device, callerID string) deviceResponse {
	resp := deviceResponse{
		ID:             device.ID,
		OwnerID:        device.OwnerID,
		Name:           device.Name,
		Type:           device.Type,
		RoomName:       device.RoomName,
		WifiSSID:       device.WifiSSID,
		IsEnabled:      device.IsEnabled,
		AlarmEnabled:   device.AlarmEnabled,
		LastDoorState:  string(device.LastDoorState),
		LastAlarmState: string(device.LastAlarmState),
		LastBattery:    device.LastBattery,
		LastSeenAt:     formatTime(device.LastSeenAt),
		IsOnline:       device.IsOnline,
		CreatedAt:      formatTime(device.CreatedAt),
	}
	if device.OwnerID == callerID {
		resp.DeviceKey = device.DeviceKey
	}
	return resp
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
