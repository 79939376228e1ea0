package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	alarmapp "wardex-cloud/internal/alarms/application"
	alarms "wardex-cloud/internal/alarms/domain"
	"wardex-cloud/internal/auth"
)

// Handler provides alarm command HTTP endpoints.
type Handler struct {
	dispatcher *alarmapp.Dispatcher
}

// NewHandler constructs a handler.
func NewHandler(dispatcher *alarmapp.Dispatcher) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("alarms handler: nil dispatcher")
	}
	return &Handler{dispatcher: dispatcher}, nil
}

// Register mounts alarm routes on an /api subrouter.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/devices/{deviceId}/alarm", h.handleSetAlarm).Methods(http.MethodPost)
}

type setAlarmRequest struct {
	Action string `json:"action"`
}

func (h *Handler) handleSetAlarm(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req setAlarmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	action, err := alarms.ParseAction(req.Action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.SetAlarm(r.Context(), mux.Vars(r)["deviceId"], action, identity); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFoundOrForbidden):
			http.Error(w, "device not found or no access", http.StatusNotFound)
		case errors.Is(err, alarms.ErrInvalidAction):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("set alarm failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}
