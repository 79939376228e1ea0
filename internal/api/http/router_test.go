package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	alarmapp "wardex-cloud/internal/alarms/application"
	alarmshttp "wardex-cloud/internal/alarms/interfaces/http"
	"wardex-cloud/internal/auth"
	devicesapp "wardex-cloud/internal/devices/application"
	devices "wardex-cloud/internal/devices/domain"
	deviceshttp "wardex-cloud/internal/devices/interfaces/http"
	"wardex-cloud/internal/devices/infrastructure/memory"
	historyapp "wardex-cloud/internal/history/application"
	historyhttp "wardex-cloud/internal/history/interfaces/http"
	"wardex-cloud/internal/live"
	telemetryapp "wardex-cloud/internal/telemetry/application"
	telemetryhttp "wardex-cloud/internal/telemetry/interfaces/http"
)

var testSecret = []byte("test-secret")

type recordingSender struct {
	mu       sync.Mutex
	commands []bool
}

func (s *recordingSender) SendAlarmCommand(_ context.Context, _ string, on bool) error {
	s.mu.Lock()
	s.commands = append(s.commands, on)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) sent() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.commands...)
}

type app struct {
	handler http.Handler
	store   *memory.Store
	hub     *live.Hub
	sender  *recordingSender
}

func newApp(t *testing.T) *app {
	t.Helper()
	store := memory.NewStore()
	hub := live.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)
	sender := &recordingSender{}
	locks := devicesapp.NewDeviceLocks()

	checker, err := auth.NewDeviceAccessChecker(store)
	if err != nil {
		t.Fatalf("checker: %v", err)
	}
	registry, err := devicesapp.NewService(store, store, checker)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dispatcher, err := alarmapp.NewDispatcher(store, checker,
		alarmapp.WithCommandSender(sender),
		alarmapp.WithNotifier(hub),
		alarmapp.WithDeviceLocks(locks),
	)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	ingest, err := telemetryapp.NewService(store,
		telemetryapp.WithNotifier(hub),
		telemetryapp.WithAlarmTrigger(dispatcher),
		telemetryapp.WithDeviceLocks(locks),
	)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	history, err := historyapp.NewService(store, store, checker)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	devicesHandler, err := deviceshttp.NewHandler(registry)
	if err != nil {
		t.Fatalf("devices handler: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingest, zerolog.Nop())
	if err != nil {
		t.Fatalf("ingest handler: %v", err)
	}
	alarmsHandler, err := alarmshttp.NewHandler(dispatcher)
	if err != nil {
		t.Fatalf("alarms handler: %v", err)
	}
	historyHandler, err := historyhttp.NewHandler(history)
	if err != nil {
		t.Fatalf("history handler: %v", err)
	}

	handler, err := NewRouter(Dependencies{
		Logger:    zerolog.Nop(),
		DB:        store,
		JWTSecret: testSecret,
		Hub:       hub,
		Devices:   devicesHandler,
		Ingest:    ingestHandler,
		Alarms:    alarmsHandler,
		History:   historyHandler,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return &app{handler: handler, store: store, hub: hub, sender: sender}
}

func newUser(t *testing.T) (auth.Identity, string) {
	t.Helper()
	identity := auth.Identity{UserID: devices.NewDeviceID(), Email: "user@example.com"}
	token, err := auth.IssueJWT(identity, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return identity, token
}

func (a *app) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

type deviceView struct {
	ID             string   `json:"id"`
	AlarmEnabled   bool     `json:"alarmEnabled"`
	LastDoorState  string   `json:"lastDoorState"`
	LastAlarmState string   `json:"lastAlarmState"`
	LastBattery    *float64 `json:"lastBattery"`
	IsOnline       *bool    `json:"isOnline"`
}

type ingestView struct {
	OK        bool `json:"ok"`
	Stale     bool `json:"stale"`
	Triggered bool `json:"triggered"`
}

func TestEndToEndAlarmScenario(t *testing.T) {
	is := is.New(t)
	a := newApp(t)
	_, token := newUser(t)

	observer := live.NewQueueObserver(64)
	unsubscribe, err := a.hub.Subscribe(live.TransportSSE, observer)
	is.NoErr(err)
	defer unsubscribe()

	rec := a.do(t, http.MethodPost, "/api/devices", token, map[string]string{"name": "Front door"})
	is.Equal(rec.Code, http.StatusCreated)
	created := decode[deviceView](t, rec)
	base := "/api/devices/" + created.ID
	t1 := float64(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC).Unix())

	// unarmed open: state cached, no transition
	rec = a.do(t, http.MethodPost, base+"/events/ingest", "", map[string]any{"door": "open", "battery": 87.5, "ts": t1})
	is.Equal(rec.Code, http.StatusOK)
	is.Equal(decode[ingestView](t, rec), ingestView{OK: true})

	device := decode[deviceView](t, a.do(t, http.MethodGet, base, token, nil))
	is.Equal(device.LastDoorState, "open")
	is.Equal(*device.LastBattery, 87.5)
	is.True(*device.IsOnline)
	is.Equal(device.LastAlarmState, "")

	rec = a.do(t, http.MethodPost, base+"/alarm", token, map[string]string{"action": "on"})
	is.Equal(rec.Code, http.StatusOK)
	device = decode[deviceView](t, a.do(t, http.MethodGet, base, token, nil))
	is.True(device.AlarmEnabled)

	rec = a.do(t, http.MethodPost, base+"/events/ingest", "", map[string]any{"door": "open", "battery": 86.0, "ts": t1 + 60})
	is.Equal(decode[ingestView](t, rec), ingestView{OK: true, Triggered: true})
	device = decode[deviceView](t, a.do(t, http.MethodGet, base, token, nil))
	is.Equal(device.LastAlarmState, "alarm")

	rec = a.do(t, http.MethodPost, base+"/events/ingest", "", map[string]any{"door": "open", "battery": 85.0, "ts": t1 + 120})
	is.Equal(decode[ingestView](t, rec), ingestView{OK: true})

	rec = a.do(t, http.MethodPost, base+"/alarm", token, map[string]string{"action": "off"})
	is.Equal(rec.Code, http.StatusOK)
	device = decode[deviceView](t, a.do(t, http.MethodGet, base, token, nil))
	is.Equal(device.LastAlarmState, "idle")
	is.True(!device.AlarmEnabled)

	doors := decode[[]map[string]any](t, a.do(t, http.MethodGet, base+"/events", token, nil))
	is.Equal(len(doors), 3)
	alarmRows := decode[[]map[string]any](t, a.do(t, http.MethodGet, base+"/alarm-events", token, nil))
	is.Equal(len(alarmRows), 3)
	is.Equal(alarmRows[0]["eventType"], "alarm_off")
	is.Equal(alarmRows[1]["eventType"], "alarm_triggered")
	is.Equal(alarmRows[2]["eventType"], "alarm_on")

	// on, trigger, off
	is.Equal(a.sender.sent(), []bool{true, true, false})

	// three ingests and two commands each notified observers
	is.Equal(len(observer.C()), 5)
	var msg live.Message
	is.NoErr(json.Unmarshal(<-observer.C(), &msg))
	is.Equal(msg.Type, live.MessageTypeDeviceUpdated)
	is.Equal(msg.DeviceID, created.ID)
}

func TestAccessGateOverHTTP(t *testing.T) {
	is := is.New(t)
	a := newApp(t)
	_, ownerToken := newUser(t)
	viewer, viewerToken := newUser(t)
	_, strangerToken := newUser(t)

	created := decode[deviceView](t, a.do(t, http.MethodPost, "/api/devices", ownerToken, map[string]string{"name": "Garage"}))
	base := "/api/devices/" + created.ID

	rec := a.do(t, http.MethodPost, base+"/access", ownerToken, map[string]string{"userId": viewer.UserID})
	is.Equal(rec.Code, http.StatusCreated)
	rec = a.do(t, http.MethodPost, base+"/access", ownerToken, map[string]string{"userId": viewer.UserID})
	is.Equal(rec.Code, http.StatusConflict)

	for _, target := range []string{base, base + "/events", base + "/alarm-events"} {
		is.Equal(a.do(t, http.MethodGet, target, strangerToken, nil).Code, http.StatusNotFound)
		is.Equal(a.do(t, http.MethodGet, target, viewerToken, nil).Code, http.StatusOK)
	}
	rec = a.do(t, http.MethodPost, base+"/alarm", strangerToken, map[string]string{"action": "on"})
	is.Equal(rec.Code, http.StatusNotFound)
	is.Equal(rec.Body.String(), "device not found or no access\n")

	is.Equal(a.do(t, http.MethodDelete, base, viewerToken, nil).Code, http.StatusNotFound)
	is.Equal(a.do(t, http.MethodDelete, base, ownerToken, nil).Code, http.StatusOK)
	is.Equal(a.do(t, http.MethodGet, base, ownerToken, nil).Code, http.StatusNotFound)

	list := decode[[]deviceView](t, a.do(t, http.MethodGet, "/api/devices", viewerToken, nil))
	is.Equal(len(list), 0)
}

func TestRouterAuthAndHealth(t *testing.T) {
	is := is.New(t)
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/api/devices", "", nil)
	is.Equal(rec.Code, http.StatusUnauthorized)
	is.True(rec.Header().Get("x-request-id") != "")

	is.Equal(a.do(t, http.MethodGet, "/api/devices", "not-a-jwt", nil).Code, http.StatusUnauthorized)
	is.Equal(a.do(t, http.MethodGet, "/ws/devices", "", nil).Code, http.StatusUnauthorized)

	rec = a.do(t, http.MethodGet, "/api/health", "", nil)
	is.Equal(rec.Code, http.StatusOK)
	is.Equal(decode[map[string]any](t, rec)["db"], "up")
	is.Equal(a.do(t, http.MethodGet, "/healthz", "", nil).Code, http.StatusOK)

	rec = a.do(t, http.MethodPost, "/api/devices/"+devices.NewDeviceID()+"/events/ingest", "", map[string]any{"door": "open", "battery": 50, "ts": 1767254400})
	is.Equal(rec.Code, http.StatusNotFound)
	rec = a.do(t, http.MethodPost, "/api/devices/"+devices.NewDeviceID()+"/events/ingest", "", map[string]any{"door": "ajar", "battery": 50, "ts": 1767254400})
	is.Equal(rec.Code, http.StatusBadRequest)
}

func TestIngestStaleReading(t *testing.T) {
	is := is.New(t)
	a := newApp(t)
	_, token := newUser(t)
	created := decode[deviceView](t, a.do(t, http.MethodPost, "/api/devices", token, map[string]string{"name": "Door"}))
	target := "/api/devices/" + created.ID + "/events/ingest"

	rec := a.do(t, http.MethodPost, target, "", map[string]any{"door": "close", "battery": 80, "ts": 1767254400000})
	is.Equal(decode[ingestView](t, rec), ingestView{OK: true})
	rec = a.do(t, http.MethodPost, target, "", map[string]any{"door": "open", "battery": 79, "ts": 1767254300})
	is.Equal(decode[ingestView](t, rec), ingestView{OK: true, Stale: true})

	device := decode[deviceView](t, a.do(t, http.MethodGet, "/api/devices/"+created.ID, token, nil))
	is.Equal(device.LastDoorState, "close")

	// readings dated far past the server clock are refused
	rec = a.do(t, http.MethodPost, target, "", map[string]any{"door": "open", "battery": 78, "ts": 1767254400000 * 50})
	is.Equal(rec.Code, http.StatusBadRequest)
	rec = a.do(t, http.MethodPost, target, "", map[string]any{"door": "open", "battery": 78, "ts": 1e20})
	is.Equal(rec.Code, http.StatusBadRequest)
}
