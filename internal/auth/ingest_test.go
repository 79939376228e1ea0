package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestDeviceAuthMiddleware_DeviceIDModePassesThrough(t *testing.T) {
	mw := NewDeviceAuthMiddleware(DeviceAuthDeviceID, nil, 0)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/devices/d-1/events/ingest", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestDeviceAuthMiddleware_HMAC(t *testing.T) {
	secret := []byte("ingest-secret")
	now := time.Unix(1700000000, 0)
	mw := NewDeviceAuthMiddleware(DeviceAuthHMAC, secret, 5*time.Minute)
	mw.now = func() time.Time { return now }

	var seen string
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"door":"open","battery":3.1,"ts":1700000000}`
	ts := strconv.FormatInt(now.Unix(), 10)

	cases := []struct {
		name      string
		timestamp string
		signature string
		want      int
	}{
		{"valid", ts, SignIngest(secret, ts, []byte(body)), http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"bad signature", ts, SignIngest([]byte("nope"), ts, []byte(body)), http.StatusUnauthorized},
		{"expired", "1699990000", SignIngest(secret, "1699990000", []byte(body)), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		seen = ""
		req := httptest.NewRequest(http.MethodPost, "/api/devices/d-1/events/ingest", strings.NewReader(body))
		if tc.timestamp != "" {
			req.Header.Set("X-Ingest-Timestamp", tc.timestamp)
			req.Header.Set("X-Ingest-Signature", tc.signature)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.Code)
		}
		if tc.want == http.StatusOK && seen != body {
			t.Fatalf("%s: body not replayed to handler", tc.name)
		}
	}
}

func TestParseDeviceAuthMode(t *testing.T) {
	if mode, err := ParseDeviceAuthMode(""); err != nil || mode != DeviceAuthDeviceID {
		t.Fatalf("expected default device-id, got %q %v", mode, err)
	}
	if mode, err := ParseDeviceAuthMode("HMAC"); err != nil || mode != DeviceAuthHMAC {
		t.Fatalf("expected hmac, got %q %v", mode, err)
	}
	if _, err := ParseDeviceAuthMode("mtls"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
