package hubadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("super-secret-key"))

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(
		"HostName=wardex.example.net;SharedAccessKeyName=service;SharedAccessKey="+testKey,
		WithBaseURL(server.URL),
		WithTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString("HostName=h.example.net;SharedAccessKeyName=svc;SharedAccessKey=" + testKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cs.HostName != "h.example.net" || cs.SharedAccessKeyName != "svc" || cs.SharedAccessKey != testKey {
		t.Fatalf("unexpected parts %+v", cs)
	}
	if _, err := ParseConnectionString("HostName=h.example.net"); err == nil {
		t.Fatalf("expected error for incomplete connection string")
	}
}

func TestSASToken(t *testing.T) {
	token := SASToken("Hub.example.net/devices/d1", "service", []byte("k"), time.Unix(1700003600, 0))
	if !strings.HasPrefix(token, "SharedAccessSignature sr=hub.example.net%2Fdevices%2Fd1&sig=") {
		t.Fatalf("unexpected token %q", token)
	}
	if !strings.HasSuffix(token, "&se=1700003600&skn=service") {
		t.Fatalf("unexpected token suffix %q", token)
	}
}

func TestSendAlarmCommand(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	var gotBody alarmCommand
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if err := client.SendAlarmCommand(context.Background(), "dev-1", true); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/devices/dev-1/messages/devicebound" || gotQuery != "api-version=2021-04-12" {
		t.Fatalf("unexpected request %s?%s", gotPath, gotQuery)
	}
	if !strings.HasPrefix(gotAuth, "SharedAccessSignature sr=wardex.example.net%2Fdevices%2Fdev-1") {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if !gotBody.Alarm {
		t.Fatalf("expected alarm=true body")
	}
}

func TestSendAlarmCommand_DownstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusNotFound)
	}))
	defer server.Close()

	err := newTestClient(t, server).SendAlarmCommand(context.Background(), "dev-1", false)
	if !errors.Is(err, ErrDownstream) {
		t.Fatalf("expected downstream error, got %v", err)
	}
}

func TestEnsureDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if strings.HasSuffix(r.URL.Path, "/existing") {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"deviceId":"new","authentication":{"symmetricKey":{"primaryKey":"pk-123"}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	key, err := client.EnsureDevice(context.Background(), "new")
	if err != nil || key != "pk-123" {
		t.Fatalf("expected pk-123, got %q (%v)", key, err)
	}
	key, err = client.EnsureDevice(context.Background(), "existing")
	if err != nil || key != "" {
		t.Fatalf("expected empty key for existing identity, got %q (%v)", key, err)
	}
}
