package audit

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:4411"
	if got := ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded ip, got %q", got)
	}
}

func TestRequestContextRoundTrip(t *testing.T) {
	ctx := WithRequest(context.Background(), Request{IP: "1.2.3.4", UserAgent: "sensor-app"})
	got := RequestFromContext(ctx)
	if got.IP != "1.2.3.4" || got.UserAgent != "sensor-app" {
		t.Fatalf("unexpected request %+v", got)
	}
	if empty := RequestFromContext(context.Background()); empty.IP != "" {
		t.Fatalf("expected empty request, got %+v", empty)
	}
}

func TestDigestJSON(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("expected empty digest for empty payload")
	}
	a := DigestJSON(Metadata(map[string]string{"action": "on"}))
	b := DigestJSON(Metadata(map[string]string{"action": "on"}))
	if a == "" || a != b {
		t.Fatalf("expected stable digest, got %q and %q", a, b)
	}
}
