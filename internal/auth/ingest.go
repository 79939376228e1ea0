package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DeviceAuthMode selects how telemetry senders are trusted.
type DeviceAuthMode string

const (
	// DeviceAuthDeviceID trusts the device id in the path, as the sensor bridge does.
	DeviceAuthDeviceID DeviceAuthMode = "device-id"
	// DeviceAuthHMAC requires a shared-secret signature over timestamp and body.
	DeviceAuthHMAC DeviceAuthMode = "hmac"
)

// ParseDeviceAuthMode validates a mode string; empty means device-id.
func ParseDeviceAuthMode(value string) (DeviceAuthMode, error) {
	switch DeviceAuthMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", DeviceAuthDeviceID:
		return DeviceAuthDeviceID, nil
	case DeviceAuthHMAC:
		return DeviceAuthHMAC, nil
	default:
		return "", fmt.Errorf("auth: unknown ingest auth mode %q", value)
	}
}

// DeviceAuthMiddleware is the trust boundary in front of telemetry ingest.
type DeviceAuthMiddleware struct {
	Mode    DeviceAuthMode
	Secret  []byte
	MaxSkew time.Duration
	now     func() time.Time
}

// NewDeviceAuthMiddleware constructs ingest auth middleware.
func NewDeviceAuthMiddleware(mode DeviceAuthMode, secret []byte, maxSkew time.Duration) *DeviceAuthMiddleware {
	return &DeviceAuthMiddleware{Mode: mode, Secret: secret, MaxSkew: maxSkew, now: time.Now}
}

// Wrap enforces ingest credential validation.
func (m *DeviceAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.Mode != DeviceAuthHMAC {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Secret) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		timestamp := strings.TrimSpace(r.Header.Get("X-Ingest-Timestamp"))
		signature := strings.TrimSpace(r.Header.Get("X-Ingest-Signature"))
		if timestamp == "" || signature == "" {
			http.Error(w, "missing ingest signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid ingest timestamp", http.StatusUnauthorized)
			return
		}
		now := time.Now
		if m.now != nil {
			now = m.now
		}
		skew := now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if m.MaxSkew > 0 && skew > m.MaxSkew {
			http.Error(w, "ingest signature expired", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		expected := SignIngest(m.Secret, timestamp, body)
		if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
			http.Error(w, "invalid ingest signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// SignIngest returns the hex HMAC-SHA256 of timestamp, newline and body.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
