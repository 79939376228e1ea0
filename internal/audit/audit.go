package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Audit actions.
const (
	ActionDeviceCreate = "device.create"
	ActionDeviceDelete = "device.delete"
	ActionAccessGrant  = "device.access.grant"
	ActionAlarmOn      = "device.alarm.on"
	ActionAlarmOff     = "device.alarm.off"

	ResourceDevice = "device"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	Actor         string
	Action        string
	ResourceType  string
	ResourceID    string
	DeviceID      string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Metadata marshals value for Entry.Metadata, dropping it on error.
func Metadata(value any) json.RawMessage {
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}

// ZerologLogger writes audit entries to a structured log stream.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger constructs a log-backed audit logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger.With().Str("component", "audit").Logger()}
}

// Log writes an audit entry as one log line.
func (l *ZerologLogger) Log(_ context.Context, entry Entry) error {
	if l == nil {
		return nil
	}
	l.logger.Info().
		Str("actor", entry.Actor).
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("device_id", entry.DeviceID).
		RawJSON("metadata", nonEmptyJSON(entry.Metadata)).
		Str("ip", entry.IP).
		Msg("audit")
	return nil
}

func nonEmptyJSON(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}
