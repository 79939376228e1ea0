package telemetry

import (
	"errors"
	"math"
	"strings"
	"time"

	devices "wardex-cloud/internal/devices/domain"
)

const (
	// millisThreshold separates unix seconds from unix milliseconds.
	millisThreshold = 1_000_000_000_000
	// maxMillis is 9999-12-31T23:59:59.999Z.
	maxMillis = 253_402_300_799_999
)

// ErrFutureReading marks a reading dated past the accepted clock skew.
var ErrFutureReading = errors.New("telemetry: ts is in the future")

// Reading is one door telemetry sample reported by a sensor.
type Reading struct {
	DeviceID string
	Door     devices.DoorState
	Battery  float64
	// ArmedHint is the sender's view of the armed flag. It is never trusted.
	ArmedHint *bool
	TS        time.Time
}

// Validate checks the reading and normalizes the battery value.
func (r *Reading) Validate() error {
	if r == nil {
		return errors.New("telemetry: nil reading")
	}
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("telemetry: empty device id")
	}
	if !r.Door.Valid() {
		return errors.New("telemetry: door must be open or close")
	}
	if r.TS.IsZero() {
		return errors.New("telemetry: missing ts")
	}
	battery, err := devices.RoundBattery(r.Battery)
	if err != nil {
		return err
	}
	r.Battery = battery
	return nil
}

// ParseTimestamp accepts unix seconds or milliseconds, fractional seconds included.
func ParseTimestamp(value float64) (time.Time, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 || value > maxMillis {
		return time.Time{}, errors.New("telemetry: invalid ts")
	}
	if value > millisThreshold {
		return time.UnixMilli(int64(value)).UTC(), nil
	}
	sec := int64(value)
	nsec := int64((value - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Truncate(time.Millisecond), nil
}

// CheckNotFuture rejects readings dated later than now plus skew.
func (r Reading) CheckNotFuture(now time.Time, skew time.Duration) error {
	if r.TS.After(now.Add(skew)) {
		return ErrFutureReading
	}
	return nil
}
