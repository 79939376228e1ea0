package main

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/matryer/is"

	"wardex-cloud/internal/auth"
)

func TestSensorToggleDrainsBattery(t *testing.T) {
	is := is.New(t)
	s := newSensor(1)

	is.True(!s.maybeToggle(0))
	is.Equal(s.door, "close")

	is.True(s.maybeToggle(1))
	is.Equal(s.door, "open")
	is.Equal(s.snapshot(time.Unix(10, 0)).Battery, 99.95)

	is.True(s.maybeToggle(1))
	is.Equal(s.door, "close")
}

func TestSensorBatteryFloorsAtZero(t *testing.T) {
	is := is.New(t)
	s := newSensor(1)
	s.battery = 0.02
	s.drain(batteryDrainPerChange)
	is.Equal(s.battery, 0.0)
}

func TestBuildRequestSignsBody(t *testing.T) {
	is := is.New(t)
	cfg := config{baseURL: "http://localhost:8080/", deviceID: "door-1", secret: "s3cret"}
	now := time.Unix(1700000000, 0)

	req, err := buildRequest(context.Background(), cfg, &reading{Door: "open", Battery: 88.5, TS: now.Unix()}, now)
	is.NoErr(err)
	is.Equal(req.URL.String(), "http://localhost:8080/api/devices/door-1/events/ingest")
	is.Equal(req.Header.Get("X-Ingest-Timestamp"), "1700000000")

	body, err := io.ReadAll(req.Body)
	is.NoErr(err)
	is.Equal(req.Header.Get("X-Ingest-Signature"), auth.SignIngest([]byte("s3cret"), "1700000000", body))

	var decoded map[string]any
	is.NoErr(json.Unmarshal(body, &decoded))
	is.Equal(decoded["door"], "open")
	is.Equal(decoded["ts"], float64(1700000000))
}

func TestBuildRequestUnsigned(t *testing.T) {
	is := is.New(t)
	cfg := config{baseURL: "http://h", deviceID: "d"}
	req, err := buildRequest(context.Background(), cfg, &reading{Door: "close", Battery: 1, TS: 1}, time.Now())
	is.NoErr(err)
	is.Equal(req.Header.Get("X-Ingest-Signature"), "")
}
