package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wardex-cloud/internal/auth"
)

const (
	batteryDrainPerChange    = 0.05
	batteryDrainPerHeartbeat = 0.01
)

type config struct {
	baseURL           string
	deviceID          string
	secret            string
	toggleProbability float64
	tick              time.Duration
	heartbeat         time.Duration
	count             int
}

// sensor holds the simulated door and battery state.
type sensor struct {
	door    string
	battery float64
	rng     *rand.Rand
}

type reading struct {
	Door    string  `json:"door"`
	Battery float64 `json:"battery"`
	TS      int64   `json:"ts"`
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "sensor-sim").Logger()
	cfg := parseConfig()
	if cfg.deviceID == "" {
		logger.Fatal().Msg("device-id is required")
	}
	if cfg.toggleProbability < 0 || cfg.toggleProbability > 1 {
		logger.Fatal().Float64("toggle", cfg.toggleProbability).Msg("toggle probability must be within [0,1]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	s := newSensor(time.Now().UnixNano())
	heartbeatAt := time.Now()
	sent := 0

	ticker := time.NewTicker(cfg.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("sent", sent).Msg("stopping")
			return
		case now := <-ticker.C:
			var payload *reading
			switch {
			case s.maybeToggle(cfg.toggleProbability):
				payload = s.snapshot(now)
			case cfg.heartbeat > 0 && now.Sub(heartbeatAt) >= cfg.heartbeat:
				s.drain(batteryDrainPerHeartbeat)
				payload = s.snapshot(now)
				heartbeatAt = now
			}
			if payload == nil {
				continue
			}
			if err := post(ctx, client, cfg, payload); err != nil {
				logger.Warn().Err(err).Str("door", payload.Door).Msg("ingest failed")
				continue
			}
			sent++
			logger.Info().Str("door", payload.Door).Float64("battery", payload.Battery).Int64("ts", payload.TS).Msg("reading sent")
			if cfg.count > 0 && sent >= cfg.count {
				return
			}
		}
	}
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.baseURL, "base-url", getenvDefault("BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.deviceID, "device-id", getenvDefault("DEVICE_ID", ""), "device id to report as")
	flag.StringVar(&cfg.secret, "secret", getenvDefault("INGEST_HMAC_SECRET", ""), "ingest HMAC secret; empty sends unsigned")
	flag.Float64Var(&cfg.toggleProbability, "toggle", getenvFloatDefault("TOGGLE_PROBABILITY", 0.1), "chance per tick of a door change")
	flag.DurationVar(&cfg.tick, "tick", getenvDuration("TICK", time.Second), "sampling interval")
	flag.DurationVar(&cfg.heartbeat, "heartbeat", getenvDuration("HEARTBEAT_INTERVAL", 10*time.Minute), "heartbeat interval; 0 disables")
	flag.IntVar(&cfg.count, "count", getenvIntDefault("COUNT", 0), "stop after this many readings; 0 runs until interrupted")
	flag.Parse()
	return cfg
}

func newSensor(seed int64) *sensor {
	return &sensor{door: "close", battery: 100, rng: rand.New(rand.NewSource(seed))}
}

func (s *sensor) maybeToggle(probability float64) bool {
	if s.rng.Float64() >= probability {
		return false
	}
	if s.door == "close" {
		s.door = "open"
	} else {
		s.door = "close"
	}
	s.drain(batteryDrainPerChange)
	return true
}

func (s *sensor) drain(amount float64) {
	s.battery -= amount
	if s.battery < 0 {
		s.battery = 0
	}
}

func (s *sensor) snapshot(now time.Time) *reading {
	return &reading{Door: s.door, Battery: float64(int(s.battery*100+0.5)) / 100, TS: now.Unix()}
}

func buildRequest(ctx context.Context, cfg config, payload *reading, now time.Time) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(cfg.baseURL, "/") + "/api/devices/" + cfg.deviceID + "/events/ingest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.secret != "" {
		timestamp := strconv.FormatInt(now.Unix(), 10)
		req.Header.Set("X-Ingest-Timestamp", timestamp)
		req.Header.Set("X-Ingest-Signature", auth.SignIngest([]byte(cfg.secret), timestamp, body))
	}
	return req, nil
}

func post(ctx context.Context, client *http.Client, cfg config, payload *reading) error {
	req, err := buildRequest(ctx, cfg, payload, time.Now())
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ingest status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func getenvDefault(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloatDefault(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
