package integration_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	devicesapp "wardex-cloud/internal/devices/application"
	devices "wardex-cloud/internal/devices/domain"
	devicespostgres "wardex-cloud/internal/devices/infrastructure/postgres"
	telemetryapp "wardex-cloud/internal/telemetry/application"
	telemetry "wardex-cloud/internal/telemetry/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestTelemetryPerf_ConcurrentIngestTriggersOnce(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "devices") || !tableExists(db, "door_events") || !tableExists(db, "alarm_events") {
		t.Skip("tables missing; run migrations")
	}

	ctx := context.Background()
	deviceID := devices.NewDeviceID()
	if _, err := db.ExecContext(ctx, `
INSERT INTO devices (id, owner_id, name, alarm_enabled)
VALUES ($1, $2, $3, TRUE)`, deviceID, devices.NewDeviceID(), "Perf Door"); err != nil {
		t.Fatalf("insert device: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE id = $1", deviceID)
	}()

	store, err := devicespostgres.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	// separate lock sets so only the row lock serializes writers
	var services []*telemetryapp.Service
	for i := 0; i < 4; i++ {
		service, err := telemetryapp.NewService(store, telemetryapp.WithDeviceLocks(devicesapp.NewDeviceLocks()))
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		services = append(services, service)
	}

	const readings = 200
	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	var triggered atomic.Int32
	var wg sync.WaitGroup
	insertStart := time.Now()
	for i := 0; i < readings; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			service := services[i%len(services)]
			result, err := service.Ingest(ctx, telemetry.Reading{
				DeviceID: deviceID,
				Door:     devices.DoorOpen,
				Battery:  90,
				TS:       start.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Errorf("ingest %d: %v", i, err)
				return
			}
			if result.Triggered {
				triggered.Add(1)
			}
		}(i)
	}
	wg.Wait()
	insertElapsed := time.Since(insertStart)

	if got := triggered.Load(); got != 1 {
		t.Fatalf("expected exactly one trigger, got %d", got)
	}
	var alarmRows int
	if err := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM alarm_events WHERE device_id = $1 AND event_type = 'alarm_triggered'`, deviceID).Scan(&alarmRows); err != nil {
		t.Fatalf("count alarms: %v", err)
	}
	if alarmRows != 1 {
		t.Fatalf("expected one alarm_triggered row, got %d", alarmRows)
	}

	queryStart := time.Now()
	doors, err := store.ListDoorEvents(ctx, []string{deviceID}, 100)
	if err != nil {
		t.Fatalf("list door events: %v", err)
	}
	queryElapsed := time.Since(queryStart)
	if len(doors) != 100 {
		t.Fatalf("expected 100 door events, got %d", len(doors))
	}

	t.Logf("perf concurrent ingest rows=%d elapsed=%s", readings, insertElapsed)
	t.Logf("perf query door page rows=%d elapsed=%s", len(doors), queryElapsed)
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
