package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alarmapp "wardex-cloud/internal/alarms/application"
	alarmhttp "wardex-cloud/internal/alarms/interfaces/http"
	alarmnotify "wardex-cloud/internal/alarms/notify"
	apihttp "wardex-cloud/internal/api/http"
	"wardex-cloud/internal/audit"
	"wardex-cloud/internal/auth"
	"wardex-cloud/internal/config"
	devicesapp "wardex-cloud/internal/devices/application"
	deviceshttp "wardex-cloud/internal/devices/interfaces/http"
	devicespostgres "wardex-cloud/internal/devices/infrastructure/postgres"
	historyapp "wardex-cloud/internal/history/application"
	historyhttp "wardex-cloud/internal/history/interfaces/http"
	"wardex-cloud/internal/hubadapter"
	"wardex-cloud/internal/live"
	"wardex-cloud/internal/observability/metrics"
	telemetryapp "wardex-cloud/internal/telemetry/application"
	telemetryhttp "wardex-cloud/internal/telemetry/interfaces/http"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "wardex-cloud").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level; using info")
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open error")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("db ping error")
	}

	metrics.Init(db, logger)

	store, err := devicespostgres.NewStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("device store error")
	}
	checker, err := auth.NewDeviceAccessChecker(store)
	if err != nil {
		logger.Fatal().Err(err).Msg("access checker error")
	}
	auditRepo := audit.NewRepository(db)
	hub := live.NewHub(logger.With().Str("component", "live").Logger())
	locks := devicesapp.NewDeviceLocks()

	var hubClient *hubadapter.Client
	if cfg.HubConnectionString != "" {
		hubClient, err = hubadapter.NewClient(cfg.HubConnectionString, hubadapter.WithTimeout(cfg.HubTimeout))
		if err != nil {
			logger.Fatal().Err(err).Msg("device hub client error")
		}
	} else {
		logger.Warn().Msg("IOTHUB_SERVICE_CONNECTION_STRING not set; alarm commands will be skipped")
	}

	registryOpts := []devicesapp.ServiceOption{
		devicesapp.WithAuditLogger(auditRepo),
		devicesapp.WithLogger(logger.With().Str("component", "devices").Logger()),
	}
	dispatcherOpts := []alarmapp.DispatcherOption{
		alarmapp.WithNotifier(hub),
		alarmapp.WithAuditLogger(auditRepo),
		alarmapp.WithDeviceLocks(locks),
		alarmapp.WithCommandTimeout(cfg.HubTimeout),
		alarmapp.WithLogger(logger.With().Str("component", "alarms").Logger()),
	}
	if hubClient != nil {
		registryOpts = append(registryOpts, devicesapp.WithProvisioner(hubClient))
		dispatcherOpts = append(dispatcherOpts, alarmapp.WithCommandSender(hubClient))
	}

	registry, err := devicesapp.NewService(store, store, checker, registryOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("device service error")
	}
	dispatcher, err := alarmapp.NewDispatcher(store, checker, dispatcherOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarm dispatcher error")
	}

	var alarmTrigger telemetryapp.AlarmTrigger = dispatcher
	if cfg.AlarmWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm webhook error")
		}
		tpl, err := alarmnotify.NewTemplate(cfg.AlarmNotifyTemplate)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm template error")
		}
		notifier, err := alarmnotify.NewNotifier(store, channel, tpl,
			alarmnotify.WithCooldown(cfg.AlarmNotifyCooldown),
			alarmnotify.WithDedupeWindow(cfg.AlarmNotifyDedupeWindow),
			alarmnotify.WithRequestTimeout(cfg.AlarmNotifyTimeout),
			alarmnotify.WithLogger(logger.With().Str("component", "alarm_notify").Logger()),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("alarm notifier error")
		}
		alarmTrigger = alarmnotify.NewMultiTrigger(dispatcher, notifier)
	}

	ingest, err := telemetryapp.NewService(store,
		telemetryapp.WithNotifier(hub),
		telemetryapp.WithAlarmTrigger(alarmTrigger),
		telemetryapp.WithDeviceLocks(locks),
		telemetryapp.WithMaxFutureSkew(cfg.IngestMaxSkew),
		telemetryapp.WithLogger(logger.With().Str("component", "telemetry").Logger()),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest service error")
	}
	history, err := historyapp.NewService(store, store, checker,
		historyapp.WithLimits(cfg.HistoryDefaultLimit, cfg.HistoryMaxLimit),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("history service error")
	}

	devicesHandler, err := deviceshttp.NewHandler(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("devices handler error")
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingest, logger.With().Str("component", "ingest").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest handler error")
	}
	alarmsHandler, err := alarmhttp.NewHandler(dispatcher)
	if err != nil {
		logger.Fatal().Err(err).Msg("alarms handler error")
	}
	historyHandler, err := historyhttp.NewHandler(history)
	if err != nil {
		logger.Fatal().Err(err).Msg("history handler error")
	}

	ingestMode, err := auth.ParseDeviceAuthMode(cfg.IngestAuthMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest auth error")
	}
	if ingestMode == auth.DeviceAuthDeviceID {
		logger.Warn().Msg("ingest trusts the device id alone; set INGEST_AUTH_MODE=hmac to require signatures")
	}

	handler, err := apihttp.NewRouter(apihttp.Dependencies{
		Logger:         logger,
		DB:             store,
		JWTSecret:      []byte(cfg.JWTSecret),
		IngestAuth:     auth.NewDeviceAuthMiddleware(ingestMode, []byte(cfg.IngestHMACSecret), cfg.IngestMaxSkew),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Hub:            hub,
		Devices:        devicesHandler,
		Ingest:         ingestHandler,
		Alarms:         alarmsHandler,
		History:        historyHandler,
		Metrics:        promhttp.Handler(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("router error")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.HTTPAddr).Msg("serving http")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}

	// close streams first so long-lived requests let Shutdown finish
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
}
