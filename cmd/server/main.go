package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/internal/core/services"
	httphandlers "deskbridge/internal/handlers/http"
	backupinfra "deskbridge/internal/infrastructure/backup"
	"deskbridge/internal/infrastructure/capture"
	"deskbridge/internal/infrastructure/encoding"
	"deskbridge/internal/infrastructure/events"
	"deskbridge/internal/infrastructure/input"
	"deskbridge/internal/infrastructure/middleware"
	"deskbridge/internal/infrastructure/monitoring"
	"deskbridge/internal/infrastructure/repositories"
	"deskbridge/internal/infrastructure/securechannel"
	wsignal "deskbridge/internal/infrastructure/signal"
	"deskbridge/internal/infrastructure/streaming"
	webrtcinfra "deskbridge/internal/infrastructure/webrtc"
	"deskbridge/pkg/backup"
	"deskbridge/pkg/config"
	"deskbridge/pkg/logger"
	"deskbridge/pkg/tracing"
	"deskbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// backupFormatVersion is stamped on catalog snapshots.
const backupFormatVersion = "1"

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/deskbridge/config.yaml",
	"config.yaml",
}

// loadConfig prefers DESKBRIDGE_CONFIG, then the first search path that
// exists. With no file at all the defaults apply.
func loadConfig() (*config.Config, string, error) {
	if path := os.Getenv("DESKBRIDGE_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}
	cfg, err := config.Load(configPaths[0])
	return cfg, "", err
}

func main() {
	startTime := time.Now()

	cfg, configPath, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if configPath != "" {
		log.Infow("Loaded configuration", "path", configPath)
	} else {
		log.Infow("No configuration file found, using defaults")
	}
	if cfg.Auth.Enabled {
		log.Infow("Operator auth enabled",
			"api_key", utils.MaskSecret(cfg.Auth.APIKey, 4),
			"access_token_ttl", cfg.Auth.AccessTokenTTL,
		)
		if cfg.Auth.JWTSecret == config.InsecureDefaultSecret || cfg.Auth.APIKey == config.InsecureDefaultSecret {
			log.Warnw("Auth is using the built-in default secret; set DESKBRIDGE_JWT_SECRET and DESKBRIDGE_API_KEY")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "deskbridge",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	// Storage
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	connectionRepo := repoFactory.CreateConnectionRepository()

	// Catalog snapshots
	backupDone := make(chan struct{})
	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("Failed to open backup directory", "directory", cfg.Backup.Directory, "error", err)
		}
		backups := backup.NewBackupService(storage, backupFormatVersion)
		if cfg.Backup.RestoreOnStart {
			if _, err := backupinfra.RestoreLatest(ctx, backups, connectionRepo, backupinfra.RestoreOptions{ResetStatus: true}, log); err != nil {
				log.Warnw("Failed to restore connection catalog", "error", err)
			}
		}
		scheduler := backupinfra.NewScheduler(backups, connectionRepo, backupinfra.Config{
			Interval: cfg.Backup.Interval,
			Keep:     cfg.Backup.Keep,
		}, log)
		go func() {
			defer close(backupDone)
			scheduler.Run(ctx)
		}()
	} else {
		close(backupDone)
	}

	// Session events: local subscribers always, Redis mirror when configured
	hub := events.NewHub(cfg.Signal.EventBuffer, log)
	var publisher ports.SessionEventPublisher = hub
	var mirror *events.RedisBus
	if client := repoFactory.RedisClient(); client != nil && cfg.Redis.MirrorEvents {
		instanceID := uuid.New().String()
		bus := events.NewRedisBus(client, instanceID, log)
		mirror = bus
		publisher = events.Fanout{hub, bus}
		go func() {
			err := bus.Subscribe(ctx, func(from string, ev domain.SessionEvent) {
				log.Debugw("Session event from peer instance",
					"instance_id", from,
					"session_id", ev.SessionID,
					"type", ev.Type,
				)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("Session event mirror stopped", "error", err)
			}
		}()
		log.Infow("Mirroring session events to Redis", "instance_id", instanceID, "channel", events.DefaultChannel)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewPrometheusCollector(registry)

	// Host facilities
	capturer := capture.NewScreenCapturer(cfg.Streaming.ScreenCacheTTL)
	injector, err := input.NewInjector(input.Config{
		Backend:        cfg.Input.Backend,
		Display:        cfg.Input.Display,
		Binary:         cfg.Input.Binary,
		CommandTimeout: cfg.Input.CommandTimeout,
	}, log)
	if err != nil {
		log.Warnw("Input backend unavailable, falling back to log injector", "backend", cfg.Input.Backend, "error", err)
		injector = input.NewLogInjector(log)
	}

	qualityService := services.NewQualityService(cfg.Streaming.MinSwitchInterval)
	streamers := streaming.NewFactory(
		capturer,
		encoding.NewService(log),
		qualityService,
		streaming.Config{
			StatsInterval:   cfg.Streaming.StatsInterval,
			AdaptiveQuality: cfg.Streaming.AdaptiveQuality,
		},
		log,
	)

	transportConfig := webrtcinfra.Config{GatherTimeout: cfg.WebRTC.GatherTimeout}
	transportConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	transportConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	defaultStream, err := defaultStreamConfig(cfg)
	if err != nil {
		log.Fatalw("Invalid default stream configuration", "error", err)
	}

	sessionService := services.NewSessionService(services.SessionDependencies{
		Transports: webrtcinfra.NewTransportFactory(transportConfig, log),
		Streamers:  streamers,
		Capturer:   capturer,
		Injector:   injector,
		Channels:   securechannel.NewFactory(),
		Events:     publisher,
		Metrics:    metrics,
	}, services.SessionServiceConfig{
		DefaultICEServers:   iceServers(cfg),
		DefaultStreamConfig: defaultStream,
	}, log)

	connectionRegistry := services.NewConnectionRegistry(connectionRepo, log)
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.APIKey,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	// Background monitoring
	go monitoring.NewStatsPoller(sessionService, cfg.Monitoring.MetricsInterval, log).Run(ctx)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(connectionRepo, cfg.Monitoring.HealthInterval, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, cfg.Monitoring.HealthInterval, 2*time.Second)
	}
	healthChecker.AddCaptureCheck(capturer, cfg.Monitoring.HealthInterval, 2*time.Second)
	healthChecker.StartBackgroundChecks(ctx, log)

	// Signaling socket
	wsConfig := wsignal.DefaultConfig()
	wsConfig.PingInterval = cfg.Signal.PingInterval
	wsConfig.PongTimeout = cfg.Signal.PongTimeout
	wsConfig.WriteTimeout = cfg.Signal.WriteTimeout
	wsConfig.AllowedOrigins = cfg.Signal.AllowedOrigins
	if cfg.RateLimiting.Enabled {
		wsConfig.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsConfig.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		wsConfig.MaxMessageBytes = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	wsServer := wsignal.NewWebSocketServer(sessionService, hub, wsConfig, log)
	monitoring.RegisterSocketGauge(registry, wsServer.ConnectionCount)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	httphandlers.NewHealthHandler(healthChecker, startTime).SetupRoutes(router)

	var gate gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.Auth.Enabled {
		gate = middleware.AuthMiddleware(authService)
		httphandlers.NewAuthHandler(authService).SetupRoutes(router)
	} else {
		log.Warnw("Authentication disabled; the control API is open to any caller")
	}

	api := router.Group("/api/v1", gate)
	httphandlers.NewSessionHandler(sessionService, cfg.Auth.Enabled, log).SetupRoutes(api)
	httphandlers.NewConnectionHandler(connectionRegistry).SetupRoutes(api)

	router.GET("/ws/sessions/:id", gate, wsServer.Handle)

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			router.GET("/metrics", gin.WrapH(metricsHandler))
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler)
			metricsSrv = &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
		}
		log.Infow("Prometheus metrics enabled", "port", cfg.Monitoring.PrometheusPort)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infow("Starting deskbridge server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case <-ctx.Done():
		log.Infow("Received shutdown signal")
	}
	stop()

	log.Info("Shutting down deskbridge server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during metrics server shutdown", "error", err)
		}
	}

	// Close every live session so streamers, transports and injectors stop.
	if sessions, err := sessionService.List(shutdownCtx); err == nil {
		for _, s := range sessions {
			if err := sessionService.Close(shutdownCtx, s.ID); err != nil {
				log.Warnw("Failed to close session during shutdown", "session_id", s.ID, "error", err)
			}
		}
	}

	// both flush through the store, so they go first
	<-backupDone
	if mirror != nil {
		mirror.Close()
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("deskbridge server stopped")
}

func iceServers(cfg *config.Config) []domain.ICEServer {
	servers := make([]domain.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, domain.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func defaultStreamConfig(cfg *config.Config) (domain.StreamConfig, error) {
	codec, err := domain.ParseVideoCodec(cfg.Streaming.Codec)
	if err != nil {
		return domain.StreamConfig{}, err
	}

	quality := domain.ParseQuality(cfg.Streaming.Quality)
	if score, err := strconv.Atoi(cfg.Streaming.Quality); err == nil {
		quality = domain.ScoreQuality(score)
	}

	sc := domain.StreamConfig{
		ScreenIndex: cfg.Streaming.ScreenIndex,
		Width:       cfg.Streaming.Width,
		Height:      cfg.Streaming.Height,
		Framerate:   cfg.Streaming.Framerate,
		Quality:     quality,
		Codec:       codec,
	}
	if cfg.Streaming.Bitrate > 0 {
		bitrate := cfg.Streaming.Bitrate
		sc.Bitrate = &bitrate
	}
	return sc, sc.Validate()
}
