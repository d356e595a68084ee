package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fixedterm/cmd/internal/passphrase"
	"fixedterm/config"
	"fixedterm/core/events"
	"fixedterm/core/state"
	"fixedterm/crypto"
	"fixedterm/gateway/middleware"
	"fixedterm/gateway/routes"
	"fixedterm/native/fixedterm"
	"fixedterm/observability"
	"fixedterm/observability/logging"
	telemetry "fixedterm/observability/otel"
	"fixedterm/services/crank"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "fixedtermd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(*cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser := logging.SetupWithFile("fixedtermd", cfg.Env, cfg.LogFile)
	defer logCloser.Close()

	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "fixedtermd",
		Environment: cfg.Env,
		Endpoint:    strings.TrimSpace(cfg.OTLPEndpoint),
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.DBBackend, err)
	}
	defer db.Close()
	mgr := state.NewManager(db)
	if err := applyPauses(mgr, cfg.PausedModules); err != nil {
		return err
	}

	pass, err := passphrase.NewSource(cfg.AuthorityPassphraseEnv).Get()
	if err != nil {
		return fmt.Errorf("authority passphrase: %w", err)
	}
	key, err := cfg.AuthorityKey(pass)
	if err != nil {
		return fmt.Errorf("load authority key: %w", err)
	}
	authority := key.PubKey().Address()

	engine := fixedterm.NewEngine()
	engine.SetState(mgr)
	engine.SetTokens(mgr)
	engine.SetOracle(mgr)
	engine.SetAuthorizer(mgr)
	engine.SetPauses(mgr)
	engine.SetLogger(logger.With(slog.String("module", fixedterm.ModuleName)))
	stream := events.NewStream(0)
	engine.SetEmitter(events.Multi{
		observability.EventCounter{},
		stream,
		events.LogEmitter{Logger: logger.With(slog.String("component", "events"))},
	})

	if err := bootstrapMarkets(mgr, engine, authority, cfg.Markets, logger); err != nil {
		return fmt.Errorf("bootstrap markets: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crankDone := make(chan error, 1)
	if cfg.Crank.Enabled {
		svc, err := newCrank(cfg, engine, logger)
		if err != nil {
			return err
		}
		go func() { crankDone <- svc.Run(ctx) }()
	} else {
		logger.Info("crank disabled")
		close(crankDone)
	}

	handler, err := newGateway(cfg, engine, stream, authority, logger)
	if err != nil {
		return fmt.Errorf("configure gateway: %w", err)
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("address", listener.Addr().String()),
			slog.String("authority", authority.String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("gateway stopped", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	if err := <-crankDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("crank stopped", slog.Any("error", err))
	}
	logger.Info("fixedtermd stopped")
	return nil
}

func newCrank(cfg *config.Config, engine *fixedterm.Engine, logger *slog.Logger) (*crank.Service, error) {
	crankCfg := crank.Config{
		Interval:        cfg.Crank.Interval(),
		BatchSize:       cfg.Crank.BatchSize,
		EventsPerSecond: cfg.Crank.EventsPerSecond,
		Burst:           cfg.Crank.Burst,
	}
	if path := strings.TrimSpace(cfg.Crank.OverlayFile); path != "" {
		overlaid, err := crank.LoadOverlay(path, crankCfg)
		if err != nil {
			return nil, err
		}
		crankCfg = overlaid
	}
	return crank.New(engine, crankCfg, crank.WithLogger(logger.With(slog.String("component", "crank"))))
}

func newGateway(cfg *config.Config, engine *fixedterm.Engine, stream *events.Stream, authority crypto.Address, logger *slog.Logger) (http.Handler, error) {
	gwLogger := logger.With(slog.String("component", "gateway"))
	secret := cfg.AdminJWTSecret()
	if len(secret) == 0 {
		gwLogger.Warn("operator endpoints disabled; no admin JWT secret configured")
	}
	return routes.New(routes.Config{
		Engine:        engine,
		Prices:        engine,
		Operator:      authority,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: secret}, gwLogger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.LimitRead:     {RatePerSecond: 50, Burst: 100},
			routes.LimitOperator: {RatePerSecond: 2, Burst: 10},
		}, gwLogger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "fixedtermd",
			LogRequests: strings.EqualFold(cfg.Env, "dev"),
		}, prometheus.DefaultRegisterer, gwLogger),
		Gatherer: prometheus.DefaultGatherer,
		Stream:   stream,
		Logger:   gwLogger,
	})
}
