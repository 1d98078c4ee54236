package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mentorcertai/cert-issuer/internal/certificate"
	issuerhealth "github.com/mentorcertai/cert-issuer/internal/health"
	"github.com/mentorcertai/cert-issuer/internal/kill_switch"
	"github.com/mentorcertai/cert-issuer/internal/metrics"
)

func main() {
	// .env is optional; real environment variables take precedence
	envFile := os.Getenv("ISSUER_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("failed to load %s: %v", envFile, err)
	}

	cfg := parseFlags()

	if cfg.debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mintMode, err := certificate.ParseMintMode(cfg.mintMode)
	if err != nil {
		log.Fatalf("Invalid mint mode: %v", err)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "err", closeErr)
		}
	}()

	// Operator keys are required, the same as the pause and resume routes
	pauseKey, resumeKey := os.Getenv("PAUSE_API_KEY"), os.Getenv("RESUME_API_KEY")
	if pauseKey == "" || resumeKey == "" {
		slog.Error("PAUSE_API_KEY and RESUME_API_KEY must be set - cannot start")
		return
	}
	if err := hashAndStoreKey(db, "pause_api_key", pauseKey); err != nil {
		slog.Error("failed to hash pause API key", "err", err)
		return
	}
	if err := hashAndStoreKey(db, "resume_api_key", resumeKey); err != nil {
		slog.Error("failed to hash resume API key", "err", err)
		return
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		slog.Error("JWT_SECRET must be set - cannot start")
		return
	}

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize dependencies", "err", err)
		return
	}

	service := certificate.NewService(db, deps, certificate.Options{
		MintMode:      mintMode,
		PassMark:      cfg.passMark,
		ChainTimeout:  cfg.chainTimeout,
		MintBatchSize: cfg.mintBatchSize,
		Issuer:        cfg.issuer(),
		IssuerID:      cfg.issuerID,
		BadgeBaseURL:  cfg.badgeBaseURL,
		EvidenceText:  cfg.evidence,
		Anchor:        cfg.anchor(),
		PublicURL:     cfg.publicURL,
	})

	if cfg.passMarkSet {
		if err := service.SetPassMark(cfg.passMark); err != nil {
			slog.Error("invalid pass mark", "val", cfg.passMark, "err", err)
			return
		}
	}
	slog.Info("issuer configured", "mint_mode", service.MintMode(), "pass_mark", service.PassMark())

	updater := metrics.NewUpdater(db)
	updater.Start(ctx)
	service.OnChange(updater.Trigger)

	// Create health service with root context
	healthService := issuerhealth.NewService(ctx)

	var scheduler *certificate.Scheduler
	if service.MintMode() == certificate.MintModeAsync {
		scheduler, err = certificate.NewScheduler(ctx, service, cfg.schedulerInterval)
		if err != nil {
			log.Fatalf("Failed to create scheduler: %v", err)
		}
		scheduler.Start()
	}

	pause := kill_switch.New(kill_switch.Config{Action: "pause", CredentialKey: "pause_api_key"}, db, func() error {
		return service.SetSchedulerActive(false)
	})
	resume := kill_switch.New(kill_switch.Config{Action: "resume", CredentialKey: "resume_api_key"}, db, func() error {
		return service.SetSchedulerActive(true)
	})

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthService.GRPCServer())

	go func() {
		if err := startGRPCServer(grpcServer, cfg.grpcAddr); err != nil {
			log.Fatalf("failed to start gRPC server: %v", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	certificate.NewAPIServer(service, jwtSecret, pause, resume).RegisterHandlers(r)
	issuerhealth.NewApi(healthService).RegisterHandlers(r)
	r.Handle("/metrics", metrics.Handler())

	// Start HTTP server with cancellation context
	httpServer := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		slog.Info("http server listening", "address", cfg.httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("received shutdown signal")
	case <-ctx.Done():
		slog.Info("context cancelled")
	}

	slog.Info("shutting down...")

	// health reports NOT_SERVING while in-flight requests drain
	healthService.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		// HTTP first so issuance requests finish with a live scheduler and db
		slog.Info("shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}
		slog.Info("HTTP server shut down")

		cancel()
		if scheduler != nil {
			scheduler.Stop()
		}

		slog.Info("shutting down gRPC server...")
		grpcServer.GracefulStop()
		slog.Info("gRPC server shut down")

		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		slog.Info("graceful shutdown completed")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, forcing shutdown")
		grpcServer.Stop()
	}

	slog.Info("shutdown complete")
}

func startGRPCServer(server *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	slog.Info("gRPC health server listening", "address", addr)
	return server.Serve(lis)
}

func hashAndStoreKey(db certificate.Db, dbKey string, key string) error {
	hashedKey, err := kill_switch.HashKey(key)
	if err != nil {
		return err
	}
	return db.SetCredential(dbKey, hashedKey)
}

func openStore(ctx context.Context, cfg config) (certificate.Db, error) {
	if cfg.postgresDSN != "" {
		slog.Info("using postgres store")
		return certificate.NewPostgresStore(ctx, cfg.postgresDSN)
	}
	slog.Info("using sqlite store", "path", cfg.dbPath)
	return certificate.NewSqliteStore(cfg.dbPath)
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), `
Secrets are read from the environment (or a .env file):
  JWT_SECRET            HS256 secret of the auth provider
  PAUSE_API_KEY         operator key for POST /pause
  RESUME_API_KEY        operator key for POST /resume
  ISSUER_PRIVATE_KEY    hex key that sends mint transactions and signs credentials
  WALLET_PASSPHRASE     passphrase encrypting student wallet keys
  PAYMASTER_API_KEY     api-key header of the paymaster
  RENDER_API_KEY        api-key header of the HTML rendering service
  MINIO_ACCESS_KEY      object storage access key
  MINIO_SECRET_KEY      object storage secret key
  DATABASE_URL          postgres DSN, overrides -db`)
	}
}
