package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"arbor/internal/auth"
	"arbor/internal/capabilities"
	"arbor/internal/config"
	"arbor/internal/handler"
	"arbor/internal/handler/sse"
	"arbor/internal/middleware"
	"arbor/internal/provider/providersetup"
	"arbor/internal/repository/postgres"
	"arbor/internal/service/streaming"
	"arbor/internal/session"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"default_model", cfg.DefaultModel,
	)

	// JWT verification is optional: without a JWKS URL the API is open,
	// which is the expected mode for local single-user use
	var jwtVerifier auth.JWTVerifier
	if cfg.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer verifier.Close()
		jwtVerifier = verifier
	} else {
		logger.Warn("JWKS_URL not set - authentication disabled")
	}

	// The snapshot archive is optional too; conversations live in
	// memory and the database only stores archived snapshots
	ctx := context.Background()
	var archive *postgres.SnapshotArchive
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		tables := postgres.NewTableNames(cfg.TablePrefix)
		archive = postgres.NewSnapshotArchive(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		})
		if err := archive.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure archive schema: %v", err)
		}
		logger.Info("snapshot archive connected", "table", tables.Snapshots)
	} else {
		logger.Warn("DATABASE_URL not set - snapshot archive disabled")
	}

	// Setup LLM providers
	providerRegistry, err := providersetup.Setup(cfg.AnthropicAPIKey, logger)
	if err != nil {
		log.Fatalf("Failed to setup providers: %v", err)
	}

	// Initialize capability registry
	capabilityRegistry, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize capability registry: %v", err)
	}

	// Core state: in-memory sessions plus the live-stream registry
	sessions := session.NewRegistry()
	streams := streaming.NewRegistry(cfg.StreamRetention)
	streamService := streaming.NewService(sessions, providerRegistry, streams, cfg.DefaultModel, logger)

	// Create handlers
	sessionHandler := handler.NewSessionHandler(sessions, logger)
	nodeHandler := handler.NewNodeHandler(sessions, logger)
	snapshotHandler := handler.NewSnapshotHandler(sessions, archive, logger)
	streamHandler := handler.NewStreamHandler(streamService, sse.DefaultConfig(), logger)
	modelsHandler := handler.NewModelsHandler(capabilityRegistry, providerRegistry.Names(), logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.Health)

	// Session routes
	mux.HandleFunc("POST /api/sessions", sessionHandler.Create)
	mux.HandleFunc("GET /api/sessions", sessionHandler.List)
	mux.HandleFunc("GET /api/sessions/{id}", sessionHandler.Get)
	mux.HandleFunc("PATCH /api/sessions/{id}", sessionHandler.Update)
	mux.HandleFunc("DELETE /api/sessions/{id}", sessionHandler.Delete)
	mux.HandleFunc("PUT /api/sessions/{id}/active-node", sessionHandler.SetActiveNode)

	// Tree and node routes
	mux.HandleFunc("GET /api/sessions/{id}/tree", nodeHandler.GetTree)
	mux.HandleFunc("GET /api/sessions/{id}/path", nodeHandler.GetActivePath)
	mux.HandleFunc("GET /api/sessions/{id}/nodes/{nodeID}/path", nodeHandler.GetPath)
	mux.HandleFunc("POST /api/sessions/{id}/nodes/{nodeID}/edit", nodeHandler.Edit)
	mux.HandleFunc("POST /api/sessions/{id}/nodes/{nodeID}/clone", nodeHandler.Clone)
	mux.HandleFunc("DELETE /api/sessions/{id}/nodes/{nodeID}", nodeHandler.Delete)
	mux.HandleFunc("POST /api/sessions/{id}/nodes/{nodeID}/reparent", nodeHandler.Reparent)
	mux.HandleFunc("POST /api/sessions/{id}/nodes/{nodeID}/detach", nodeHandler.Detach)
	mux.HandleFunc("GET /api/sessions/{id}/nodes/{nodeID}/can-reparent", nodeHandler.CanReparent)

	// Snapshot routes
	mux.HandleFunc("GET /api/sessions/{id}/export", snapshotHandler.Export)
	mux.HandleFunc("POST /api/sessions/{id}/import", snapshotHandler.Import)
	mux.HandleFunc("POST /api/sessions/{id}/archive", snapshotHandler.Archive)
	mux.HandleFunc("GET /api/sessions/{id}/archive", snapshotHandler.ListArchived)
	mux.HandleFunc("POST /api/snapshots/{snapshotID}/restore", snapshotHandler.Restore)
	mux.HandleFunc("DELETE /api/snapshots/{snapshotID}", snapshotHandler.DeleteArchived)

	// Turn and streaming routes
	mux.HandleFunc("POST /api/sessions/{id}/turns", streamHandler.CreateTurn)
	mux.HandleFunc("GET /api/sessions/{id}/nodes/{nodeID}/stream", streamHandler.Stream)
	mux.HandleFunc("POST /api/sessions/{id}/nodes/{nodeID}/interrupt", streamHandler.Interrupt)

	// Model capabilities routes
	mux.HandleFunc("GET /api/models", modelsHandler.List)

	// Build middleware chain
	// Order: CORS → RequestLogger → Recovery → Auth → Routes
	var root http.Handler = mux
	root = middleware.Auth(jwtVerifier)(root)
	root = middleware.Recovery(logger)(root)
	root = middleware.RequestLogger(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Start server with graceful shutdown on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
}
