// Package main provides the model repository server entry point: the
// namespace access control API and the payload mapping API under one
// process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/devicehub/model-repository/pkg/mapping"
	"github.com/devicehub/model-repository/pkg/mapping/sandbox"
	"github.com/devicehub/model-repository/pkg/rbac"
)

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
		jwtKeyPath   string
		jwtIssuer    string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "sqlite", "Database type (sqlite or postgres)")
	flag.StringVar(&databaseDSN, "db-dsn", "file::memory:?cache=shared", "Database connection string")
	flag.StringVar(&jwtKeyPath, "jwt-public-key", "", "Path to RS256 public key for JWT actor verification")
	flag.StringVar(&jwtIssuer, "jwt-issuer", "", "Expected JWT issuer")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting model repository server",
		"listen", listenAddr,
		"dbType", databaseType,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	stores := rbac.NewStores(db)
	if err := stores.AutoMigrate(); err != nil {
		logger.Error("failed to migrate access control tables", "error", err)
		os.Exit(1)
	}
	catalog := rbac.NewRoleCatalog(db)
	if err := catalog.Migrate(); err != nil {
		logger.Error("failed to migrate role catalog", "error", err)
		os.Exit(1)
	}
	service := rbac.NewService(stores, catalog, nil, rbac.WithLogger(logger))

	var extractor rbac.ActorExtractor
	if jwtKeyPath != "" || os.Getenv("REPOSITORY_JWT_MODE") == "unverified" {
		extractor, err = rbac.NewJWTActorExtractor(rbac.JWTActorExtractorConfig{
			PublicKeyPath: jwtKeyPath,
			Issuer:        jwtIssuer,
			Logger:        logger,
		})
		if err != nil {
			logger.Error("failed to build JWT actor extractor", "error", err)
			os.Exit(1)
		}
	}

	registry := mapping.NewRegistry(sandbox.NewJavascriptProvider(logger))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", rbac.ActorHeader},
	}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Mount("/api/v1/rbac", rbac.NewRouter(service, extractor))
	router.Mount("/api/v1/mapping", mapping.NewRouter(registry))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("listening", "addr", listenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupDatabase opens the gorm handle for the configured backend.
func setupDatabase(databaseType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch databaseType {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q", databaseType)
	}
}
