// Command ledgerd is the supplemental REST façade daemon: it exposes a
// session's chain and verification result over HTTP, behind optional RS256
// JWT bearer-token authentication.
package main

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krakalus/ledger/internal/config"
	"github.com/krakalus/ledger/internal/restapi"
	"github.com/krakalus/ledger/internal/storage"
	"github.com/krakalus/ledger/internal/verify"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file (required)")
	flag.Parse()

	if configPath == "" {
		slog.Error("ledgerd: -config is required")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		slog.Error("ledgerd: failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	backend, err := storage.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	var verifier *verify.Verifier
	if cfg.TrustMapPath != "" {
		trustMap, err := loadTrustMap(cfg.TrustMapPath)
		if err != nil {
			logger.Error("failed to load trust map", slog.Any("error", err))
			os.Exit(1)
		}
		verifier, err = verify.New(trustMap)
		if err != nil {
			logger.Error("failed to construct verifier", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("trust map loaded", slog.String("path", cfg.TrustMapPath), slog.Int("agents", len(trustMap)))
	} else {
		logger.Warn("no trust_map_path configured; /api/v1/sessions/{id}/verify is disabled")
	}

	var pubKey *rsa.PublicKey
	if cfg.REST.JWTPublicKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.REST.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = restapi.ParseRSAPublicKey(pemBytes)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt_public_key_path not configured; REST API authentication disabled (dev mode)")
	}

	srv := restapi.NewServer(backend, verifier)
	handler := restapi.NewRouter(srv, pubKey)

	httpServer := &http.Server{
		Addr:         cfg.REST.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", slog.String("addr", cfg.REST.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	logger.Info("ledgerd exited cleanly")
}

// loadTrustMap reads a JSON file mapping agent_id to base64url Ed25519
// public key.
func loadTrustMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
