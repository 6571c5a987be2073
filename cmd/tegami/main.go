// Tegami is the phone-chat companion service.
//
// Configuration comes from the environment (a .env file in the working
// directory is loaded first if present), optionally overlaid by a YAML file
// named by TEGAMI_CONFIG.
//
// Environment variables:
//
//	TEGAMI_DB_PATH        - local SQLite file (default: ./tegami.db)
//	TEGAMI_LOCAL_QUOTA    - local storage quota in bytes (default: 5 MiB)
//	TEGAMI_NAMESPACE      - key prefix for scoped records (default: "tegami")
//	TEGAMI_TIMEZONE       - IANA zone for narrative times (default: Asia/Shanghai)
//	TEGAMI_HTTP_ADDR      - API listen address (default: ":8080")
//	TEGAMI_SNAPSHOT       - host snapshot bound at startup (JSON or YAML)
//	TEGAMI_STALE_POLICY   - "commit-to-origin" (default) or "drop-stale"
//	TEGAMI_MASTER_KEY     - 64 hex chars; seals values stored on Matrix
//	TEGAMI_LLM_BASE_URL   - OpenAI-compatible endpoint
//	TEGAMI_LLM_MODEL      - model name
//	TEGAMI_LLM_API_KEY    - API key for the endpoint
//	TEGAMI_LLM_TIMEOUT    - HTTP timeout, e.g. "90s" (default: none)
//	TEGAMI_LLM_RATE_LIMIT - generations per conversation per minute (default: 20)
//	MATRIX_HOMESERVER     - enables Matrix account data as primary storage
//	MATRIX_USER_ID        - account owning the data
//	MATRIX_ACCESS_TOKEN   - access token for that account
//	TEGAMI_LOG_LEVEL      - "debug", "info", "warn", "error" (default: "info")
//	TEGAMI_LOG_FORMAT     - "text" or "json" (default: "text")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/bdobrica/Tegami/common/crypto"
	"github.com/bdobrica/Tegami/common/environment"
	"github.com/bdobrica/Tegami/common/version"
	"github.com/bdobrica/Tegami/internal/tegami/app"
	"github.com/bdobrica/Tegami/internal/tegami/dispatch"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
	"github.com/bdobrica/Tegami/internal/tegami/matrix"
	"github.com/bdobrica/Tegami/internal/tegami/observability"
)

func main() {
	fmt.Println(version.Info())

	// Optional; plain environment variables work without it.
	envErr := godotenv.Load()

	logger := observability.Setup(
		environment.StringOr("TEGAMI_LOG_LEVEL", "info"),
		environment.StringOr("TEGAMI_LOG_FORMAT", "text"),
	)
	if envErr == nil {
		logger.Info("loaded .env file")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tegami, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Tegami: %v\n", err)
		os.Exit(1)
	}
	defer tegami.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tegami.Run(ctx); err != nil {
		slog.Error("Tegami exited with error", "err", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables, then the
// optional YAML overlay.
func loadConfig() (app.Config, error) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		shanghai = time.Local
	}
	cfg := app.Config{
		DatabasePath:    environment.StringOr("TEGAMI_DB_PATH", "./tegami.db"),
		LocalQuotaBytes: environment.Int64Or("TEGAMI_LOCAL_QUOTA", app.DefaultLocalQuota),
		Namespace:       os.Getenv("TEGAMI_NAMESPACE"),
		Location:        environment.LocationOr("TEGAMI_TIMEZONE", shanghai),
		HTTPAddr:        environment.StringOr("TEGAMI_HTTP_ADDR", ":8080"),
		SnapshotPath:    os.Getenv("TEGAMI_SNAPSHOT"),
		StalePolicy:     dispatch.ParseStalePolicy(os.Getenv("TEGAMI_STALE_POLICY")),
		LLM: llm.Config{
			BaseURL: os.Getenv("TEGAMI_LLM_BASE_URL"),
			Model:   os.Getenv("TEGAMI_LLM_MODEL"),
			APIKey:  os.Getenv("TEGAMI_LLM_API_KEY"),
			Timeout: environment.DurationOr("TEGAMI_LLM_TIMEOUT", 0),
		},
		LLMRateLimit: environment.IntOr("TEGAMI_LLM_RATE_LIMIT", llm.DefaultRateLimit),
	}

	if hs := os.Getenv("MATRIX_HOMESERVER"); hs != "" {
		cfg.Matrix = &matrix.Config{
			Homeserver:  hs,
			UserID:      os.Getenv("MATRIX_USER_ID"),
			AccessToken: os.Getenv("MATRIX_ACCESS_TOKEN"),
		}
		if raw := os.Getenv("TEGAMI_MASTER_KEY"); raw != "" {
			key, err := crypto.ParseKey(raw)
			if err != nil {
				return cfg, fmt.Errorf("TEGAMI_MASTER_KEY: %w\nGenerate a key with: openssl rand -hex 32", err)
			}
			cfg.Matrix.SealKey = key
		}
	}

	if path := os.Getenv("TEGAMI_CONFIG"); path != "" {
		if err := app.ApplyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
