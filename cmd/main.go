package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"

	"interview-agent/internal/app"
	"interview-agent/internal/telemetry"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}
	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(os.Getenv("LOG_LEVEL")))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg := app.Config{
		PlatformBaseURL:    mustEnv("PLATFORM_BASE_URL"),
		ParamPrefix:        mustEnv("PARAM_PREFIX"),
		TranscriptBucket:   os.Getenv("TRANSCRIPT_BUCKET"),
		TranscriptDir:      os.Getenv("TRANSCRIPT_DIR"),
		EventsTable:        os.Getenv("EVENTS_TABLE"),
		AgentName:          os.Getenv("AGENT_NAME"),
		MetricsNamespace:   os.Getenv("METRICS_NAMESPACE"),
		TokenBuffer:        time.Duration(envInt("TOKEN_BUFFER_MINUTES", 5)) * time.Minute,
		PingInterval:       envDuration("PING_INTERVAL", 20*time.Second),
		MaxPingAttempts:    envInt("MAX_PING_ATTEMPTS", 3),
		FinalizeRetries:    envInt("FINALIZE_RETRIES", 3),
		FinalizeRetryDelay: envDuration("FINALIZE_RETRY_DELAY", 2*time.Second),
	}
	if cfg.TranscriptBucket == "" && cfg.TranscriptDir == "" {
		cfg.TranscriptDir = "transcripts"
	}

	// ---- AWS SDK config ----
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	a, err := app.Build(cfg, awsCfg, logger)
	if err != nil {
		slog.Error("failed to build app", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
