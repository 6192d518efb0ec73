// Package app builds the admission handler and the session factory from
// process configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"interview-agent/handler"
	"interview-agent/internal/auth"
	"interview-agent/internal/integrations/paramstore"
	"interview-agent/internal/integrations/platform"
	"interview-agent/internal/repository"
	"interview-agent/internal/session"
	"interview-agent/internal/storage"
	"interview-agent/internal/telemetry"
	"interview-agent/internal/usecase"
)

const userAgent = "interview-agent/1.0"

// Config is read from the environment in cmd/main.go.
type Config struct {
	PlatformBaseURL    string
	ParamPrefix        string
	TranscriptBucket   string
	TranscriptDir      string
	EventsTable        string
	AgentName          string
	MetricsNamespace   string
	TokenBuffer        time.Duration
	PingInterval       time.Duration
	MaxPingAttempts    int
	FinalizeRetries    int
	FinalizeRetryDelay time.Duration
}

// App holds the wired components. The Lambda entry point serves Handler; a
// host that runs the live conversation and room transport consumes Factory to
// create one Session per admitted room, sharing Tokens for platform calls.
type App struct {
	Handler *handler.Handler
	Factory *session.Factory
	Metrics *telemetry.Metrics
	Tokens  *auth.Cache
}

func (c Config) validate() error {
	if strings.TrimSpace(c.PlatformBaseURL) == "" {
		return errors.New("app: platform base URL must not be empty")
	}
	if strings.TrimSpace(c.ParamPrefix) == "" {
		return errors.New("app: parameter prefix must not be empty")
	}
	if c.TranscriptBucket == "" && c.TranscriptDir == "" {
		return errors.New("app: one of transcript bucket or transcript dir is required")
	}
	return nil
}

// Build wires every component. It performs no network calls.
func Build(cfg Config, awsCfg aws.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
	if err != nil {
		return nil, fmt.Errorf("app: param store: %w", err)
	}
	creds := platform.CredentialsFunc(func(ctx context.Context) (platform.Credentials, error) {
		c, err := params.Credentials(ctx)
		if err != nil {
			return platform.Credentials{}, err
		}
		return platform.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret}, nil
	})

	exchanger, err := platform.NewExchanger(cfg.PlatformBaseURL, creds, platform.WithUserAgent(userAgent))
	if err != nil {
		return nil, fmt.Errorf("app: exchanger: %w", err)
	}
	cacheOpts := []auth.Option{auth.WithLogger(logger)}
	if cfg.TokenBuffer > 0 {
		cacheOpts = append(cacheOpts, auth.WithExpiryBuffer(cfg.TokenBuffer))
	}
	tokens, err := auth.NewCache(exchanger, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: token cache: %w", err)
	}
	platformClient, err := platform.NewClient(cfg.PlatformBaseURL, tokens, platform.WithUserAgent(userAgent))
	if err != nil {
		return nil, fmt.Errorf("app: platform client: %w", err)
	}
	platformClient.SetLogger(logger)

	var (
		remote storage.RemoteStore
		linker usecase.TranscriptLinker
	)
	if cfg.TranscriptBucket != "" {
		api := awss3.NewFromConfig(awsCfg)
		s3Client, err := storage.New(api, cfg.TranscriptBucket, storage.WithPresigner(awss3.NewPresignClient(api)))
		if err != nil {
			return nil, fmt.Errorf("app: transcript bucket: %w", err)
		}
		remote, linker = s3Client, s3Client
	} else {
		local, err := storage.NewLocal(cfg.TranscriptDir)
		if err != nil {
			return nil, fmt.Errorf("app: transcript dir: %w", err)
		}
		remote = local
	}

	metrics := telemetry.NewMetrics(cfg.MetricsNamespace)
	recorderOpts := []telemetry.RecorderOption{telemetry.WithRecorderLogger(logger)}
	admissionOpts := []usecase.AdmissionOption{
		usecase.WithAdmissionMetrics(metrics),
		usecase.WithTranscriptReader(remote),
		usecase.WithAgentName(cfg.AgentName),
		usecase.WithLogger(logger),
	}
	if linker != nil {
		admissionOpts = append(admissionOpts, usecase.WithTranscriptLinker(linker))
	}
	if cfg.EventsTable != "" {
		events, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.EventsTable)
		if err != nil {
			return nil, fmt.Errorf("app: events table: %w", err)
		}
		recorderOpts = append(recorderOpts, telemetry.WithEventStore(events))
		admissionOpts = append(admissionOpts, usecase.WithSessionLookup(events))
	}
	recorder, err := telemetry.NewRecorder(metrics, recorderOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: recorder: %w", err)
	}

	factory, err := session.NewFactory(session.FactoryConfig{
		Remote:             remote,
		Notifier:           platformClient,
		Telemetry:          recorder,
		Logger:             logger,
		AgentName:          cfg.AgentName,
		MaxPingAttempts:    cfg.MaxPingAttempts,
		PingInterval:       cfg.PingInterval,
		FinalizeRetries:    cfg.FinalizeRetries,
		FinalizeRetryDelay: cfg.FinalizeRetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("app: session factory: %w", err)
	}

	admission, err := usecase.NewAdmissionService(platformClient, admissionOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: admission: %w", err)
	}
	h, err := handler.NewHandler(admission, handler.WithMetricsHandler(metrics.Handler()))
	if err != nil {
		return nil, fmt.Errorf("app: handler: %w", err)
	}

	return &App{Handler: h, Factory: factory, Metrics: metrics, Tokens: tokens}, nil
}
