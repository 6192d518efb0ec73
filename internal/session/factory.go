package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"interview-agent/internal/domain"
	"interview-agent/internal/presence"
	"interview-agent/internal/stage"
	"interview-agent/internal/storage"
	"interview-agent/internal/transcript"
)

// ErrCannotProceed is returned when validation does not allow the session.
var ErrCannotProceed = errors.New("session: validation does not allow this session to proceed")

// FactoryConfig holds the process-wide collaborators shared by every session.
type FactoryConfig struct {
	Remote             storage.RemoteStore
	Notifier           Notifier
	Telemetry          Telemetry
	Logger             *slog.Logger
	AgentName          string
	MaxPingAttempts    int
	PingInterval       time.Duration
	FinalizeRetries    int
	FinalizeRetryDelay time.Duration
}

// Runtime is what the hosting process provides for one session.
type Runtime struct {
	Conversation Conversation
	Room         Room
}

// Session bundles the per-session components. Feed presence events to
// Presence and conversation turns to the Orchestrator.
type Session struct {
	*Orchestrator
	Presence    *presence.Monitor
	Transcripts *transcript.Store
}

type Factory struct {
	cfg FactoryConfig
}

func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Remote == nil {
		return nil, errors.New("session: remote store must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg}, nil
}

// NewSession wires a sequencer, transcript store, presence monitor and
// orchestrator for one admitted session. Presence loss ends the session.
func (f *Factory) NewSession(res domain.ValidationResult, participantName, roomName string, rt Runtime) (*Session, error) {
	if !res.CanProceed {
		return nil, ErrCannotProceed
	}
	if rt.Conversation == nil {
		return nil, errors.New("session: conversation must not be nil")
	}
	seq, err := stage.FromValidation(res)
	if err != nil {
		return nil, fmt.Errorf("session: NewSession: %w", err)
	}

	info := domain.SessionInfo{
		SessionID:       res.SessionID,
		TenantID:        res.TenantID,
		ParticipantName: participantName,
		RoomName:        roomName,
	}
	logger := f.cfg.Logger.With("room", roomName)

	store, err := transcript.New(f.cfg.Remote, info,
		transcript.WithLogger(logger),
		transcript.WithAgentName(f.cfg.AgentName),
	)
	if err != nil {
		return nil, fmt.Errorf("session: NewSession: %w", err)
	}

	var orch *Orchestrator
	mon, err := presence.New(rt.Conversation,
		presence.WithMaxAttempts(f.cfg.MaxPingAttempts),
		presence.WithInterval(f.cfg.PingInterval),
		presence.WithLogger(logger),
		presence.WithOnLost(func(ctx context.Context) { orch.OnParticipantLost(ctx) }),
	)
	if err != nil {
		return nil, fmt.Errorf("session: NewSession: %w", err)
	}

	orch, err = New(Config{
		Info:               info,
		FinalizeRetries:    f.cfg.FinalizeRetries,
		FinalizeRetryDelay: f.cfg.FinalizeRetryDelay,
	}, Deps{
		Sequencer:    seq,
		Conversation: rt.Conversation,
		Transcripts:  store,
		Presence:     mon,
		Room:         rt.Room,
		Notifier:     f.cfg.Notifier,
		Telemetry:    f.cfg.Telemetry,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: NewSession: %w", err)
	}
	return &Session{Orchestrator: orch, Presence: mon, Transcripts: store}, nil
}

// NewSessionFromMetadata parses admission metadata and calls NewSession.
func (f *Factory) NewSessionFromMetadata(metadata, participantName, roomName string, rt Runtime) (*Session, error) {
	res, err := ParseValidationMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return f.NewSession(res, participantName, roomName, rt)
}
