package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"interview-agent/internal/auth"
	"interview-agent/internal/domain"
	"interview-agent/internal/storage"
)

const (
	defaultAgentName     = "Quinn"
	defaultAgentIdentity = "quinn"
	defaultHistoryLimit  = 100
	transcriptLinkTTL    = 15 * time.Minute
)

type Validator interface {
	ValidateSession(ctx context.Context, sessionID string) (domain.ValidationResult, error)
}

// SessionLookup reads the session event log.
type SessionLookup interface {
	GetSessionMeta(ctx context.Context, sessionID string) (domain.SessionMeta, bool, error)
	ListEvents(ctx context.Context, sessionID string, limit int) ([]domain.SessionEvent, error)
}

// TranscriptLinker issues download links for stored transcripts.
type TranscriptLinker interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// TranscriptReader reads stored transcript objects.
type TranscriptReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type AdmissionMetrics interface {
	RecordAdmission(outcome string)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AdmissionService decides whether the agent should join a room.
type AdmissionService struct {
	validator Validator
	sessions  SessionLookup
	metrics   AdmissionMetrics
	linker    TranscriptLinker
	reader    TranscriptReader
	agentName string
	logger    *slog.Logger
}

type AdmissionOption func(*AdmissionService)

// WithSessionLookup enables the already-ended check and History.
func WithSessionLookup(s SessionLookup) AdmissionOption {
	return func(a *AdmissionService) {
		a.sessions = s
	}
}

func WithAdmissionMetrics(m AdmissionMetrics) AdmissionOption {
	return func(a *AdmissionService) {
		a.metrics = m
	}
}

// WithTranscriptLinker adds a download link for the aggregate transcript to
// History results.
func WithTranscriptLinker(l TranscriptLinker) AdmissionOption {
	return func(a *AdmissionService) {
		a.linker = l
	}
}

// WithTranscriptReader adds the stored full transcript to History results of
// finished sessions.
func WithTranscriptReader(r TranscriptReader) AdmissionOption {
	return func(a *AdmissionService) {
		a.reader = r
	}
}

func WithAgentName(name string) AdmissionOption {
	return func(a *AdmissionService) {
		if name = strings.TrimSpace(name); name != "" {
			a.agentName = name
		}
	}
}

func WithLogger(l *slog.Logger) AdmissionOption {
	return func(a *AdmissionService) {
		if l != nil {
			a.logger = l
		}
	}
}

type AdmitInput struct {
	RoomName string
}

type AdmitOutput struct {
	SessionID     string
	AgentName     string
	AgentIdentity string
	// Metadata is the validation result as JSON, handed to the session.
	Metadata      string
	StageCount    int
	RecordSession bool
}

type HistoryOutput struct {
	Meta          *domain.SessionMeta
	Events        []domain.SessionEvent
	TranscriptURL string
	Transcript    *domain.InterviewRecord
}

func NewAdmissionService(validator Validator, opts ...AdmissionOption) (*AdmissionService, error) {
	if validator == nil {
		return nil, errors.New("usecase: validator must not be nil")
	}
	a := &AdmissionService{
		validator: validator,
		agentName: defaultAgentName,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// SessionIDFromRoom extracts the numeric session id from "<prefix>-<id>[-...]".
func SessionIDFromRoom(room string) (string, error) {
	parts := strings.Split(strings.TrimSpace(room), "-")
	if len(parts) < 2 {
		return "", fmt.Errorf("room name %q has no session id", room)
	}
	id := parts[1]
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf("room name %q has a non-numeric session id", room)
	}
	return id, nil
}

// Admit validates the session behind a room and returns the metadata the
// session needs to start.
func (a *AdmissionService) Admit(ctx context.Context, in AdmitInput) (AdmitOutput, error) {
	out, err := a.admit(ctx, in)
	if a.metrics != nil {
		outcome := "accepted"
		var ue *Error
		if errors.As(err, &ue) {
			outcome = strings.ToLower(string(ue.Code))
		} else if err != nil {
			outcome = strings.ToLower(string(ErrorInternal))
		}
		a.metrics.RecordAdmission(outcome)
	}
	return out, err
}

func (a *AdmissionService) admit(ctx context.Context, in AdmitInput) (AdmitOutput, error) {
	sessionID, err := SessionIDFromRoom(in.RoomName)
	if err != nil {
		return AdmitOutput{}, newError(ErrorInvalidInput, "invalid_room_name", err)
	}
	logger := a.logger.With("session_id", sessionID, "room", in.RoomName)

	if a.sessions != nil {
		meta, found, err := a.sessions.GetSessionMeta(ctx, sessionID)
		switch {
		case err != nil:
			logger.Warn("session lookup failed, continuing with validation", "err", err)
		case found && meta.Status == domain.SessionStatusEnded:
			return AdmitOutput{}, newError(ErrorRejected, "session_already_completed", nil)
		}
	}

	res, err := a.validator.ValidateSession(ctx, sessionID)
	if err != nil {
		return AdmitOutput{}, classifyValidationError(err)
	}
	if !res.IsValid || !res.CanProceed {
		logger.Warn("session cannot proceed", "is_valid", res.IsValid, "can_proceed", res.CanProceed)
		return AdmitOutput{}, newError(ErrorRejected, "cannot_proceed", nil)
	}
	if len(res.Stages) == 0 {
		logger.Error("session has no stages")
		return AdmitOutput{}, newError(ErrorRejected, "no_stages", nil)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return AdmitOutput{}, newError(ErrorInternal, "metadata_encode_error", err)
	}
	logger.Info("session admitted", "stages", len(res.Stages), "record_session", res.RecordSession)
	return AdmitOutput{
		SessionID:     res.SessionID,
		AgentName:     a.agentName,
		AgentIdentity: defaultAgentIdentity,
		Metadata:      string(raw),
		StageCount:    len(res.Stages),
		RecordSession: res.RecordSession,
	}, nil
}

// History returns the event log and summary of a session.
func (a *AdmissionService) History(ctx context.Context, sessionID string) (HistoryOutput, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return HistoryOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if a.sessions == nil {
		return HistoryOutput{}, newError(ErrorInternal, "event_log_disabled", nil)
	}
	meta, found, err := a.sessions.GetSessionMeta(ctx, sessionID)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	events, err := a.sessions.ListEvents(ctx, sessionID, defaultHistoryLimit)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if !found && len(events) == 0 {
		return HistoryOutput{}, newError(ErrorNotFound, "session_not_found", nil)
	}
	out := HistoryOutput{Events: events}
	if found {
		out.Meta = &meta
		out.TranscriptURL = a.transcriptURL(ctx, meta.TranscriptLocation)
		out.Transcript = a.readTranscript(ctx, meta)
	}
	return out, nil
}

func (a *AdmissionService) readTranscript(ctx context.Context, meta domain.SessionMeta) *domain.InterviewRecord {
	if a.reader == nil || meta.TranscriptLocation == "" {
		return nil
	}
	key := storage.Layout{Tenant: meta.TenantID, Session: meta.SessionID}.AggregateKey()
	raw, err := a.reader.Get(ctx, key)
	if err != nil {
		a.logger.Warn("read transcript failed", "key", key, "err", err)
		return nil
	}
	var rec domain.InterviewRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		a.logger.Warn("decode transcript failed", "key", key, "err", err)
		return nil
	}
	return &rec
}

func (a *AdmissionService) transcriptURL(ctx context.Context, location string) string {
	if a.linker == nil {
		return ""
	}
	key, ok := storage.KeyFromLocation(location)
	if !ok {
		return ""
	}
	url, err := a.linker.PresignGet(ctx, key, transcriptLinkTTL)
	if err != nil {
		a.logger.Warn("presign transcript failed", "key", key, "err", err)
		return ""
	}
	return url
}

func classifyValidationError(err error) error {
	if errors.Is(err, auth.ErrAuthentication) {
		return newError(ErrorUnauthorized, "token_exchange_failed", err)
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(ErrorUnauthorized, "platform_unauthorized", err)
		case http.StatusNotFound:
			return newError(ErrorNotFound, "session_not_found", err)
		}
	}
	return newError(ErrorUpstream, "validation_error", err)
}
