package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"interview-agent/internal/domain"
	"interview-agent/internal/repository"
)

// EventStore is the subset of *repository.Client the recorder writes to.
type EventStore interface {
	PutEvent(ctx context.Context, ev domain.SessionEvent) error
	UpsertMeta(ctx context.Context, meta domain.SessionMeta) error
	SaveSessionEnd(ctx context.Context, ev domain.SessionEvent, meta domain.SessionMeta) error
}

// Recorder turns session lifecycle events into metrics and event log
// entries. Failures are logged and counted, never returned.
type Recorder struct {
	metrics *Metrics
	events  EventStore
	logger  *slog.Logger
	now     func() time.Time
}

type RecorderOption func(*Recorder)

// WithEventStore enables the DynamoDB event log.
func WithEventStore(s EventStore) RecorderOption {
	return func(r *Recorder) {
		r.events = s
	}
}

func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(metrics *Metrics, opts ...RecorderOption) (*Recorder, error) {
	if metrics == nil {
		return nil, errors.New("telemetry: metrics must not be nil")
	}
	r := &Recorder{metrics: metrics, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Recorder) SessionStarted(ctx context.Context, info domain.SessionInfo) {
	r.metrics.RecordSessionStart()
	r.logger.Info("session start", "session_id", info.SessionID, "participant", info.ParticipantName, "room", info.RoomName)
	if r.events == nil {
		return
	}
	now := r.now()
	ev := repository.NewEvent(info.SessionID, info.TenantID, domain.EventSessionStarted, now)
	ev.Participant = info.ParticipantName
	r.write(string(domain.EventSessionStarted), info.SessionID, r.events.PutEvent(ctx, ev))

	meta := repository.NewSessionMeta(info.SessionID, info.TenantID, domain.SessionStatusActive, now)
	meta.Participant = info.ParticipantName
	r.write("session_meta", info.SessionID, r.events.UpsertMeta(ctx, meta))
}

func (r *Recorder) StageTransition(ctx context.Context, info domain.SessionInfo, from, to string, took time.Duration) {
	r.metrics.RecordStageTransition(took)
	r.logger.Info("stage transition", "session_id", info.SessionID, "from", from, "to", to, "duration_seconds", took.Seconds())
	if r.events == nil {
		return
	}
	ev := repository.NewEvent(info.SessionID, info.TenantID, domain.EventStageTransition, r.now())
	ev.FromStage = from
	ev.ToStage = to
	ev.DurationSeconds = took.Seconds()
	r.write(string(domain.EventStageTransition), info.SessionID, r.events.PutEvent(ctx, ev))
}

func (r *Recorder) SessionEnded(ctx context.Context, s domain.SessionSummary) {
	r.metrics.RecordSessionEnd(s.EndReason, s.Duration, s.CompletedStages)
	r.logger.Info("session end",
		"session_id", s.SessionID,
		"participant", s.ParticipantName,
		"duration_seconds", s.Duration.Seconds(),
		"completed_stages", s.CompletedStages,
		"reason", s.EndReason,
	)
	if r.events == nil {
		return
	}
	now := r.now()
	ev := repository.NewEvent(s.SessionID, s.TenantID, domain.EventSessionEnded, now)
	ev.Participant = s.ParticipantName
	ev.DurationSeconds = s.Duration.Seconds()
	ev.CompletedStages = s.CompletedStages
	ev.EndReason = s.EndReason

	meta := repository.NewSessionMeta(s.SessionID, s.TenantID, domain.SessionStatusEnded, now)
	meta.Participant = s.ParticipantName
	meta.CompletedStages = s.CompletedStages
	meta.TotalStages = s.TotalStages
	meta.DurationSeconds = int64(s.Duration / time.Second)
	meta.EndReason = s.EndReason
	meta.TranscriptLocation = s.TranscriptLocation
	r.write(string(domain.EventSessionEnded), s.SessionID, r.events.SaveSessionEnd(ctx, ev, meta))
}

func (r *Recorder) write(event, sessionID string, err error) {
	if err == nil {
		return
	}
	r.metrics.RecordEventWriteError(event)
	r.logger.Warn("session event write failed", "event", event, "session_id", sessionID, "err", err)
}
