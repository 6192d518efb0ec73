// Package session drives one interview session through its stages and owns
// the single ending protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"interview-agent/internal/domain"
	"interview-agent/internal/presence"
	"interview-agent/internal/stage"
)

const (
	ReasonTimeLimit       = "force_time_limit_exceeded"
	ReasonShutdown        = "job_shutdown"
	ReasonParticipantLost = "participant_inactive"

	DefaultFinalizeRetries    = 3
	DefaultFinalizeRetryDelay = 2 * time.Second

	timeLimitPrefix = "In order to finish the interview in a timely manner, "
)

var (
	// ErrSessionEnding is returned once the ending protocol has been claimed.
	ErrSessionEnding = errors.New("session: ending in progress")
	ErrNotStarted    = errors.New("session: not started")
)

// State is the orchestrator lifecycle position.
type State int

const (
	StateInitializing State = iota
	StateStageActive
	StateTransitioning
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStageActive:
		return "stage_active"
	case StateTransitioning:
		return "transitioning"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// StageComplete signals that the current stage is done. Items is the live
// conversation; when nil the last observed snapshot is used.
type StageComplete struct {
	Reason            string
	TransitionMessage string
	Items             []domain.ChatItem
}

// Conversation is the voice runtime hosting the session.
type Conversation interface {
	presence.Speaker
	// BeginStage applies the stage instructions and lets the agent speak first.
	BeginStage(ctx context.Context, st domain.Stage) error
	GenerateReply(ctx context.Context, instructions string) error
	Interrupt()
}

type Transcripts interface {
	RecordStage(ctx context.Context, st domain.Stage, items []domain.ChatItem, start, end time.Time, reason string)
	Finalize(ctx context.Context, endReason string, maxRetries int, retryDelay time.Duration) (string, error)
}

type Presence interface {
	Start(ctx context.Context)
	Stop()
}

// Room tears down the transport once the session is over.
type Room interface {
	Delete(ctx context.Context) error
}

// Notifier tells the platform the session is complete.
type Notifier interface {
	CompleteSession(ctx context.Context, sessionID, endReason string) error
}

type Telemetry interface {
	SessionStarted(ctx context.Context, info domain.SessionInfo)
	StageTransition(ctx context.Context, info domain.SessionInfo, from, to string, took time.Duration)
	SessionEnded(ctx context.Context, summary domain.SessionSummary)
}

// Config carries per-session settings.
type Config struct {
	Info               domain.SessionInfo
	FinalizeRetries    int
	FinalizeRetryDelay time.Duration
}

// Deps are the collaborators of one Orchestrator. Sequencer, Conversation and
// Transcripts are required.
type Deps struct {
	Sequencer    *stage.Sequencer
	Conversation Conversation
	Transcripts  Transcripts
	Presence     Presence
	Room         Room
	Notifier     Notifier
	Telemetry    Telemetry
	Logger       *slog.Logger
	Now          func() time.Time
}

// Orchestrator is safe for concurrent use. Stage transitions and the ending
// protocol are serialized by one context-aware lock, and the ending protocol
// runs at most once.
type Orchestrator struct {
	cfg          Config
	seq          *stage.Sequencer
	conv         Conversation
	transcripts  Transcripts
	presence     Presence
	room         Room
	notifier     Notifier
	telemetry    Telemetry
	logger       *slog.Logger
	now          func() time.Time
	transition   *semaphore.Weighted

	mu             sync.Mutex
	state          State
	sessionStart   time.Time
	stageStart     time.Time
	completed      int
	farewellSpoken bool

	ending atomic.Bool
	done   chan struct{}
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Sequencer == nil {
		return nil, errors.New("session: sequencer must not be nil")
	}
	if deps.Conversation == nil {
		return nil, errors.New("session: conversation must not be nil")
	}
	if deps.Transcripts == nil {
		return nil, errors.New("session: transcripts must not be nil")
	}
	if cfg.FinalizeRetries <= 0 {
		cfg.FinalizeRetries = DefaultFinalizeRetries
	}
	if cfg.FinalizeRetryDelay <= 0 {
		cfg.FinalizeRetryDelay = DefaultFinalizeRetryDelay
	}
	o := &Orchestrator{
		cfg:         cfg,
		seq:         deps.Sequencer,
		conv:        deps.Conversation,
		transcripts: deps.Transcripts,
		presence:    deps.Presence,
		room:        deps.Room,
		notifier:    deps.Notifier,
		telemetry:   deps.Telemetry,
		logger:      deps.Logger,
		now:         deps.Now,
		transition:  semaphore.NewWeighted(1),
		done:        make(chan struct{}),
	}
	if o.presence == nil {
		o.presence = noopPresence{}
	}
	if o.telemetry == nil {
		o.telemetry = noopTelemetry{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("session_id", cfg.Info.SessionID)
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Start enters the first stage, begins presence monitoring and asks the
// conversation to open the stage.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.seq.Start() {
		return stage.ErrNoStages
	}
	st, _ := o.seq.Current()

	o.mu.Lock()
	if o.state != StateInitializing {
		o.mu.Unlock()
		return fmt.Errorf("session: Start: already %s", o.state)
	}
	now := o.now()
	o.sessionStart = now
	o.stageStart = now
	o.state = StateStageActive
	o.mu.Unlock()

	o.logger.Info("session started", "stage", st.Key, "stages", o.seq.Len())
	o.telemetry.SessionStarted(ctx, o.cfg.Info)
	o.presence.Start(ctx)
	if err := o.conv.BeginStage(ctx, st); err != nil {
		return fmt.Errorf("session: Start: %w", err)
	}
	return nil
}

// OnTurn records the latest conversation snapshot and enforces the stage time
// limit. It reports whether the stage was cut short.
func (o *Orchestrator) OnTurn(ctx context.Context, snap domain.Snapshot) (bool, error) {
	if o.ending.Load() {
		return false, nil
	}
	o.seq.SetSnapshot(snap)

	o.mu.Lock()
	if o.state != StateStageActive {
		o.mu.Unlock()
		return false, nil
	}
	elapsed := o.now().Sub(o.stageStart).Truncate(time.Second)
	o.mu.Unlock()

	st, ok := o.seq.Current()
	if !ok {
		return false, nil
	}
	limit := st.TimeLimit()
	o.logger.Debug("stage turn",
		"stage", st.Key,
		"position", o.seq.Index()+1,
		"stages", o.seq.Len(),
		"elapsed_seconds", int64(elapsed.Seconds()),
		"limit_seconds", int64(limit.Seconds()),
	)
	if elapsed < limit {
		return false, nil
	}

	msg := stage.TransitionMessage(st, o.seq.Index(), o.seq.Len())
	o.logger.Warn("stage time limit exceeded", "stage", st.Key, "transition_message", msg)
	if err := o.CompleteStage(ctx, StageComplete{Reason: ReasonTimeLimit, TransitionMessage: msg}); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteStage persists the current stage and either advances or ends the
// session when it was the last one.
func (o *Orchestrator) CompleteStage(ctx context.Context, sig StageComplete) error {
	if err := o.transition.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("session: CompleteStage: %w", err)
	}
	defer o.transition.Release(1)

	if o.ending.Load() {
		return ErrSessionEnding
	}
	o.mu.Lock()
	switch o.state {
	case StateStageActive:
	case StateInitializing:
		o.mu.Unlock()
		return ErrNotStarted
	default:
		o.mu.Unlock()
		return ErrSessionEnding
	}
	o.state = StateTransitioning
	start := o.stageStart
	o.mu.Unlock()

	reason := sig.Reason
	if reason == "" {
		reason = domain.EndReasonCompleted
	}
	st, _ := o.seq.Current()
	if reason == ReasonTimeLimit && sig.TransitionMessage != "" {
		if err := o.conv.Say(ctx, timeLimitPrefix+sig.TransitionMessage, presence.SayOptions{AddToContext: true}); err != nil {
			o.logger.Error("time limit message failed", "stage", st.Key, "err", err)
		} else if sig.TransitionMessage == stage.MsgFarewell {
			o.mu.Lock()
			o.farewellSpoken = true
			o.mu.Unlock()
		}
	}

	items := sig.Items
	if items == nil {
		items = o.seq.Snapshot().Items()
	}
	end := o.now()
	o.logger.Info("stage completed", "stage", st.Key, "reason", reason)
	o.transcripts.RecordStage(ctx, st, items, start, end, reason)

	o.mu.Lock()
	o.completed++
	o.mu.Unlock()

	if o.seq.IsLast() {
		err := o.end(ctx, reason, endOptions{farewell: true})
		o.seq.Advance()
		return err
	}

	o.seq.Advance()
	o.seq.SetSnapshot(domain.NewSnapshot(nil, end))
	next, _ := o.seq.Current()
	o.mu.Lock()
	if o.state != StateTransitioning {
		o.mu.Unlock()
		return ErrSessionEnding
	}
	o.stageStart = o.now()
	o.state = StateStageActive
	o.mu.Unlock()

	o.telemetry.StageTransition(ctx, o.cfg.Info, st.Key, next.Key, end.Sub(start))
	if err := o.conv.BeginStage(ctx, next); err != nil {
		o.logger.Error("begin stage failed", "stage", next.Key, "err", err)
		return fmt.Errorf("session: CompleteStage: %w", err)
	}
	return nil
}

// Shutdown is the hosting runtime's teardown hook. It waits for an in-flight
// stage transition, rebuilds the current stage from the last snapshot, runs
// the ending protocol and returns once the session has ended or ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.presence.Stop()
	if o.ending.Load() {
		return o.Wait(ctx)
	}
	if err := o.transition.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("session: Shutdown: %w", err)
	}
	err := o.end(ctx, ReasonShutdown, endOptions{recordCurrent: true, farewell: true})
	o.transition.Release(1)
	if errors.Is(err, ErrSessionEnding) {
		return o.Wait(ctx)
	}
	return err
}

// OnParticipantLost ends the session after presence gave up. The presence
// farewell already ran, so no closing goodbye is spoken.
func (o *Orchestrator) OnParticipantLost(ctx context.Context) {
	o.logger.Warn("participant lost, ending session")
	if o.ending.Load() {
		return
	}
	if err := o.transition.Acquire(ctx, 1); err != nil {
		o.logger.Error("ending after participant loss failed", "err", err)
		return
	}
	defer o.transition.Release(1)
	if err := o.end(ctx, ReasonParticipantLost, endOptions{recordCurrent: true}); err != nil && !errors.Is(err, ErrSessionEnding) {
		o.logger.Error("ending after participant loss failed", "err", err)
	}
}

// Wait blocks until the ending protocol has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the ending protocol has finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CompletedStages counts stages that reached CompleteStage.
func (o *Orchestrator) CompletedStages() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed
}

type endOptions struct {
	recordCurrent bool
	farewell      bool
}

// end claims the ending flag and runs every step of the ending protocol. A
// failing step is logged and the remaining steps still run. Callers hold the
// transition lock.
func (o *Orchestrator) end(ctx context.Context, reason string, opts endOptions) error {
	if !o.ending.CompareAndSwap(false, true) {
		o.logger.Debug("session already ending", "reason", reason)
		return ErrSessionEnding
	}
	defer close(o.done)

	o.mu.Lock()
	prev := o.state
	o.state = StateEnding
	start := o.stageStart
	sessionStart := o.sessionStart
	o.mu.Unlock()

	o.logger.Info("ending session", "reason", reason, "from_state", prev.String())
	o.presence.Stop()

	if opts.recordCurrent && prev == StateStageActive {
		if st, ok := o.seq.Current(); ok {
			snap := o.seq.Snapshot()
			o.logger.Info("recording current stage from snapshot", "stage", st.Key, "items", snap.Len())
			o.transcripts.RecordStage(ctx, st, snap.Items(), start, o.now(), reason)
		}
	}

	loc, err := o.transcripts.Finalize(ctx, reason, o.cfg.FinalizeRetries, o.cfg.FinalizeRetryDelay)
	if err != nil {
		o.logger.Error("finalize transcript failed", "reason", reason, "err", err)
	}

	o.mu.Lock()
	completed := o.completed
	spoken := o.farewellSpoken
	o.mu.Unlock()

	var duration time.Duration
	if !sessionStart.IsZero() {
		duration = o.now().Sub(sessionStart)
	}
	o.telemetry.SessionEnded(ctx, domain.SessionSummary{
		SessionID:          o.cfg.Info.SessionID,
		TenantID:           o.cfg.Info.TenantID,
		ParticipantName:    participantOrUnknown(o.cfg.Info.ParticipantName),
		RoomName:           o.cfg.Info.RoomName,
		Duration:           duration,
		CompletedStages:    completed,
		TotalStages:        o.seq.Len(),
		EndReason:          reason,
		TranscriptLocation: loc,
	})

	if o.notifier != nil {
		if err := o.notifier.CompleteSession(ctx, o.cfg.Info.SessionID, reason); err != nil {
			o.logger.Error("mark session complete failed", "reason", reason, "err", err)
		}
	}

	if opts.farewell && !spoken {
		o.conv.Interrupt()
		instructions := "say goodbye to " + participantOrUnknown(o.cfg.Info.ParticipantName)
		if err := o.conv.GenerateReply(ctx, instructions); err != nil {
			o.logger.Error("closing goodbye failed", "err", err)
		}
	}

	if o.room != nil {
		if err := o.room.Delete(ctx); err != nil {
			o.logger.Error("delete room failed", "room", o.cfg.Info.RoomName, "err", err)
		}
	}

	o.mu.Lock()
	o.state = StateEnded
	o.mu.Unlock()
	o.logger.Info("session ended", "reason", reason, "completed_stages", completed, "transcript", loc)
	return nil
}

func participantOrUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

type noopPresence struct{}

func (noopPresence) Start(context.Context) {}
func (noopPresence) Stop()                 {}

type noopTelemetry struct{}

func (noopTelemetry) SessionStarted(context.Context, domain.SessionInfo) {}
func (noopTelemetry) StageTransition(context.Context, domain.SessionInfo, string, string, time.Duration) {
}
func (noopTelemetry) SessionEnded(context.Context, domain.SessionSummary) {}
