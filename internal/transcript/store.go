// Package transcript accumulates per-stage conversation records and persists
// them, together with the aggregate session record, to a RemoteStore.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"interview-agent/internal/domain"
	"interview-agent/internal/storage"
)

const (
	defaultAgentName         = "Quinn"
	agentType                = "interview-agent"
	recordVersion            = "1.0"
	defaultBackgroundTimeout = 30 * time.Second
)

// Store keeps at most one record per stage key. The in-memory record is
// overwritten on every RecordStage. Durable writes of one key are serialized
// and a write whose version has been superseded is dropped, so an older
// record never overwrites a newer one.
type Store struct {
	remote    storage.RemoteStore
	layout    storage.Layout
	info      domain.SessionInfo
	agentName string
	logger    *slog.Logger
	now       func() time.Time
	bgTimeout time.Duration
	startedAt time.Time

	mu        sync.Mutex
	records   map[string]domain.StageRecord
	order     []string
	versions  map[string]int
	persisted map[string]int
	mutations int
	inflight  map[string]time.Time
	keyLocks  map[string]*sync.Mutex
	aggregate finalized

	wg sync.WaitGroup
}

type finalized struct {
	mutations int
	location  string
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAgentName sets the speaker name used for agent messages.
func WithAgentName(name string) Option {
	return func(s *Store) {
		if name = strings.TrimSpace(name); name != "" {
			s.agentName = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackgroundTimeout bounds each fire-and-forget stage write.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.bgTimeout = d
		}
	}
}

// New creates a Store for one session. The session start time is taken from
// the store clock at construction.
func New(remote storage.RemoteStore, info domain.SessionInfo, opts ...Option) (*Store, error) {
	if remote == nil {
		return nil, errors.New("transcript: remote store must not be nil")
	}
	if strings.TrimSpace(info.SessionID) == "" {
		return nil, errors.New("transcript: session id must not be empty")
	}
	s := &Store{
		remote:    remote,
		layout:    storage.Layout{Tenant: info.TenantID, Session: info.SessionID},
		info:      info,
		agentName: defaultAgentName,
		logger:    slog.Default(),
		now:       time.Now,
		bgTimeout: defaultBackgroundTimeout,
		records:   make(map[string]domain.StageRecord),
		versions:  make(map[string]int),
		persisted: make(map[string]int),
		inflight:  make(map[string]time.Time),
		keyLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s, nil
}

// RecordStage stores the record for st, replacing any earlier record with the
// same key, and schedules a background durable write. It never blocks on I/O
// and never fails; write errors are logged.
func (s *Store) RecordStage(ctx context.Context, st domain.Stage, items []domain.ChatItem, start, end time.Time, reason string) {
	rec := s.buildStageRecord(st, items, start, end, reason)

	s.mu.Lock()
	if _, seen := s.records[st.Key]; !seen {
		s.order = append(s.order, st.Key)
	}
	s.records[st.Key] = rec
	s.versions[st.Key]++
	version := s.versions[st.Key]
	s.mutations++
	s.mu.Unlock()

	s.logger.Info("stage transcript recorded", "stage", st.Key, "messages", rec.MessageCount, "reason", rec.EndReason)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.bgTimeout)
		defer cancel()
		s.persistStage(bg, st.Key, rec, version)
	}()
}

func (s *Store) persistStage(ctx context.Context, key string, rec domain.StageRecord, version int) {
	unlock := s.lockKey(key)
	defer unlock()

	if s.isPersisted(key, version) {
		s.logger.Debug("stage transcript already stored, skipping background write", "stage", key)
		return
	}
	if s.isSuperseded(key, version) {
		s.logger.Debug("stage transcript superseded, skipping background write", "stage", key, "version", version)
		return
	}
	task := fmt.Sprintf("%s#%d", key, version)
	s.track(task)
	defer s.untrack(task)

	body, err := marshal(rec)
	if err != nil {
		s.logger.Warn("stage transcript encode failed", "stage", key, "err", err)
		return
	}
	loc, err := s.remote.Put(ctx, s.layout.StageKey(key), body)
	if err != nil {
		s.logger.Warn("stage transcript background write failed", "stage", key, "err", err)
		return
	}
	s.markPersisted(key, version)
	s.logger.Debug("stage transcript stored", "stage", key, "location", loc)
}

// Finalize makes sure every recorded stage is durably written, retrying each
// up to maxRetries times with retryDelay in between, then writes the aggregate
// record with the same policy. A stage that exhausts its retries is logged and
// skipped. It returns the aggregate location, or "" with an error when the
// aggregate could not be written.
//
// Finalize must not run concurrently with itself. Calling it again is safe:
// confirmed stage writes are skipped and, when nothing was recorded since, the
// earlier aggregate location is returned without another write.
func (s *Store) Finalize(ctx context.Context, endReason string, maxRetries int, retryDelay time.Duration) (string, error) {
	pending := s.pendingStages()
	if len(pending) > 0 {
		s.logger.Info("ensuring stage transcripts are stored", "pending", len(pending))
	}
	for _, key := range pending {
		s.ensureStage(ctx, key, maxRetries, retryDelay)
	}

	s.mu.Lock()
	if s.aggregate.location != "" && s.aggregate.mutations == s.mutations {
		loc := s.aggregate.location
		s.mu.Unlock()
		s.logger.Debug("full transcript already stored", "location", loc)
		return loc, nil
	}
	mutations := s.mutations
	s.mu.Unlock()

	full := s.BuildInterviewRecord(endReason)
	body, err := marshal(full)
	if err != nil {
		return "", fmt.Errorf("transcript: Finalize encode: %w", err)
	}
	loc, err := putWithRetry(ctx, s.logger, s.remote, s.layout.AggregateKey(), body, maxRetries, retryDelay)
	if err != nil {
		s.logger.Error("full transcript not stored after retries", "attempts", attempts(maxRetries), "err", err)
		return "", fmt.Errorf("transcript: Finalize: %w", err)
	}

	s.mu.Lock()
	s.aggregate = finalized{mutations: mutations, location: loc}
	s.mu.Unlock()

	s.logger.Info("full transcript stored",
		"location", loc,
		"duration_seconds", full.DurationSeconds,
		"stages", full.TotalStages,
		"total_messages", full.TotalMessages,
	)
	return loc, nil
}

// ensureStage writes the latest record of key unless a background write
// already stored it.
func (s *Store) ensureStage(ctx context.Context, key string, maxRetries int, retryDelay time.Duration) {
	unlock := s.lockKey(key)
	defer unlock()

	s.mu.Lock()
	version := s.versions[key]
	rec := s.records[key]
	done := s.persisted[key] >= version
	s.mu.Unlock()
	if done {
		return
	}

	body, err := marshal(rec)
	if err != nil {
		s.logger.Error("stage transcript encode failed", "stage", key, "err", err)
		return
	}
	if _, err := putWithRetry(ctx, s.logger, s.remote, s.layout.StageKey(key), body, maxRetries, retryDelay); err != nil {
		s.logger.Error("stage transcript not stored after retries", "stage", key, "attempts", attempts(maxRetries), "err", err)
		return
	}
	s.markPersisted(key, version)
}

// BuildInterviewRecord assembles the aggregate from the recorded stages in
// first-recorded order.
func (s *Store) BuildInterviewRecord(endReason string) domain.InterviewRecord {
	end := s.now()
	stages := s.Records()
	total := 0
	for _, r := range stages {
		total += r.MessageCount
	}
	return domain.InterviewRecord{
		SessionID:        s.info.SessionID,
		TenantID:         s.info.TenantID,
		ParticipantName:  s.info.ParticipantName,
		RoomName:         s.info.RoomName,
		SessionStartTime: s.startedAt.Unix(),
		SessionEndTime:   end.Unix(),
		DurationSeconds:  wholeSeconds(end.Sub(s.startedAt)),
		TotalMessages:    total,
		TotalStages:      len(stages),
		CompletedStages:  len(stages),
		EndReason:        endReasonOrDefault(endReason),
		AgentName:        s.agentName,
		AgentType:        agentType,
		Stages:           stages,
		StoredAt:         end.Unix(),
		Version:          recordVersion,
	}
}

// Records returns the current stage records in first-recorded order.
func (s *Store) Records() []domain.StageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StageRecord, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.records[k])
	}
	return out
}

// InFlight lists background writes that have not finished, as key#version.
func (s *Store) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.inflight))
	for k := range s.inflight {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Wait blocks until background writes finish or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pendingStages lists keys whose latest version is not confirmed stored.
func (s *Store) pendingStages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, k := range s.order {
		if s.persisted[k] < s.versions[k] {
			out = append(out, k)
		}
	}
	return out
}

func (s *Store) isPersisted(key string, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted[key] >= version
}

func (s *Store) isSuperseded(key string, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[key] > version
}

// lockKey serializes durable writes of one stage key.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) markPersisted(key string, version int) {
	s.mu.Lock()
	if s.persisted[key] < version {
		s.persisted[key] = version
	}
	s.mu.Unlock()
}

func (s *Store) track(task string) {
	s.mu.Lock()
	s.inflight[task] = s.now()
	s.mu.Unlock()
}

func (s *Store) untrack(task string) {
	s.mu.Lock()
	delete(s.inflight, task)
	s.mu.Unlock()
}

func (s *Store) buildStageRecord(st domain.Stage, items []domain.ChatItem, start, end time.Time, reason string) domain.StageRecord {
	now := s.now()
	msgs := s.extractMessages(items, now.Unix())
	meta := make(map[string]any, len(st.Metadata))
	for k, v := range st.Metadata {
		meta[k] = v
	}
	return domain.StageRecord{
		StageKey:        st.Key,
		StageName:       st.Name,
		StageStartTime:  start.Unix(),
		StageEndTime:    end.Unix(),
		DurationSeconds: wholeSeconds(end.Sub(start)),
		EndReason:       endReasonOrDefault(reason),
		MessageCount:    len(msgs),
		Metadata:        meta,
		Messages:        msgs,
		Session:         s.info,
		GeneratedAt:     now.Unix(),
	}
}

// extractMessages keeps message items only and maps chat roles to speakers.
func (s *Store) extractMessages(items []domain.ChatItem, ts int64) []domain.Message {
	msgs := make([]domain.Message, 0, len(items))
	for _, it := range items {
		if it.Kind != domain.ChatItemMessage {
			continue
		}
		role, name := s.speaker(it.Role)
		msgs = append(msgs, domain.Message{
			SequenceID:  len(msgs) + 1,
			SpeakerRole: role,
			SpeakerName: name,
			Content:     it.Content,
			Timestamp:   ts,
		})
	}
	return msgs
}

func (s *Store) speaker(chatRole string) (role, name string) {
	switch chatRole {
	case domain.RoleAssistant:
		return domain.SpeakerAgent, s.agentName
	case domain.RoleUser:
		return domain.SpeakerParticipant, s.info.ParticipantName
	default:
		label := strings.ToLower(strings.TrimSpace(chatRole))
		if label == "" {
			return domain.SpeakerOther, "Other"
		}
		return domain.SpeakerOther, strings.ToUpper(label[:1]) + label[1:]
	}
}

func marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func wholeSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func endReasonOrDefault(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return domain.EndReasonCompleted
	}
	return reason
}
