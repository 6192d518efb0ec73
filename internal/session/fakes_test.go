package session

import (
	"context"
	"sync"
	"time"

	"interview-agent/internal/domain"
	"interview-agent/internal/presence"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeConversation struct {
	mu         sync.Mutex
	said       []string
	begun      []string
	replies    []string
	interrupts int
	replyErr   error
	sayBlock   chan struct{}
}

func (f *fakeConversation) Say(_ context.Context, text string, _ presence.SayOptions) error {
	if f.sayBlock != nil {
		<-f.sayBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, text)
	return nil
}

func (f *fakeConversation) BeginStage(_ context.Context, st domain.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, st.Key)
	return nil
}

func (f *fakeConversation) GenerateReply(_ context.Context, instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, instructions)
	return f.replyErr
}

func (f *fakeConversation) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
}

func (f *fakeConversation) Said() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

func (f *fakeConversation) Begun() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.begun...)
}

func (f *fakeConversation) Replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

type recordedStage struct {
	key    string
	items  []domain.ChatItem
	start  time.Time
	end    time.Time
	reason string
}

type fakeTranscripts struct {
	mu          sync.Mutex
	stages      []recordedStage
	finalized   []string
	finalizeErr error
	block       chan struct{}
	// recordedAtFinalize is len(stages) at each Finalize call.
	recordedAtFinalize []int
}

func (f *fakeTranscripts) RecordStage(_ context.Context, st domain.Stage, items []domain.ChatItem, start, end time.Time, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, recordedStage{key: st.Key, items: items, start: start, end: end, reason: reason})
}

func (f *fakeTranscripts) Finalize(_ context.Context, endReason string, _ int, _ time.Duration) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, endReason)
	f.recordedAtFinalize = append(f.recordedAtFinalize, len(f.stages))
	if f.finalizeErr != nil {
		return "", f.finalizeErr
	}
	return "s3://bucket/full_transcript.json", nil
}

func (f *fakeTranscripts) Stages() []recordedStage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedStage(nil), f.stages...)
}

func (f *fakeTranscripts) RecordedAtFinalize() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.recordedAtFinalize...)
}

func (f *fakeTranscripts) Finalized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finalized...)
}

type fakeRoom struct {
	mu      sync.Mutex
	deletes int
	err     error
}

func (f *fakeRoom) Delete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.err
}

func (f *fakeRoom) Deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

type completion struct {
	sessionID string
	reason    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []completion
	err   error
}

func (f *fakeNotifier) CompleteSession(_ context.Context, sessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, completion{sessionID: sessionID, reason: reason})
	return f.err
}

func (f *fakeNotifier) Calls() []completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completion(nil), f.calls...)
}

type transition struct {
	from, to string
	took     time.Duration
}

type fakeTelemetry struct {
	mu          sync.Mutex
	started     int
	transitions []transition
	ended       []domain.SessionSummary
}

func (f *fakeTelemetry) SessionStarted(context.Context, domain.SessionInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeTelemetry) StageTransition(_ context.Context, _ domain.SessionInfo, from, to string, took time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, transition{from: from, to: to, took: took})
}

func (f *fakeTelemetry) SessionEnded(_ context.Context, s domain.SessionSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, s)
}

func (f *fakeTelemetry) Ended() []domain.SessionSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionSummary(nil), f.ended...)
}

type fakePresence struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakePresence) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakePresence) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}
