package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interview-agent/internal/domain"
)

type fakeRemote struct {
	mu       sync.Mutex
	puts     map[string][][]byte
	failures map[string]int
	failAll  bool
	block    chan struct{}
	// holdNext, when set, holds back the next Put until it is closed.
	holdNext chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{puts: make(map[string][][]byte), failures: make(map[string]int)}
}

func (f *fakeRemote) Put(ctx context.Context, key string, body []byte) (string, error) {
	f.mu.Lock()
	hold := f.holdNext
	f.holdNext = nil
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errors.New("storage unavailable")
	}
	if n := f.failures[key]; n > 0 {
		f.failures[key] = n - 1
		return "", fmt.Errorf("transient failure for %s", key)
	}
	f.puts[key] = append(f.puts[key], body)
	return "mem://" + key, nil
}

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.puts[key]
	if len(b) == 0 {
		return nil, errors.New("not found")
	}
	return b[len(b)-1], nil
}

func (f *fakeRemote) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts[key])
}

func (f *fakeRemote) setFailAll(v bool) {
	f.mu.Lock()
	f.failAll = v
	f.mu.Unlock()
}

var testInfo = domain.SessionInfo{SessionID: "42", TenantID: "acme", ParticipantName: "Ada", RoomName: "interview-42"}

func newTestStore(t *testing.T, remote *fakeRemote, opts ...Option) *Store {
	t.Helper()
	s, err := New(remote, testInfo, opts...)
	require.NoError(t, err)
	return s
}

func messages(n int) []domain.ChatItem {
	items := make([]domain.ChatItem, 0, n)
	for i := 0; i < n; i++ {
		role := domain.RoleAssistant
		if i%2 == 1 {
			role = domain.RoleUser
		}
		items = append(items, domain.ChatItem{Kind: domain.ChatItemMessage, Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	return items
}

func waitBackground(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func decodeStage(t *testing.T, b []byte) domain.StageRecord {
	t.Helper()
	var r domain.StageRecord
	require.NoError(t, json.Unmarshal(b, &r))
	return r
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testInfo)
	require.ErrorContains(t, err, "must not be nil")
	_, err = New(newFakeRemote(), domain.SessionInfo{})
	require.ErrorContains(t, err, "session id")
}

func TestRecordStage_BuildsRecord(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(t, remote, WithAgentName("Quinn"))
	start := time.Unix(1000, 0)
	end := start.Add(90*time.Second + 900*time.Millisecond)
	items := []domain.ChatItem{
		{Kind: domain.ChatItemMessage, Role: domain.RoleAssistant, Content: "Welcome"},
		{Kind: "function_call", Role: domain.RoleAssistant, Content: "session_end"},
		{Kind: domain.ChatItemMessage, Role: domain.RoleUser, Content: "Hi"},
		{Kind: domain.ChatItemMessage, Role: "tool", Content: "ok"},
	}
	st := domain.Stage{Key: "intro", Name: "Introduction", Metadata: map[string]any{"time_limit": float64(120)}}

	s.RecordStage(context.Background(), st, items, start, end, "")
	waitBackground(t, s)

	require.Equal(t, 1, remote.count("acme/42/stage_intro.json"))
	rec := decodeStage(t, remote.puts["acme/42/stage_intro.json"][0])
	require.Equal(t, "intro", rec.StageKey)
	require.Equal(t, int64(90), rec.DurationSeconds, "duration truncates to whole seconds")
	require.Equal(t, domain.EndReasonCompleted, rec.EndReason)
	require.Equal(t, 3, rec.MessageCount)
	require.Equal(t, domain.SpeakerAgent, rec.Messages[0].SpeakerRole)
	require.Equal(t, "Quinn", rec.Messages[0].SpeakerName)
	require.Equal(t, domain.SpeakerParticipant, rec.Messages[1].SpeakerRole)
	require.Equal(t, "Ada", rec.Messages[1].SpeakerName)
	require.Equal(t, domain.SpeakerOther, rec.Messages[2].SpeakerRole)
	require.Equal(t, "Tool", rec.Messages[2].SpeakerName)
	require.Equal(t, 3, rec.Messages[2].SequenceID)
	require.Equal(t, "interview-42", rec.Session.RoomName)
}

func TestRecordStage_EmptyMessages(t *testing.T) {
	s := newTestStore(t, newFakeRemote())
	s.RecordStage(context.Background(), domain.Stage{Key: "q1"}, nil, time.Now(), time.Now(), "timeout")
	waitBackground(t, s)
	recs := s.Records()
	require.Len(t, recs, 1)
	require.Equal(t, 0, recs[0].MessageCount)
	require.Empty(t, recs[0].Messages)
}

func TestRecordStage_SameKeyOverwrites(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(t, remote)
	st := domain.Stage{Key: "q1", Name: "Question"}

	s.RecordStage(context.Background(), st, messages(2), time.Now(), time.Now(), "first")
	waitBackground(t, s)
	s.RecordStage(context.Background(), st, messages(4), time.Now(), time.Now(), "second")
	waitBackground(t, s)

	recs := s.Records()
	require.Len(t, recs, 1)
	require.Equal(t, "second", recs[0].EndReason)
	require.Equal(t, 4, recs[0].MessageCount)

	full := s.BuildInterviewRecord("")
	require.Equal(t, 1, full.TotalStages)
	require.Equal(t, 4, full.TotalMessages)

	latest, err := remote.Get(context.Background(), "acme/42/stage_q1.json")
	require.NoError(t, err)
	require.Equal(t, "second", decodeStage(t, latest).EndReason, "latest content is the durable one")
}

func TestRecordStage_SlowEarlierWriteDoesNotOverwriteNewer(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	remote.holdNext = release
	s := newTestStore(t, remote)
	st := domain.Stage{Key: "q1", Name: "Question"}

	s.RecordStage(context.Background(), st, messages(1), time.Now(), time.Now(), "first")
	require.Eventually(t, func() bool {
		return len(s.InFlight()) == 1
	}, time.Second, 5*time.Millisecond)
	s.RecordStage(context.Background(), st, messages(3), time.Now(), time.Now(), "second")

	close(release)
	waitBackground(t, s)
	_, err := s.Finalize(context.Background(), "completed", 1, time.Millisecond)
	require.NoError(t, err)

	latest, err := remote.Get(context.Background(), "acme/42/stage_q1.json")
	require.NoError(t, err)
	rec := decodeStage(t, latest)
	require.Equal(t, "second", rec.EndReason)
	require.Equal(t, 3, rec.MessageCount)
}

func TestRecordStage_BackgroundFailureIsContained(t *testing.T) {
	remote := newFakeRemote()
	remote.failAll = true
	s := newTestStore(t, remote)
	s.RecordStage(context.Background(), domain.Stage{Key: "intro"}, messages(1), time.Now(), time.Now(), "")
	waitBackground(t, s)
	require.Len(t, s.Records(), 1)
	require.Equal(t, 0, remote.count("acme/42/stage_intro.json"))
}

func TestRecordStage_TracksInFlight(t *testing.T) {
	remote := newFakeRemote()
	remote.block = make(chan struct{})
	s := newTestStore(t, remote)
	s.RecordStage(context.Background(), domain.Stage{Key: "intro"}, nil, time.Now(), time.Now(), "")

	require.Eventually(t, func() bool {
		return len(s.InFlight()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"intro#1"}, s.InFlight())

	close(remote.block)
	waitBackground(t, s)
	require.Empty(t, s.InFlight())
}

func TestFinalize_AggregatesTotals(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(t, remote)
	for i, n := range []int{5, 0, 3} {
		s.RecordStage(context.Background(), domain.Stage{Key: fmt.Sprintf("s%d", i)}, messages(n), time.Now(), time.Now(), "")
	}
	waitBackground(t, s)

	loc, err := s.Finalize(context.Background(), "completed", 3, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "mem://acme/42/full_transcript.json", loc)

	var full domain.InterviewRecord
	require.NoError(t, json.Unmarshal(remote.puts["acme/42/full_transcript.json"][0], &full))
	require.Equal(t, 8, full.TotalMessages)
	require.Equal(t, 3, full.TotalStages)
	require.Equal(t, "completed", full.EndReason)
	require.Equal(t, "1.0", full.Version)
	require.Equal(t, []string{"s0", "s1", "s2"}, []string{full.Stages[0].StageKey, full.Stages[1].StageKey, full.Stages[2].StageKey})
}

func TestFinalize_RetriesUnpersistedStages(t *testing.T) {
	remote := newFakeRemote()
	remote.failAll = true
	s := newTestStore(t, remote)
	s.RecordStage(context.Background(), domain.Stage{Key: "intro"}, messages(2), time.Now(), time.Now(), "")
	waitBackground(t, s)

	remote.setFailAll(false)
	remote.failures["acme/42/stage_intro.json"] = 2

	loc, err := s.Finalize(context.Background(), "", 3, time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, loc)
	require.Equal(t, 1, remote.count("acme/42/stage_intro.json"))
	require.Equal(t, 1, remote.count("acme/42/full_transcript.json"))
}

func TestFinalize_StageRetriesExhaustedStillWritesAggregate(t *testing.T) {
	remote := newFakeRemote()
	remote.failAll = true
	s := newTestStore(t, remote)
	s.RecordStage(context.Background(), domain.Stage{Key: "intro"}, messages(1), time.Now(), time.Now(), "")
	waitBackground(t, s)

	remote.setFailAll(false)
	remote.failures["acme/42/stage_intro.json"] = 10

	loc, err := s.Finalize(context.Background(), "", 3, time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, loc)
	require.Equal(t, 0, remote.count("acme/42/stage_intro.json"))
	require.Equal(t, 7, remote.failures["acme/42/stage_intro.json"], "exactly three attempts")
}

func TestFinalize_AggregateFailureReturnsEmpty(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(t, remote)
	remote.failures["acme/42/full_transcript.json"] = 5

	loc, err := s.Finalize(context.Background(), "", 2, time.Millisecond)
	require.Error(t, err)
	require.Empty(t, loc)
	require.Equal(t, 3, remote.failures["acme/42/full_transcript.json"])
}

func TestFinalize_Idempotent(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(t, remote)
	s.RecordStage(context.Background(), domain.Stage{Key: "intro"}, messages(2), time.Now(), time.Now(), "")
	waitBackground(t, s)

	first, err := s.Finalize(context.Background(), "completed", 3, time.Millisecond)
	require.NoError(t, err)
	second, err := s.Finalize(context.Background(), "completed", 3, time.Millisecond)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, remote.count("acme/42/stage_intro.json"))
	require.Equal(t, 1, remote.count("acme/42/full_transcript.json"))
}

func TestFinalize_RewritesAggregateAfterNewRecord(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(t, remote)
	_, err := s.Finalize(context.Background(), "job_shutdown", 1, time.Millisecond)
	require.NoError(t, err)

	s.RecordStage(context.Background(), domain.Stage{Key: "intro"}, messages(1), time.Now(), time.Now(), "")
	waitBackground(t, s)
	_, err = s.Finalize(context.Background(), "job_shutdown", 1, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 2, remote.count("acme/42/full_transcript.json"))
}

func TestBuildInterviewRecord_Durations(t *testing.T) {
	now := time.Unix(5000, 0)
	clock := func() time.Time { return now }
	s := newTestStore(t, newFakeRemote(), WithClock(clock))
	now = now.Add(125*time.Second + 700*time.Millisecond)

	full := s.BuildInterviewRecord("participant_lost")
	require.Equal(t, int64(5000), full.SessionStartTime)
	require.Equal(t, int64(125), full.DurationSeconds)
	require.Equal(t, "participant_lost", full.EndReason)
	require.Equal(t, 0, full.TotalStages)
	require.Equal(t, "interview-agent", full.AgentType)
}
