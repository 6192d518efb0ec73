package domain

// Speaker roles in a transcript.
const (
	SpeakerAgent       = "agent"
	SpeakerParticipant = "participant"
	SpeakerOther       = "other"
)

// EndReasonCompleted is used when no end reason is supplied.
const EndReasonCompleted = "completed"

// Message is a single transcribed utterance.
type Message struct {
	SequenceID  int    `json:"sequenceId"`
	SpeakerRole string `json:"speakerRole"`
	SpeakerName string `json:"speakerName"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// SessionInfo identifies the session a record belongs to.
type SessionInfo struct {
	SessionID       string `json:"sessionId"`
	TenantID        string `json:"tenantId"`
	ParticipantName string `json:"participantName"`
	RoomName        string `json:"roomName"`
}

// StageRecord is the persisted transcript of one stage. Times are unix seconds.
type StageRecord struct {
	StageKey        string         `json:"stageKey"`
	StageName       string         `json:"stageName"`
	StageStartTime  int64          `json:"stageStartTime"`
	StageEndTime    int64          `json:"stageEndTime"`
	DurationSeconds int64          `json:"durationSeconds"`
	EndReason       string         `json:"endReason"`
	MessageCount    int            `json:"messageCount"`
	Metadata        map[string]any `json:"metadata"`
	Messages        []Message      `json:"messages"`
	Session         SessionInfo    `json:"session"`
	GeneratedAt     int64          `json:"generatedAt"`
}

// InterviewRecord is the aggregate transcript assembled at session end.
type InterviewRecord struct {
	SessionID        string        `json:"sessionId"`
	TenantID         string        `json:"tenantId"`
	ParticipantName  string        `json:"participantName"`
	RoomName         string        `json:"roomName"`
	SessionStartTime int64         `json:"sessionStartTime"`
	SessionEndTime   int64         `json:"sessionEndTime"`
	DurationSeconds  int64         `json:"durationSeconds"`
	TotalMessages    int           `json:"totalMessages"`
	TotalStages      int           `json:"totalStages"`
	CompletedStages  int           `json:"completedStages"`
	EndReason        string        `json:"endReason"`
	AgentName        string        `json:"agentName"`
	AgentType        string        `json:"agentType"`
	Stages           []StageRecord `json:"stages"`
	StoredAt         int64         `json:"storedAt"`
	Version          string        `json:"version"`
}
