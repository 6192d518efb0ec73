package domain

// EventType names an entry in the session event log.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventStageTransition EventType = "stage_transition"
	EventSessionEnded    EventType = "session_ended"
)

// Session lifecycle values stored on SessionMeta.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// SessionEvent is one item of the DynamoDB session event log.
type SessionEvent struct {
	PK              string
	SK              string
	EventID         string
	SessionID       string
	TenantID        string
	Type            EventType
	FromStage       string
	ToStage         string
	DurationSeconds float64
	Participant     string
	CompletedStages int
	EndReason       string
	OccurredAt      string
	TTL             int64
}

// SessionMeta is the per-session summary item.
type SessionMeta struct {
	PK                 string
	SK                 string
	SessionID          string
	TenantID           string
	Participant        string
	Status             string
	CompletedStages    int
	TotalStages        int
	DurationSeconds    int64
	EndReason          string
	TranscriptLocation string
	LastActivity       string
	TTL                int64
}
