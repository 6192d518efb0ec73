package domain

import "time"

// SessionSummary describes a finished session for completion telemetry.
type SessionSummary struct {
	SessionID          string
	TenantID           string
	ParticipantName    string
	RoomName           string
	Duration           time.Duration
	CompletedStages    int
	TotalStages        int
	EndReason          string
	TranscriptLocation string
}
