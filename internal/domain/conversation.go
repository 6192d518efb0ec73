package domain

import "time"

// ChatItemMessage is the only chat item kind that is transcribed.
const ChatItemMessage = "message"

// Chat roles as produced by the conversation runtime.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleSystem    = "system"
)

// ChatItem is one entry of the conversation context.
type ChatItem struct {
	Kind    string
	Role    string
	Content string
}

// Snapshot is an immutable copy of the conversation context at a point in
// time. Use NewSnapshot so later mutation of the source slice cannot leak in.
type Snapshot struct {
	items      []ChatItem
	capturedAt time.Time
}

// NewSnapshot copies items into a new Snapshot.
func NewSnapshot(items []ChatItem, capturedAt time.Time) Snapshot {
	cp := make([]ChatItem, len(items))
	copy(cp, items)
	return Snapshot{items: cp, capturedAt: capturedAt}
}

// Items returns a copy of the captured items.
func (s Snapshot) Items() []ChatItem {
	cp := make([]ChatItem, len(s.items))
	copy(cp, s.items)
	return cp
}

// Len reports the number of captured items.
func (s Snapshot) Len() int { return len(s.items) }

// CapturedAt is when the snapshot was taken; zero for an empty snapshot.
func (s Snapshot) CapturedAt() time.Time { return s.capturedAt }

// PresenceState is the externally observed activity of the participant.
type PresenceState string

const (
	PresenceActive PresenceState = "active"
	PresenceAway   PresenceState = "away"
)
