package storage

import "strings"

const aggregateObject = "full_transcript.json"

// Layout addresses the objects of one session: {tenant}/{session}/...
type Layout struct {
	Tenant  string
	Session string
}

// StageKey is the object key of a per-stage record.
func (l Layout) StageKey(stageKey string) string {
	return l.prefix() + "stage_" + stageKey + ".json"
}

// AggregateKey is the object key of the full session record.
func (l Layout) AggregateKey() string {
	return l.prefix() + aggregateObject
}

func (l Layout) prefix() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{l.Tenant, l.Session} {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}
