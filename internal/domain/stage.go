package domain

import (
	"strconv"
	"strings"
	"time"
)

// DefaultStageTimeLimit applies when a stage carries no usable time_limit.
const DefaultStageTimeLimit = 300 * time.Second

// StageType classifies a stage for transition messaging.
type StageType string

const (
	StageIntroduction StageType = "introduction"
	StageQuestion     StageType = "question"
	StageConclusion   StageType = "conclusion"
	StageUnknown      StageType = "unknown"
)

// ParseStageType maps a free-form label to a StageType, case-insensitively.
func ParseStageType(s string) StageType {
	switch StageType(strings.ToLower(strings.TrimSpace(s))) {
	case StageIntroduction:
		return StageIntroduction
	case StageQuestion:
		return StageQuestion
	case StageConclusion:
		return StageConclusion
	default:
		return StageUnknown
	}
}

// Stage is one ordered phase of a session. Values are never mutated after
// construction.
type Stage struct {
	Key             string
	Name            string
	Type            StageType
	SystemPrompt    string
	AssistantPrompt string
	Order           int
	Metadata        map[string]any
}

// TimeLimit returns the metadata time_limit (seconds) or DefaultStageTimeLimit.
func (s Stage) TimeLimit() time.Duration {
	raw, ok := s.Metadata["time_limit"]
	if !ok {
		return DefaultStageTimeLimit
	}
	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultStageTimeLimit
		}
		secs = parsed
	default:
		return DefaultStageTimeLimit
	}
	if secs <= 0 {
		return DefaultStageTimeLimit
	}
	return time.Duration(secs * float64(time.Second))
}
