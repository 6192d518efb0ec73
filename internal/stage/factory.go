package stage

import (
	"errors"
	"sort"

	"interview-agent/internal/domain"
)

// ErrNoStages is returned when a validated session carries no stages.
var ErrNoStages = errors.New("stage: no stages found")

// FromValidation builds a started Sequencer from validated stage definitions,
// ordered by their order field.
func FromValidation(res domain.ValidationResult) (*Sequencer, error) {
	if len(res.Stages) == 0 {
		return nil, ErrNoStages
	}
	defs := make([]domain.StageDefinition, len(res.Stages))
	copy(defs, res.Stages)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })

	stages := make([]domain.Stage, 0, len(defs))
	for _, d := range defs {
		stages = append(stages, fromDefinition(d))
	}
	seq := NewSequencer(stages)
	seq.Start()
	return seq, nil
}

func fromDefinition(d domain.StageDefinition) domain.Stage {
	meta := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return domain.Stage{
		Key:             d.Key,
		Name:            d.Name,
		Type:            resolveType(d, meta),
		SystemPrompt:    d.SystemPrompt,
		AssistantPrompt: d.AssistantPrompt,
		Order:           d.Order,
		Metadata:        meta,
	}
}

// resolveType prefers an explicit type and falls back to the stage name for
// payloads that predate the type field.
func resolveType(d domain.StageDefinition, meta map[string]any) domain.StageType {
	if t := domain.ParseStageType(d.Type); t != domain.StageUnknown {
		return t
	}
	if raw, ok := meta["type"].(string); ok {
		if t := domain.ParseStageType(raw); t != domain.StageUnknown {
			return t
		}
	}
	return domain.ParseStageType(d.Name)
}
