package domain

// StageDefinition is the wire shape of a stage returned by the validation
// service.
type StageDefinition struct {
	Key             string         `json:"key"`
	Name            string         `json:"name"`
	Type            string         `json:"type,omitempty"`
	SystemPrompt    string         `json:"systemPrompt"`
	AssistantPrompt string         `json:"assistantPrompt"`
	Order           int            `json:"order"`
	Metadata        map[string]any `json:"metadata"`
}

// ValidationResult gates whether a session may start and carries its stages.
type ValidationResult struct {
	SessionID     string            `json:"sessionId"`
	TenantID      string            `json:"tenantId"`
	IsValid       bool              `json:"isValid"`
	CanProceed    bool              `json:"canProceed"`
	RecordSession bool              `json:"recordSession"`
	Stages        []StageDefinition `json:"stages"`
}
