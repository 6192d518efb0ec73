package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"interview-agent/internal/domain"
)

// ErrNoMetadata is returned when the admitted session carries no metadata.
var ErrNoMetadata = errors.New("session: no validation metadata")

// metadataWire accepts the camelCase admission payload and the older
// snake_case one.
type metadataWire struct {
	SessionID     json.RawMessage          `json:"sessionId"`
	InterviewID   json.RawMessage          `json:"interview_id"`
	TenantID      json.RawMessage          `json:"tenantId"`
	CompanyID     json.RawMessage          `json:"company_id"`
	IsValid       *bool                    `json:"isValid"`
	CanProceed    *bool                    `json:"canProceed"`
	CanProceedOld *bool                    `json:"can_proceed"`
	Record        bool                     `json:"recordSession"`
	RecordOld     bool                     `json:"record_session"`
	Stages        []domain.StageDefinition `json:"stages"`
}

// ParseValidationMetadata decodes the validation payload attached to a session
// at admission.
func ParseValidationMetadata(raw string) (domain.ValidationResult, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.ValidationResult{}, ErrNoMetadata
	}
	var w metadataWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return domain.ValidationResult{}, fmt.Errorf("session: parse metadata: %w", err)
	}
	res := domain.ValidationResult{
		SessionID:     firstID(w.SessionID, w.InterviewID),
		TenantID:      firstID(w.TenantID, w.CompanyID),
		IsValid:       true,
		CanProceed:    true,
		RecordSession: w.Record || w.RecordOld,
		Stages:        w.Stages,
	}
	if w.IsValid != nil {
		res.IsValid = *w.IsValid
	}
	switch {
	case w.CanProceed != nil:
		res.CanProceed = *w.CanProceed
	case w.CanProceedOld != nil:
		res.CanProceed = *w.CanProceedOld
	}
	if res.SessionID == "" {
		return domain.ValidationResult{}, errors.New("session: metadata has no session id")
	}
	return res, nil
}

func firstID(candidates ...json.RawMessage) string {
	for _, c := range candidates {
		c = bytes.TrimSpace(c)
		if len(c) == 0 || bytes.Equal(c, []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(c, &s); err == nil {
			return s
		}
		return string(c)
	}
	return ""
}
