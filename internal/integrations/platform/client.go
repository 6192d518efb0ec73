package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"interview-agent/internal/domain"
)

const (
	validatePathPrefix = "/api/platform/validate-interview/"
	completePath       = "/api/platform/complete-interview"
)

// TokenSource is satisfied by *auth.Cache.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	Invalidate()
}

// Client performs authorized calls against the platform API.
type Client struct {
	t      *transport
	tokens TokenSource
	logger *slog.Logger
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("platform: token source must not be nil")
	}
	t, err := newTransport(baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &Client{t: t, tokens: tokens, logger: slog.Default()}, nil
}

// SetLogger replaces the client logger.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// flexibleID accepts both JSON numbers and strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexibleID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type validateResponse struct {
	InterviewID   flexibleID               `json:"interviewId"`
	CompanyID     flexibleID               `json:"companyId"`
	IsValid       bool                     `json:"isValid"`
	CanProceed    bool                     `json:"canProceed"`
	RecordSession bool                     `json:"recordSession"`
	Stages        []domain.StageDefinition `json:"stages"`
}

type completeRequest struct {
	InterviewID string `json:"interviewId"`
	EndReason   string `json:"endReason,omitempty"`
}

// ValidateSession asks whether the session may start and returns its stages.
func (c *Client) ValidateSession(ctx context.Context, sessionID string) (domain.ValidationResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ValidationResult{}, errors.New("platform: session id is required")
	}
	raw, err := c.authorized(ctx, http.MethodGet, validatePathPrefix+url.PathEscape(sessionID), nil)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("platform: ValidateSession: %w", err)
	}
	var out validateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.ValidationResult{}, fmt.Errorf("platform: ValidateSession decode: %w", err)
	}
	res := domain.ValidationResult{
		SessionID:     string(out.InterviewID),
		TenantID:      string(out.CompanyID),
		IsValid:       out.IsValid,
		CanProceed:    out.CanProceed,
		RecordSession: out.RecordSession,
		Stages:        out.Stages,
	}
	if res.SessionID == "" {
		res.SessionID = sessionID
	}
	c.logger.Info("session validated", "session_id", res.SessionID, "tenant_id", res.TenantID, "can_proceed", res.CanProceed, "stages", len(res.Stages))
	return res, nil
}

// CompleteSession marks the session complete so evaluation can be queued.
func (c *Client) CompleteSession(ctx context.Context, sessionID, endReason string) error {
	_, err := c.authorized(ctx, http.MethodPost, completePath, completeRequest{
		InterviewID: sessionID,
		EndReason:   endReason,
	})
	if err != nil {
		return fmt.Errorf("platform: CompleteSession: %w", err)
	}
	return nil
}

// authorized attaches the cached token. A 401 invalidates the token and the
// call is retried once with a fresh one.
func (c *Client) authorized(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := c.t.doJSON(ctx, method, path, token, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !IsUnauthorized(err) || attempt > 0 {
			break
		}
		c.logger.Warn("platform rejected token, invalidating and retrying", "path", path)
		c.tokens.Invalidate()
	}
	return nil, lastErr
}
