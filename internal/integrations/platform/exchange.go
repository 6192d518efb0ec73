package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const m2mPath = "/api/auth/m2m"

// Credentials identify this agent to the token endpoint.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// CredentialSource supplies client credentials, typically from SSM.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// CredentialsFunc adapts a function to CredentialSource.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

func (f CredentialsFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// StaticCredentials always returns c.
func StaticCredentials(c Credentials) CredentialSource {
	return CredentialsFunc(func(context.Context) (Credentials, error) { return c, nil })
}

type m2mRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type m2mResponse struct {
	AccessToken string `json:"accessToken"`
}

// Exchanger trades client credentials for an access token.
type Exchanger struct {
	t     *transport
	creds CredentialSource
}

func NewExchanger(baseURL string, creds CredentialSource, opts ...Option) (*Exchanger, error) {
	if creds == nil {
		return nil, errors.New("platform: credential source must not be nil")
	}
	t, err := newTransport(baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &Exchanger{t: t, creds: creds}, nil
}

// Exchange performs one credential exchange. It never retries.
func (e *Exchanger) Exchange(ctx context.Context) (string, error) {
	creds, err := e.creds.Credentials(ctx)
	if err != nil {
		return "", fmt.Errorf("platform: load credentials: %w", err)
	}
	raw, err := e.t.doJSON(ctx, http.MethodPost, m2mPath, "", m2mRequest{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
	})
	if err != nil {
		return "", err
	}
	var out m2mResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("platform: decode m2m response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("platform: m2m response has no accessToken")
	}
	return out.AccessToken, nil
}
