package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Credentials is the M2M client pair stored as a SecureString JSON document.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Client reads M2M credentials from SSM Parameter Store.
type Client struct {
	api  ssmAPI
	name string

	once  sync.Once
	creds Credentials
	err   error
}

// New creates a Client reading the credentials parameter under prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	return &Client{api: api, name: prefix + "/m2m-credentials"}, nil
}

// Credentials fetches the credentials on first use and caches the result for
// the lifetime of the process.
func (c *Client) Credentials(ctx context.Context) (Credentials, error) {
	c.once.Do(func() {
		c.creds, c.err = c.load(ctx)
	})
	return c.creds, c.err
}

func (c *Client) load(ctx context.Context) (Credentials, error) {
	raw, err := c.getParameter(ctx, c.name)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return Credentials{}, fmt.Errorf("paramstore: decode %q: %w", c.name, err)
	}
	creds.ClientID = strings.TrimSpace(creds.ClientID)
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return Credentials{}, fmt.Errorf("paramstore: %q is missing clientId or clientSecret", c.name)
	}
	return creds, nil
}

func (c *Client) getParameter(ctx context.Context, name string) (string, error) {
	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}
