// Package paramstore reads login secrets from AWS SSM Parameter Store so the
// CLI can sign in without a password prompt.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the slice of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter returns the decrypted value of one parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

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

// Login is the JSON document stored under the credentials parameter.
type Login struct {
	Email    string `json:"correo"`
	Password string `json:"contrasena"`
}

// LoadLogin fetches and decodes the login document stored at name.
func LoadLogin(ctx context.Context, g Getter, name string) (Login, error) {
	if g == nil {
		return Login{}, errors.New("paramstore: getter must not be nil")
	}
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return Login{}, err
	}
	var l Login
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return Login{}, fmt.Errorf("paramstore: unmarshal login %q: %w", name, err)
	}
	l.Email = strings.TrimSpace(l.Email)
	if l.Email == "" || l.Password == "" {
		return Login{}, fmt.Errorf("paramstore: login %q is missing correo or contrasena", name)
	}
	return l, nil
}
