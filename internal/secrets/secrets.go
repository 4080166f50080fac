// Package secrets resolves the bot credential from the environment or AWS SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrMissingCredential means neither a direct value nor a parameter name was configured.
var ErrMissingCredential = errors.New("secrets: credential is not configured")

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter reads one parameter by name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamStore reads decrypted parameters from SSM.
type ParamStore struct {
	api ssmAPI
}

// NewParamStore wraps an SSM API implementation.
func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// NewParamStoreFromEnv builds a ParamStore from the default AWS configuration chain.
func NewParamStoreFromEnv(ctx context.Context) (*ParamStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load AWS config: %w", err)
	}
	return NewParamStore(ssm.NewFromConfig(cfg))
}

// GetParameter returns the decrypted value of name.
func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: parameter name is required")
	}
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// ResolveToken returns direct when set, otherwise the value of parameter name read through getter.
// getter is only consulted when direct is empty.
func ResolveToken(ctx context.Context, direct, parameter string, getter Getter) (string, error) {
	if v := strings.TrimSpace(direct); v != "" {
		return v, nil
	}
	if strings.TrimSpace(parameter) == "" {
		return "", ErrMissingCredential
	}
	if getter == nil {
		return "", errors.New("secrets: no parameter store configured")
	}
	v, err := getter.GetParameter(ctx, parameter)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("secrets: parameter %q is empty: %w", parameter, ErrMissingCredential)
	}
	slog.Debug("Credential resolved from parameter store", "parameter", parameter)
	return v, nil
}
