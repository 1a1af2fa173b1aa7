// Package credentials resolves secrets (API keys, tokens) to inject into
// an agent subprocess's environment when the Execution Engine starts an
// adapter.
package credentials

import "context"

// Credential is a single secret value resolved for injection into an
// agent subprocess's environment.
type Credential struct {
	Key    string
	Value  string
	Source string
}

// Provider resolves credentials by key, abstracting over environment
// variables or other secret stores.
type Provider interface {
	Name() string
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
}

var _ Provider = (*EnvProvider)(nil)
