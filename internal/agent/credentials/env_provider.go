package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// wellKnownKeys are the credential names the built-in agent CLIs ask for,
// plus the VCS tokens an agent commonly needs to push its branch.
var wellKnownKeys = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"GITHUB_TOKEN",
	"GITLAB_TOKEN",
}

// keyMarkers flag arbitrary environment variables that look like secrets
// an agent subprocess may legitimately need.
var keyMarkers = []string{"api_key", "apikey", "api-key", "_token", "_secret"}

// EnvProvider resolves credentials from the gateway process's own
// environment, also accepting a prefixed form of each key (e.g.
// KANDEV_AGENT_). The bare name takes precedence and every secret-like
// variable is listed, so the prefix does not restrict which secrets are
// handed to agents.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-backed provider. Keys are looked
// up bare first, then with the prefix applied.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string {
	return "environment"
}

// GetCredential resolves key from the environment, trying the bare name
// before the prefixed one.
func (p *EnvProvider) GetCredential(_ context.Context, key string) (*Credential, error) {
	if value := os.Getenv(key); value != "" {
		return &Credential{Key: key, Value: value, Source: p.Name()}, nil
	}
	if p.prefix != "" {
		if value := os.Getenv(p.prefix + key); value != "" {
			return &Credential{Key: key, Value: value, Source: p.Name()}, nil
		}
	}
	return nil, fmt.Errorf("credential not found: %s", key)
}

// ListAvailable returns the credential keys present in the environment:
// the well-known agent keys plus anything whose name looks like a secret.
// Prefixed variables are reported under their bare key.
func (p *EnvProvider) ListAvailable(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var available []string
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			available = append(available, key)
		}
	}

	for _, key := range wellKnownKeys {
		if os.Getenv(key) != "" || (p.prefix != "" && os.Getenv(p.prefix+key) != "") {
			add(key)
		}
	}

	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || value == "" {
			continue
		}
		lower := strings.ToLower(name)
		secretLike := false
		for _, marker := range keyMarkers {
			if strings.Contains(lower, marker) {
				secretLike = true
				break
			}
		}
		if !secretLike {
			continue
		}
		if p.prefix != "" {
			name = strings.TrimPrefix(name, p.prefix)
		}
		add(name)
	}

	return available, nil
}
