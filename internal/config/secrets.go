package config

import (
	"os"
	"path/filepath"
	"strings"
)

// CredentialName is the secret holding the Gemini API key.
const CredentialName = "GEMINI_API_KEY"

// Provider resolves a named secret, returning "" when it cannot.
type Provider interface {
	Lookup(name string) string
}

// FileProvider reads secrets from files in a directory, one file per secret
// named after the secret itself. This matches mounted-secret layouts used in
// managed deployments.
type FileProvider struct {
	Dir string
}

// Lookup returns the trimmed content of Dir/<name>, or "" if unreadable.
func (p FileProvider) Lookup(name string) string {
	if p.Dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// EnvProvider reads secrets from process environment variables.
type EnvProvider struct{}

// Lookup returns the environment variable value, or "".
func (EnvProvider) Lookup(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

// Resolver queries an ordered list of providers; the first non-empty
// answer wins.
type Resolver struct {
	providers []Provider
}

// NewResolver builds the default provider chain: managed secrets directory
// first, process environment as the local-development fallback.
func NewResolver(secretsDir string) *Resolver {
	return &Resolver{providers: []Provider{
		FileProvider{Dir: secretsDir},
		EnvProvider{},
	}}
}

// NewResolverWith builds a resolver over an explicit provider chain.
func NewResolverWith(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve returns the first non-empty value for name across the chain.
func (r *Resolver) Resolve(name string) string {
	for _, p := range r.providers {
		if v := p.Lookup(name); v != "" {
			return v
		}
	}
	return ""
}
