// Package oidc exchanges a task's OIDC binding for short-lived
// credentials before the task runs, the way spec.md §4.J's credential
// exchange step works: any credential value whose key is suffixed _FILE is
// written to a tracked temp file instead of injected directly, so a task
// that expects a credentials file path (rather than the raw value in an
// env var) gets one, and the orchestrator can guarantee its removal once
// the task finishes regardless of how the task exited.
package oidc

import (
	"context"
	"os"
	"strings"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
)

// Provider performs the actual exchange against an external identity
// provider; production wiring supplies a concrete implementation per
// binding.Provider, tests supply a fake.
type Provider interface {
	Exchange(ctx context.Context, binding graph.OIDCBinding) (map[string]string, error)
}

// Credential is the result of one exchange: environment variables to
// inject into the task, and temp files created along the way that must be
// removed once the task finishes.
type Credential struct {
	EnvVars   map[string]string
	TempFiles []string
}

// Cleanup removes every temp file Credential created. It is safe to call
// more than once and tolerates files already removed.
func (c *Credential) Cleanup() {
	for _, f := range c.TempFiles {
		os.Remove(f)
	}
}

// Exchanger performs OIDC credential exchange via a Provider.
type Exchanger struct {
	provider Provider
}

// NewExchanger builds an Exchanger backed by provider.
func NewExchanger(provider Provider) *Exchanger {
	return &Exchanger{provider: provider}
}

// Exchange returns an empty, no-op Credential if binding is nil (the task
// declared no oidc block); otherwise it calls the provider and materializes
// any _FILE-suffixed credential into a tracked temp file.
func (e *Exchanger) Exchange(ctx context.Context, binding *graph.OIDCBinding) (*Credential, error) {
	if binding == nil {
		return &Credential{}, nil
	}
	if e.provider == nil {
		return nil, errors.OIDCUnavailable(nil)
	}

	raw, err := e.provider.Exchange(ctx, *binding)
	if err != nil {
		return nil, errors.CredentialExchange(err)
	}

	cred := &Credential{EnvVars: make(map[string]string, len(raw))}
	for key, value := range raw {
		if !strings.HasSuffix(key, "_FILE") {
			cred.EnvVars[key] = value
			continue
		}
		f, err := os.CreateTemp("", "sykli-oidc-*")
		if err != nil {
			cred.Cleanup()
			return nil, errors.CredentialExchange(err)
		}
		if _, err := f.WriteString(value); err != nil {
			f.Close()
			cred.Cleanup()
			return nil, errors.CredentialExchange(err)
		}
		f.Close()
		cred.TempFiles = append(cred.TempFiles, f.Name())
		cred.EnvVars[key] = f.Name()
	}
	return cred, nil
}
