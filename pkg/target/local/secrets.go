package local

import (
	"context"
	"os"

	"github.com/sykli/engine/pkg/errors"
)

// ResolveSecret resolves name from the orchestrator process's own
// environment; an empty value is treated as not found rather than as an
// empty secret, since a pipeline author who forgot to export a secret
// should see SecretUnresolved, not a task silently running with a blank
// credential.
func (t *Target) ResolveSecret(ctx context.Context, name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", errors.SecretUnresolved(name)
	}
	return value, nil
}
