package oidc

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykli/engine/pkg/graph"
)

type fakeProvider struct {
	creds map[string]string
	err   error
}

func (f *fakeProvider) Exchange(ctx context.Context, binding graph.OIDCBinding) (map[string]string, error) {
	return f.creds, f.err
}

func TestExchange_NilBindingIsNoop(t *testing.T) {
	e := NewExchanger(nil)
	cred, err := e.Exchange(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, cred.EnvVars)
	assert.Empty(t, cred.TempFiles)
}

func TestExchange_MaterializesFileSuffixedCredentials(t *testing.T) {
	e := NewExchanger(&fakeProvider{creds: map[string]string{
		"AWS_TOKEN":               "raw-value",
		"AWS_WEB_IDENTITY_TOKEN_FILE": "jwt-contents",
	}})

	cred, err := e.Exchange(context.Background(), &graph.OIDCBinding{Audience: "aws"})
	require.NoError(t, err)
	assert.Equal(t, "raw-value", cred.EnvVars["AWS_TOKEN"])

	path := cred.EnvVars["AWS_WEB_IDENTITY_TOKEN_FILE"]
	require.NotEmpty(t, path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jwt-contents", string(content))

	cred.Cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExchange_ProviderErrorWraps(t *testing.T) {
	e := NewExchanger(&fakeProvider{err: assertError{}})
	_, err := e.Exchange(context.Background(), &graph.OIDCBinding{})
	require.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "exchange failed" }
