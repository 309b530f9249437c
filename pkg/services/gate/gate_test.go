package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sykerr "github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
)

func TestEnvApprover_Approves(t *testing.T) {
	os.Setenv("SYKLI_TEST_GATE_ENV", "approve")
	defer os.Unsetenv("SYKLI_TEST_GATE_ENV")

	g := &graph.Gate{Strategy: graph.GateEnv, EnvVar: "SYKLI_TEST_GATE_ENV", TimeoutS: 2}
	err := EnvApprover{}.Approve(context.Background(), g, "run1", "deploy")
	require.NoError(t, err)
}

func TestEnvApprover_Denies(t *testing.T) {
	os.Setenv("SYKLI_TEST_GATE_ENV2", "deny")
	defer os.Unsetenv("SYKLI_TEST_GATE_ENV2")

	g := &graph.Gate{Strategy: graph.GateEnv, EnvVar: "SYKLI_TEST_GATE_ENV2", TimeoutS: 2}
	err := EnvApprover{}.Approve(context.Background(), g, "run1", "deploy")
	require.Error(t, err)
	kind, _ := sykerr.KindOf(err)
	assert.Equal(t, sykerr.KindGateDenied, kind)
}

func TestEnvApprover_TimesOut(t *testing.T) {
	g := &graph.Gate{Strategy: graph.GateEnv, EnvVar: "SYKLI_TEST_GATE_NEVER_SET", TimeoutS: 1}
	start := time.Now()
	err := EnvApprover{}.Approve(context.Background(), g, "run1", "deploy")
	require.Error(t, err)
	kind, _ := sykerr.KindOf(err)
	assert.Equal(t, sykerr.KindGateTimedOut, kind)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestFileApprover_ApprovesWhenFileWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approval")
	g := &graph.Gate{Strategy: graph.GateFile, FilePath: path, TimeoutS: 3}

	done := make(chan error, 1)
	go func() { done <- (FileApprover{}).Approve(context.Background(), g, "run1", "deploy") }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("approve"), 0o644))

	err := <-done
	assert.NoError(t, err)
}

func TestFileApprover_ApprovesOnBareExistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approval")
	g := &graph.Gate{Strategy: graph.GateFile, FilePath: path, TimeoutS: 3}

	done := make(chan error, 1)
	go func() { done <- (FileApprover{}).Approve(context.Background(), g, "run1", "deploy") }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	err := <-done
	assert.NoError(t, err)
}

func TestFileApprover_DeniesOnDeniedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approval")
	g := &graph.Gate{Strategy: graph.GateFile, FilePath: path, TimeoutS: 3}

	require.NoError(t, os.WriteFile(path, []byte("denied"), 0o644))

	err := (FileApprover{}).Approve(context.Background(), g, "run1", "deploy")
	require.Error(t, err)
	kind, _ := sykerr.KindOf(err)
	assert.Equal(t, sykerr.KindGateDenied, kind)
}

func TestRegistry_UnknownStrategy(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Approve(context.Background(), &graph.Gate{Strategy: graph.GateWebhook}, "run1", "deploy")
	require.Error(t, err)
}

func TestWebhookApprover_ApprovesOnMatchingDecision(t *testing.T) {
	w := NewWebhookApprover("test-secret", nil)
	g := &graph.Gate{Strategy: graph.GateWebhook, TimeoutS: 2}

	done := make(chan error, 1)
	go func() { done <- w.Approve(context.Background(), g, "run1", "deploy") }()

	time.Sleep(20 * time.Millisecond)
	w.mu.Lock()
	ch, ok := w.pending["run1/deploy"]
	w.mu.Unlock()
	require.True(t, ok)
	ch <- decisionApprove

	err := <-done
	assert.NoError(t, err)
}
