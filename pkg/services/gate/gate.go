// Package gate implements the four approval-gate strategies spec.md §4.J
// defines: a task carrying a Gate blocks until something external approves
// it, or the gate's own timeout elapses. prompt, env and file are simple
// polling approvers; webhook is its own file, a gin HTTP receiver that
// resolves the spec's previously-open webhook question.
package gate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
)

// Approver approves or denies one task's gate.
type Approver interface {
	Approve(ctx context.Context, g *graph.Gate, runID, taskName string) error
}

// Registry dispatches to the right Approver by strategy.
type Registry struct {
	approvers map[graph.GateStrategy]Approver
}

// NewRegistry builds the standard registry: prompt, env and file always
// available, webhook only if a WebhookApprover is supplied (nil otherwise,
// surfacing as a TargetCapability-style error if a pipeline uses it
// without one configured).
func NewRegistry(webhook Approver) *Registry {
	r := &Registry{approvers: map[graph.GateStrategy]Approver{
		graph.GatePrompt: PromptApprover{},
		graph.GateEnv:    EnvApprover{},
		graph.GateFile:   FileApprover{},
	}}
	if webhook != nil {
		r.approvers[graph.GateWebhook] = webhook
	}
	return r
}

// Approve resolves g.Strategy to an Approver and runs it.
func (r *Registry) Approve(ctx context.Context, g *graph.Gate, runID, taskName string) error {
	approver, ok := r.approvers[g.Strategy]
	if !ok {
		return errors.TargetCapability(fmt.Sprintf("gate strategy %q", g.Strategy))
	}
	return approver.Approve(ctx, g, runID, taskName)
}

func timeoutFor(g *graph.Gate) time.Duration {
	if g.TimeoutS > 0 {
		return time.Duration(g.TimeoutS) * time.Second
	}
	return 10 * time.Minute
}

// PromptApprover reads a y/n line from stdin.
type PromptApprover struct{}

func (PromptApprover) Approve(ctx context.Context, g *graph.Gate, runID, taskName string) error {
	fmt.Printf("gate: %s (run %s): %s [y/N] ", taskName, runID, g.Message)

	answer := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			answer <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		} else {
			answer <- ""
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(g))
	defer cancel()

	select {
	case <-ctx.Done():
		return errors.GateTimedOut(taskName)
	case ans := <-answer:
		if ans == "y" || ans == "yes" {
			return nil
		}
		return errors.GateDenied(taskName)
	}
}

// EnvApprover polls an environment variable until it reads
// "approve"/"approved"/"yes"/"true" (approved), "deny"/"denied"/"no"/"false"
// (denied), or the gate's timeout elapses.
type EnvApprover struct{}

func (EnvApprover) Approve(ctx context.Context, g *graph.Gate, runID, taskName string) error {
	return pollUntil(ctx, g, taskName, func() (decision, bool) {
		return classify(os.Getenv(g.EnvVar))
	})
}

// FileApprover polls for a file's existence; the file showing up at all
// counts as approval unless its trimmed content is literally "denied".
type FileApprover struct{}

func (FileApprover) Approve(ctx context.Context, g *graph.Gate, runID, taskName string) error {
	return pollUntil(ctx, g, taskName, func() (decision, bool) {
		data, err := os.ReadFile(g.FilePath)
		if err != nil {
			return decisionPending, false
		}
		if strings.ToLower(strings.TrimSpace(string(data))) == "denied" {
			return decisionDeny, true
		}
		return decisionApprove, true
	})
}

type decision int

const (
	decisionPending decision = iota
	decisionApprove
	decisionDeny
)

func classify(raw string) (decision, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "approve", "approved", "yes", "true":
		return decisionApprove, true
	case "deny", "denied", "no", "false":
		return decisionDeny, true
	default:
		return decisionPending, false
	}
}

func pollUntil(ctx context.Context, g *graph.Gate, taskName string, check func() (decision, bool)) error {
	ctx, cancel := context.WithTimeout(ctx, timeoutFor(g))
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d, ok := check(); ok {
			if d == decisionApprove {
				return nil
			}
			return errors.GateDenied(taskName)
		}
		select {
		case <-ctx.Done():
			return errors.GateTimedOut(taskName)
		case <-ticker.C:
		}
	}
}
