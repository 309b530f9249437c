// Package mergequeue classifies the environment a run is executing in as
// one of a GitHub merge queue, a GitLab merge train, or neither. This is
// purely informational per spec.md's design notes: nothing in the
// orchestrator changes behavior based on the result; cmd/sykli only logs
// it when a run starts inside a merge queue or merge train.
package mergequeue

import "strings"

// Kind is the classification of a merge-queue-like environment.
type Kind string

const (
	KindNone          Kind = "none"
	KindGitHubQueue   Kind = "github_merge_group"
	KindGitLabTrain   Kind = "gitlab_merge_train"
)

// Env is the subset of environment variables the classifier reads.
type Env struct {
	GitHubEventName string // GITHUB_EVENT_NAME
	GitHubRef       string // GITHUB_REF
	GitLabPipelineSource string // CI_PIPELINE_SOURCE
}

// Classify reports which merge-queue-like environment, if any, env
// describes.
func Classify(env Env) Kind {
	if env.GitHubEventName == "merge_group" || strings.HasPrefix(env.GitHubRef, "refs/heads/gh-readonly-queue/") {
		return KindGitHubQueue
	}
	if env.GitLabPipelineSource == "merge_train" {
		return KindGitLabTrain
	}
	return KindNone
}
