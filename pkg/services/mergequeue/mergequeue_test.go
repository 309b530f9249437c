package mergequeue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_GitHubMergeGroup(t *testing.T) {
	assert.Equal(t, KindGitHubQueue, Classify(Env{GitHubEventName: "merge_group"}))
}

func TestClassify_GitHubQueueRef(t *testing.T) {
	assert.Equal(t, KindGitHubQueue, Classify(Env{GitHubRef: "refs/heads/gh-readonly-queue/main/pr-42"}))
}

func TestClassify_GitLabMergeTrain(t *testing.T) {
	assert.Equal(t, KindGitLabTrain, Classify(Env{GitLabPipelineSource: "merge_train"}))
}

func TestClassify_None(t *testing.T) {
	assert.Equal(t, KindNone, Classify(Env{GitHubEventName: "push"}))
}
