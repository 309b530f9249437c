package hints

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor_ExitCodeHints(t *testing.T) {
	cases := map[int]string{
		126: "not executable",
		127: "not found",
		137: "killed",
		143: "SIGTERM",
	}
	for code, substr := range cases {
		got := For(code, "")
		require.Len(t, got, 1)
		assert.Contains(t, strings.ToLower(got[0]), strings.ToLower(substr))
	}
}

func TestFor_ExitCodeOneYieldsNoHints(t *testing.T) {
	got := For(1, "connection refused")
	assert.Empty(t, got)
}

func TestFor_OutputPatternMatch(t *testing.T) {
	got := For(1, "Error: connection refused")
	assert.Empty(t, got, "exit 1 suppresses all hints regardless of output")

	got = For(2, "dial tcp: connection refused")
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "service")
}

func TestFor_CapsAtMaxHints(t *testing.T) {
	output := strings.Join([]string{
		"connection refused",
		"permission denied",
		"no space left on device",
		"unauthorized",
	}, "\n")
	got := For(2, output)
	assert.LessOrEqual(t, len(got), MaxHints)
}

func TestFor_UnknownExitCodeNoOutputMatch(t *testing.T) {
	got := For(99, "all good here")
	assert.Empty(t, got)
}

func TestTail_ShorterThanN(t *testing.T) {
	out := Tail("a\nb\nc", 10)
	assert.Equal(t, "a\nb\nc", out)
}

func TestTail_TruncatesToLastNLines(t *testing.T) {
	out := Tail("1\n2\n3\n4\n5", 2)
	assert.Equal(t, "4\n5", out)
}
