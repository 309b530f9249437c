// Package hints maps a failed task's exit code and output tail to a short
// list of likely remediations, the way the teacher's diagnostic layer turns
// a raw service error into an actionable message for an operator instead of
// a bare stack trace.
package hints

import (
	"regexp"
	"strings"
)

// MaxHints is the most hints ever returned for one failure.
const MaxHints = 3

// exitHints maps well-known exit codes to a single hint each.
var exitHints = map[int]string{
	126: "command found but not executable — check the file's execute bit and shebang",
	127: "command not found — check it's installed and on PATH inside the task's environment",
	137: "process was killed (SIGKILL) — likely an out-of-memory kill, check container memory limits",
	143: "process received SIGTERM — likely a timeout or external cancellation",
}

type patternHint struct {
	re   *regexp.Regexp
	hint string
}

// outputHints are checked in order against the output tail; the first
// match per pattern contributes at most one hint.
var outputHints = []patternHint{
	{regexp.MustCompile(`(?i)cannot find module '([^']+)'`), "missing Node module — run npm install (or yarn/pnpm install) before this task"},
	{regexp.MustCompile(`(?i)ModuleNotFoundError|No module named`), "missing Python module — check your virtualenv or requirements.txt"},
	{regexp.MustCompile(`(?i)connection refused`), "a dependent service may not be up yet — check task.services and startup ordering"},
	{regexp.MustCompile(`(?i)no such host|could not resolve host`), "DNS resolution failed — check the service name and that it's on the same task network"},
	{regexp.MustCompile(`(?i)permission denied`), "filesystem or socket permission issue — check mount modes and container user"},
	{regexp.MustCompile(`(?i)no space left on device`), "disk is full — check cache size and mounted volume capacity"},
	{regexp.MustCompile(`(?i)unauthorized|401 Unauthorized|403 Forbidden`), "credential or token rejected — check secrets/OIDC binding for this task"},
	{regexp.MustCompile(`(?i)context deadline exceeded`), "an operation timed out — check task.timeout and downstream service latency"},
	{regexp.MustCompile(`(?i)pull access denied|manifest unknown`), "container image could not be pulled — check the image name/tag and registry credentials"},
	{regexp.MustCompile(`(?i)address already in use`), "a port or socket is already bound — check for a leftover container or service from a prior run"},
	{regexp.MustCompile(`(?i)cannot allocate memory`), "process ran out of memory — check container memory limits"},
	{regexp.MustCompile(`(?i)npm err!|ENOENT.*package\.json`), "npm reported an error — check package.json and the task's working directory"},
	{regexp.MustCompile(`(?i)panic:`), "the task's own process panicked — see the output tail above for the panic message"},
}

// For reports the hints applicable to a task that exited with exitCode and
// produced output (only its tail needs to be passed in; hints only look at
// output). Exit code 1 is deliberately too generic to hint on; it is
// excluded even if a matching output pattern exists, per the rationale that
// a bare "something failed" exit code carries no extra signal.
func For(exitCode int, output string) []string {
	if exitCode == 1 {
		return nil
	}

	var out []string
	if h, ok := exitHints[exitCode]; ok {
		out = append(out, h)
	}

	for _, ph := range outputHints {
		if len(out) >= MaxHints {
			break
		}
		if ph.re.MatchString(output) {
			out = append(out, ph.hint)
		}
	}

	if len(out) > MaxHints {
		out = out[:MaxHints]
	}
	return out
}

// Tail returns the last n lines of output, for callers that want to bound
// how much text hint-matching (and the failure report) looks at.
func Tail(output string, n int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= n {
		return output
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
