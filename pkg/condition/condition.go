// Package condition evaluates a task's `when`/`condition` expression
// against the fixed run context spec.md §4.E describes: branch, tag,
// event, pr_number, ci. The grammar pipelines use is small — equality,
// inequality, glob matching, boolean connectives, negation and
// parentheses over single-quoted string literals — evaluated with a
// PaesslerAG/gval language built from its Arithmetic, PropositionalLogic,
// Parentheses and Text fragments plus a `matches` operator. That language
// has no function calls or host access, so a condition string cannot reach
// arbitrary code execution; it does also accept the other operators of
// those fragments (such as `+` and `<`) and double-quoted strings.
package condition

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/PaesslerAG/gval"
)

// Context is the fixed set of identifiers a condition expression may
// reference.
type Context struct {
	Branch   string
	Tag      string
	Event    string
	PRNumber int
	CI       bool
}

func (c Context) asMap() map[string]interface{} {
	return map[string]interface{}{
		"branch":    c.Branch,
		"tag":       c.Tag,
		"event":     c.Event,
		"pr_number": c.PRNumber,
		"ci":        c.CI,
	}
}

var language = gval.NewLanguage(
	gval.Arithmetic(),
	gval.PropositionalLogic(),
	gval.Parentheses(),
	gval.Text(),
	gval.InfixOperator("matches", matchesOperator),
)

// Result carries the outcome of evaluating a condition along with any
// warning worth surfacing (e.g. an unknown identifier was referenced).
type Result struct {
	Satisfied bool
	Warning   string
}

var singleQuoted = regexp.MustCompile(`'([^'\\]*)'`)

// Evaluate evaluates expr against ctx. A blank expr is always satisfied
// (no condition means "always run"). An unknown identifier or malformed
// expression is fail-safe: the task is skipped (Satisfied=false) and a
// human-readable warning is returned rather than an error, since a broken
// condition must never crash the run.
func Evaluate(expr string, ctx Context) Result {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Result{Satisfied: true}
	}

	normalized := toDoubleQuoted(expr)

	value, err := language.Evaluate(normalized, ctx.asMap())
	if err != nil {
		return Result{Satisfied: false, Warning: fmt.Sprintf("condition %q could not be evaluated: %v", expr, err)}
	}

	satisfied, ok := value.(bool)
	if !ok {
		return Result{Satisfied: false, Warning: fmt.Sprintf("condition %q did not evaluate to a boolean", expr)}
	}
	return Result{Satisfied: satisfied}
}

// toDoubleQuoted rewrites single-quoted string literals to the
// double-quoted form gval's lexer expects, so conditions can use single
// quotes while gval's parser is reused unmodified. Double-quoted literals
// pass through unchanged.
func toDoubleQuoted(expr string) string {
	return singleQuoted.ReplaceAllString(expr, `"$1"`)
}

// matchesOperator implements the `matches` glob operator: left matches is
// satisfied when the left operand (typically branch or tag) matches the
// shell glob on the right (e.g. branch matches 'release/*').
func matchesOperator(a, b interface{}) (interface{}, error) {
	left, ok := a.(string)
	if !ok {
		return nil, fmt.Errorf("matches: left operand must be a string")
	}
	pattern, ok := b.(string)
	if !ok {
		return nil, fmt.Errorf("matches: right operand must be a string")
	}
	matched, err := path.Match(pattern, left)
	if err != nil {
		return nil, fmt.Errorf("matches: invalid glob %q: %w", pattern, err)
	}
	return matched, nil
}
