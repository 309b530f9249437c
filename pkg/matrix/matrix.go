// Package matrix expands tasks carrying a `matrix` field into one task per
// combination of its dimensions' values, the way spec.md §4.C describes:
// each combination becomes a new task named "<original>-<v1>-<v2>-…", with
// the chosen values injected both as SYKLI_MATRIX_<DIM> environment
// variables and recorded verbatim in matrix_values. Non-matrix tasks pass
// through untouched, so Expand is idempotent when run again on its own
// output.
package matrix

import (
	"strings"

	"github.com/sykli/engine/pkg/graph"
)

// Expand returns a new Pipeline with every matrix task replaced by its
// expanded variants, and every dependent's depends_on rewritten to name the
// full set of variants in place of the original task name.
func Expand(p *graph.Pipeline) *graph.Pipeline {
	out := &graph.Pipeline{
		Version:   p.Version,
		Tasks:     make(map[string]graph.Task, len(p.Tasks)),
		Resources: p.Resources,
	}

	// expansions maps an original matrix task's name to the ordered list of
	// variant names it expanded into, so dependents can be rewritten.
	expansions := make(map[string][]string)

	for name, t := range p.Tasks {
		if len(t.Matrix) == 0 {
			out.Tasks[name] = t
			continue
		}
		variants := expandOne(t)
		names := make([]string, 0, len(variants))
		for _, v := range variants {
			out.Tasks[v.Name] = v
			names = append(names, v.Name)
		}
		expansions[name] = names
	}

	if len(expansions) == 0 {
		return out
	}

	for name, t := range out.Tasks {
		if !dependsOnExpanded(t.DependsOn, expansions) {
			continue
		}
		t.DependsOn = rewriteDeps(t.DependsOn, expansions)
		out.Tasks[name] = t
	}

	return out
}

func dependsOnExpanded(deps []string, expansions map[string][]string) bool {
	for _, d := range deps {
		if _, ok := expansions[d]; ok {
			return true
		}
	}
	return false
}

// rewriteDeps replaces any dependency naming an expanded task with the full,
// order-preserving list of its variants.
func rewriteDeps(deps []string, expansions map[string][]string) []string {
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if variants, ok := expansions[d]; ok {
			out = append(out, variants...)
			continue
		}
		out = append(out, d)
	}
	return out
}

// expandOne computes the cartesian product of t.Matrix's dimensions,
// iterated in the order the pipeline declared them so variant names join
// in dimension-declaration order, and returns one Task per combination.
func expandOne(t graph.Task) []graph.Task {
	combos := [][]string{{}}
	for _, dim := range t.Matrix {
		next := make([][]string, 0, len(combos)*len(dim.Values))
		for _, combo := range combos {
			for _, v := range dim.Values {
				c := make([]string, len(combo), len(combo)+1)
				copy(c, combo)
				next = append(next, append(c, v))
			}
		}
		combos = next
	}

	dimNames := make([]string, len(t.Matrix))
	for i, dim := range t.Matrix {
		dimNames[i] = dim.Name
	}

	variants := make([]graph.Task, 0, len(combos))
	for _, combo := range combos {
		variants = append(variants, buildVariant(t, dimNames, combo))
	}
	return variants
}

func buildVariant(t graph.Task, dims []string, values []string) graph.Task {
	v := t
	v.Matrix = nil

	nameParts := make([]string, 0, len(values)+1)
	nameParts = append(nameParts, t.Name)

	env := make(map[string]string, len(t.Env)+len(values))
	for k, val := range t.Env {
		env[k] = val
	}
	matrixValues := make(map[string]string, len(values))

	for i, dim := range dims {
		val := values[i]
		nameParts = append(nameParts, val)
		env["SYKLI_MATRIX_"+strings.ToUpper(dim)] = val
		matrixValues[dim] = val
	}

	v.Name = strings.Join(nameParts, "-")
	v.Env = env
	v.MatrixValues = matrixValues
	return v
}
