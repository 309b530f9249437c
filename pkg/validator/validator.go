// Package validator runs the structural checks spec.md §4.B describes on a
// normalised graph.Document, in a fixed order, accumulating every error
// instead of failing on the first one found.
package validator

import (
	"fmt"
	"regexp"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Result is the validator's output: either a usable Pipeline (valid=true)
// or the full list of errors found.
type Result struct {
	Valid    bool
	Pipeline *graph.Pipeline
	Errors   []*errors.Error
	Warnings []string
}

// color marks a task's three-colour DFS state for cycle detection.
type color int

const (
	white color = iota
	grey
	black
)

// Validate runs the fixed-order checks of spec.md §4.B: empty/missing
// names, duplicates, self-dependency, missing dependency, then cycle
// detection via three-colour DFS. An empty task list is a warning, not an
// error.
func Validate(doc *graph.Document) *Result {
	res := &Result{}

	if len(doc.Tasks) == 0 {
		res.Warnings = append(res.Warnings, "no_tasks")
		res.Valid = true
		res.Pipeline = &graph.Pipeline{Version: doc.Version, Tasks: map[string]graph.Task{}, Resources: doc.Resources}
		return res
	}

	seen := make(map[string]int) // name -> count
	byName := make(map[string]graph.Task, len(doc.Tasks))

	for i, t := range doc.Tasks {
		if t.Name == "" {
			res.Errors = append(res.Errors, errors.EmptyName(i))
			continue
		}
		if !nameRe.MatchString(t.Name) {
			res.Errors = append(res.Errors, errors.Schema(fmt.Sprintf("tasks[%d].name", i), "must match [A-Za-z0-9_-]+"))
			continue
		}
		seen[t.Name]++
		byName[t.Name] = t
	}

	for name, count := range seen {
		if count > 1 {
			res.Errors = append(res.Errors, errors.DuplicateTask(name))
		}
	}

	for name, t := range byName {
		for _, dep := range t.DependsOn {
			if dep == name {
				res.Errors = append(res.Errors, errors.SelfDependency(name))
			}
		}
	}

	for name, t := range byName {
		for _, dep := range t.DependsOn {
			if dep == name {
				continue // already reported as self-dependency
			}
			if _, ok := byName[dep]; !ok {
				res.Errors = append(res.Errors, errors.MissingDependency(name, dep))
			}
		}
	}

	res.Errors = append(res.Errors, detectCycles(byName)...)

	if len(res.Errors) > 0 {
		res.Valid = false
		return res
	}

	res.Valid = true
	res.Pipeline = &graph.Pipeline{Version: doc.Version, Tasks: byName, Resources: doc.Resources}
	return res
}

// detectCycles runs a three-colour DFS over the dependency graph. When a
// grey (on-stack) node is reached via a back-edge, the cycle is
// reconstructed by walking parent pointers from the back-edge source back
// to the target. Self-loops are reported by the caller as SelfDependency,
// and detectCycles also reports each one as the length-1 cycle
// [name, name].
func detectCycles(byName map[string]graph.Task) []*errors.Error {
	colors := make(map[string]color, len(byName))
	parent := make(map[string]string, len(byName))
	var found []*errors.Error
	reported := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		colors[name] = grey
		for _, dep := range byName[name].DependsOn {
			if _, ok := byName[dep]; !ok {
				continue // missing dependency, already reported
			}
			switch colors[dep] {
			case white:
				parent[dep] = name
				visit(dep)
			case grey:
				path := reconstructCycle(parent, name, dep)
				key := fmt.Sprint(path)
				if !reported[key] {
					reported[key] = true
					found = append(found, errors.Cycle(path))
				}
			case black:
				// already fully explored, no cycle through here
			}
		}
		colors[name] = black
	}

	for name := range byName {
		if colors[name] == white {
			visit(name)
		}
	}
	return found
}

// reconstructCycle walks parent pointers from src back to target (the
// back-edge's destination, i.e. the grey node that closes the cycle) and
// returns the path target -> ... -> src -> target.
func reconstructCycle(parent map[string]string, src, target string) []string {
	path := []string{src}
	cur := src
	for cur != target {
		p, ok := parent[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	// path is currently src ... target in reverse discovery order; reverse
	// it so it reads target -> ... -> src, then close the loop back to target.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return append(path, target)
}
