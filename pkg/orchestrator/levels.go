package orchestrator

import (
	"sort"

	"github.com/sykli/engine/pkg/graph"
)

// assignLevels computes each task's level: 0 for a task with no
// dependencies, otherwise 1 + the maximum level of its dependencies. The
// pipeline is assumed already validated acyclic, so the recursion always
// terminates.
func assignLevels(p *graph.Pipeline) map[string]int {
	levels := make(map[string]int, len(p.Tasks))
	var compute func(name string) int
	compute = func(name string) int {
		if lvl, ok := levels[name]; ok {
			return lvl
		}
		task := p.Tasks[name]
		if len(task.DependsOn) == 0 {
			levels[name] = 0
			return 0
		}
		max := -1
		for _, dep := range task.DependsOn {
			if lvl := compute(dep); lvl > max {
				max = lvl
			}
		}
		levels[name] = max + 1
		return max + 1
	}
	for name := range p.Tasks {
		compute(name)
	}
	return levels
}

// groupByLevel buckets task names by their level and returns the buckets
// ordered by ascending level.
func groupByLevel(levels map[string]int) [][]string {
	maxLevel := -1
	for _, lvl := range levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	groups := make([][]string, maxLevel+1)
	for name, lvl := range levels {
		groups[lvl] = append(groups[lvl], name)
	}
	for _, g := range groups {
		sort.Strings(g)
	}
	return groups
}
