package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sykli/engine/pkg/graph"
)

func TestAssignLevels_NoDeps(t *testing.T) {
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"a": {Name: "a"},
		"b": {Name: "b"},
	}}
	levels := assignLevels(p)
	assert.Equal(t, 0, levels["a"])
	assert.Equal(t, 0, levels["b"])
}

func TestAssignLevels_Chain(t *testing.T) {
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"a": {Name: "a"},
		"b": {Name: "b", DependsOn: []string{"a"}},
		"c": {Name: "c", DependsOn: []string{"b"}},
	}}
	levels := assignLevels(p)
	assert.Equal(t, 0, levels["a"])
	assert.Equal(t, 1, levels["b"])
	assert.Equal(t, 2, levels["c"])
}

func TestAssignLevels_DiamondTakesMaxOfDeps(t *testing.T) {
	p := &graph.Pipeline{Tasks: map[string]graph.Task{
		"a": {Name: "a"},
		"b": {Name: "b", DependsOn: []string{"a"}},
		"c": {Name: "c", DependsOn: []string{"a"}, Matrix: nil},
		"d": {Name: "d", DependsOn: []string{"b", "c"}},
	}}
	p.Tasks["c"] = graph.Task{Name: "c", DependsOn: []string{"a", "b"}}
	levels := assignLevels(p)
	assert.Equal(t, 2, levels["c"])
	assert.Equal(t, 3, levels["d"])
}

func TestGroupByLevel_OrdersByLevelAndSortsNames(t *testing.T) {
	levels := map[string]int{"b": 0, "a": 0, "c": 1}
	groups := groupByLevel(levels)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, groups)
}
