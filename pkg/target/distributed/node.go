// Package distributed implements the Distributed execution backend
// spec.md §4.I describes: tasks are placed on one of a fixed set of nodes
// by matching each task's `requires` labels against a capability map
// gopsutil reads off that node, dispatched over SSH, with a reserved
// "local" node address that bypasses SSH entirely and calls the wrapped
// Local backend in-process — the same escape hatch a single-node pipeline
// needs without standing up a worker to talk to itself.
package distributed

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// LocalNodeAddr is the sentinel address meaning "run in-process via the
// wrapped Local backend instead of dialing SSH".
const LocalNodeAddr = "local"

// Node is one placement candidate: an address ("local" or "host:port")
// and the label set a task's `requires` entries are matched against.
type Node struct {
	ID     string
	Addr   string
	Labels map[string]string
}

// NodeSelector filters a fixed node list by each task's requires list.
type NodeSelector struct {
	nodes []Node
}

// NewNodeSelector builds a selector over nodes, in the order candidates
// should be tried.
func NewNodeSelector(nodes []Node) *NodeSelector {
	return &NodeSelector{nodes: nodes}
}

// Candidates returns, in selector order, every node whose labels satisfy
// every entry of requires. A requires entry of "key=value" matches a node
// whose Labels[key] == value; a bare "key" matches any node that has the
// label at all.
func (s *NodeSelector) Candidates(requires []string) []Node {
	if len(requires) == 0 {
		return s.nodes
	}
	var out []Node
	for _, n := range s.nodes {
		if satisfies(n, requires) {
			out = append(out, n)
		}
	}
	return out
}

func satisfies(n Node, requires []string) bool {
	for _, req := range requires {
		if key, value, ok := strings.Cut(req, "="); ok {
			if n.Labels[key] != value {
				return false
			}
			continue
		}
		if _, ok := n.Labels[req]; !ok {
			return false
		}
	}
	return true
}

// ProbeLocalLabels builds the capability label set for the machine this
// process runs on, combining gopsutil readings with the static os/arch the
// runtime already knows, for use as a Node's Labels.
func ProbeLocalLabels(extra map[string]string) map[string]string {
	labels := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if info, err := host.Info(); err == nil {
		labels["hostname"] = info.Hostname
		labels["platform"] = info.Platform
	}
	if counts, err := cpu.Counts(true); err == nil {
		labels["cpu_cores"] = strconv.Itoa(counts)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		labels["mem_gb"] = fmt.Sprintf("%d", vm.Total/(1024*1024*1024))
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}
