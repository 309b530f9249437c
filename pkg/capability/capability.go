// Package capability resolves the provides/needs dependency shorthand
// spec.md §4.D describes: a task that needs a capability gets an implicit
// depends_on entry for whichever task provides it, plus a
// SYKLI_CAP_<NAME> environment variable when the provider declared a
// value. Resolve is idempotent: running it again on its own output adds no
// further depends_on entries, since the injected dependency is already
// present.
package capability

import (
	"regexp"
	"strings"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
)

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// provider records which task provides a capability and the value (if any)
// it declared for it.
type provider struct {
	task  string
	value string
}

// Resolve validates every task's provides/needs declarations and injects
// the implied dependencies and environment variables. It returns every
// error found; on success (no errors), the returned Pipeline is the one to
// use downstream.
func Resolve(p *graph.Pipeline) (*graph.Pipeline, []*errors.Error) {
	var errs []*errors.Error

	providers := make(map[string]provider)
	for name, t := range p.Tasks {
		for _, cap := range t.Provides {
			if !nameRe.MatchString(cap.Name) {
				errs = append(errs, errors.CapabilityInvalidName(cap.Name))
				continue
			}
			if len(t.Matrix) > 0 {
				errs = append(errs, errors.CapabilityMatrix(name))
				continue
			}
			if existing, ok := providers[cap.Name]; ok && existing.task != name {
				errs = append(errs, errors.CapabilityDuplicate(cap.Name))
				continue
			}
			providers[cap.Name] = provider{task: name, value: cap.Value}
		}
	}

	for name, t := range p.Tasks {
		for _, need := range t.Needs {
			if !nameRe.MatchString(need) {
				errs = append(errs, errors.CapabilityInvalidName(need))
				continue
			}
			prov, ok := providers[need]
			if !ok {
				errs = append(errs, errors.CapabilityMissing(name, need))
				continue
			}
			if prov.task == name {
				errs = append(errs, errors.CapabilitySelf(name, need))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	out := &graph.Pipeline{Version: p.Version, Tasks: make(map[string]graph.Task, len(p.Tasks)), Resources: p.Resources}
	for name, t := range p.Tasks {
		out.Tasks[name] = injectNeeds(t, providers)
	}
	return out, nil
}

// injectNeeds folds each of t's needs into depends_on (deduplicated,
// order-preserving) and sets SYKLI_CAP_<NAME> for any provider that
// declared a value.
func injectNeeds(t graph.Task, providers map[string]provider) graph.Task {
	if len(t.Needs) == 0 {
		return t
	}

	deps := make([]string, 0, len(t.DependsOn)+len(t.Needs))
	present := make(map[string]bool, len(t.DependsOn))
	for _, d := range t.DependsOn {
		if !present[d] {
			present[d] = true
			deps = append(deps, d)
		}
	}

	var env map[string]string
	for _, need := range t.Needs {
		prov := providers[need]
		if !present[prov.task] {
			present[prov.task] = true
			deps = append(deps, prov.task)
		}
		if prov.value != "" {
			if env == nil {
				env = make(map[string]string, len(t.Env)+1)
				for k, v := range t.Env {
					env[k] = v
				}
			}
			env["SYKLI_CAP_"+strings.ToUpper(strings.ReplaceAll(need, "-", "_"))] = prov.value
		}
	}
	if env == nil {
		env = t.Env
	}

	t.DependsOn = deps
	t.Env = env
	return t
}
