package graph

import (
	"bytes"
	"encoding/json"
	"fmt"

	sykerr "github.com/sykli/engine/pkg/errors"
)

// rawTask mirrors the wire shape before normalisation: outputs may be a
// list or a map, and condition may arrive as the legacy `condition` field
// or the current `when` field.
type rawTask struct {
	Name        string              `json:"name"`
	Command     string              `json:"command"`
	Container   string              `json:"container"`
	Workdir     string              `json:"workdir"`
	Env         map[string]string   `json:"env"`
	Mounts      []rawMount          `json:"mounts"`
	Inputs      []string            `json:"inputs"`
	Outputs     json.RawMessage     `json:"outputs"`
	DependsOn   []string            `json:"depends_on"`
	Condition   string              `json:"condition"`
	When        string              `json:"when"`
	Secrets     []string            `json:"secrets"`
	Matrix      json.RawMessage     `json:"matrix"`
	Services    []Service           `json:"services"`
	Retry       *int                `json:"retry"`
	Timeout     *int                `json:"timeout"`
	TaskInputs  []TaskInput         `json:"task_inputs"`
	Requires    []string            `json:"requires"`
	Provides    []rawCapability     `json:"provides"`
	Needs       []string            `json:"needs"`
	Gate        *Gate               `json:"gate"`
	OIDC        *OIDCBinding        `json:"oidc"`
}

type rawMount struct {
	Resource string `json:"resource"`
	Path     string `json:"path"`
	Type     string `json:"type"`
}

// rawCapability accepts both `{"name": "x", "value": "y"}` and the bare
// string shorthand `"x"` for a provide with no value.
type rawCapability struct {
	Name  string
	Value string
}

func (c *rawCapability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Name = s
		return nil
	}
	var obj struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Name, c.Value = obj.Name, obj.Value
	return nil
}

type rawResource struct {
	Type  string   `json:"type"`
	Path  string   `json:"path"`
	Globs []string `json:"globs"`
	Name  string   `json:"name"`
}

type rawDocument struct {
	Version   string                 `json:"version"`
	Resources map[string]rawResource `json:"resources"`
	Tasks     []rawTask              `json:"tasks"`
}

// Parse parses pipeline JSON into a Document, applying the normalisations
// spec.md §4.A requires: a list-shaped outputs becomes output_0/output_1/…;
// `when` takes precedence over legacy `condition`; a missing task_inputs
// becomes an empty slice; a mount's bare type string becomes MountKind.
// Unknown top-level/task/resource fields are ignored by virtue of not being
// in the raw struct tags.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, sykerr.InvalidJSON(err)
	}

	doc := &Document{
		Version:   raw.Version,
		Resources: make(map[string]Resource, len(raw.Resources)),
	}

	for id, r := range raw.Resources {
		kind := ResourceKind(r.Type)
		if kind != ResourceDirectory && kind != ResourceCacheVol {
			return nil, sykerr.Schema(fmt.Sprintf("resources.%s.type", id), "must be \"directory\" or \"cache\"")
		}
		doc.Resources[id] = Resource{Kind: kind, Path: r.Path, Globs: r.Globs, Name: r.Name}
	}

	for i, rt := range raw.Tasks {
		if rt.Command == "" {
			return nil, sykerr.Schema(fmt.Sprintf("tasks[%d].command", i), "required")
		}
		task, err := normalizeTask(rt)
		if err != nil {
			return nil, err
		}
		doc.Tasks = append(doc.Tasks, task)
	}

	return doc, nil
}

func normalizeTask(rt rawTask) (Task, error) {
	outputs, err := normalizeOutputs(rt.Outputs)
	if err != nil {
		return Task{}, err
	}

	condition := rt.Condition
	if rt.When != "" {
		condition = rt.When
	}

	mounts := make([]Mount, 0, len(rt.Mounts))
	for _, m := range rt.Mounts {
		kind := MountKind(m.Type)
		if kind == "" {
			kind = MountDirectory
		}
		mounts = append(mounts, Mount{Resource: m.Resource, Path: m.Path, Kind: kind})
	}

	retry := 0
	if rt.Retry != nil {
		retry = *rt.Retry
	}
	timeout := 0
	if rt.Timeout != nil {
		timeout = *rt.Timeout
	}

	provides := make([]Capability, 0, len(rt.Provides))
	for _, p := range rt.Provides {
		provides = append(provides, Capability{Name: p.Name, Value: p.Value})
	}

	taskInputs := rt.TaskInputs
	if taskInputs == nil {
		taskInputs = []TaskInput{}
	}

	matrix, err := unmarshalMatrix(rt.Matrix)
	if err != nil {
		return Task{}, sykerr.Schema("tasks[].matrix", err.Error())
	}

	return Task{
		Name:       rt.Name,
		Command:    rt.Command,
		Container:  rt.Container,
		Workdir:    rt.Workdir,
		Env:        rt.Env,
		Mounts:     mounts,
		Inputs:     rt.Inputs,
		Outputs:    outputs,
		DependsOn:  rt.DependsOn,
		Condition:  condition,
		Secrets:    rt.Secrets,
		Matrix:     matrix,
		Services:   rt.Services,
		Retry:      retry,
		Timeout:    timeout,
		TaskInputs: taskInputs,
		Requires:   rt.Requires,
		Provides:   provides,
		Needs:      rt.Needs,
		Gate:       rt.Gate,
		OIDC:       rt.OIDC,
	}, nil
}

// unmarshalMatrix decodes a matrix object (dimension name -> value list)
// token-by-token instead of into a Go map, since map[string][]string loses
// the key order the pipeline declared its dimensions in, and spec.md §4.C
// joins variant names in that declaration order.
func unmarshalMatrix(raw json.RawMessage) ([]MatrixDimension, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("must be an object")
	}

	var dims []MatrixDimension
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("dimension name must be a string")
		}
		var values []string
		if err := dec.Decode(&values); err != nil {
			return nil, fmt.Errorf("dimension %q: %w", key, err)
		}
		dims = append(dims, MatrixDimension{Name: key, Values: values})
	}
	return dims, nil
}

// normalizeOutputs accepts either a JSON object (name -> path) or a JSON
// array (path, path, …), normalising the array form to output_0, output_1, …
func normalizeOutputs(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		out := make(map[string]string, len(asList))
		for i, path := range asList {
			out[fmt.Sprintf("output_%d", i)] = path
		}
		return out, nil
	}
	return nil, sykerr.Schema("outputs", "must be an object or array of paths")
}
