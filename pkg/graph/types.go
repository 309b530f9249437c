// Package graph defines the task graph's typed model and parses pipeline
// JSON into it, performing the field-level normalisations spec.md §4.A
// describes before any downstream stage (validation, expansion, capability
// resolution) runs.
package graph

// MountKind is the tagged kind of a task mount.
type MountKind string

const (
	MountDirectory MountKind = "directory"
	MountCache     MountKind = "cache"
)

// Mount attaches a resource to a task at a path inside its execution
// environment.
type Mount struct {
	Resource string    `json:"resource"`
	Path     string    `json:"path"`
	Kind     MountKind `json:"kind"`
}

// Service is a background container started alongside a task, reachable on
// the task's isolated network under its DNS alias (Name).
type Service struct {
	Image string `json:"image"`
	Name  string `json:"name"`
}

// TaskInput copies one output of a dependency into this task's workdir
// before the task's command runs.
type TaskInput struct {
	FromTask   string `json:"from_task"`
	OutputName string `json:"output_name"`
	Dest       string `json:"dest"`
}

// GateStrategy is one of the supported gate approval mechanisms.
type GateStrategy string

const (
	GatePrompt  GateStrategy = "prompt"
	GateEnv     GateStrategy = "env"
	GateFile    GateStrategy = "file"
	GateWebhook GateStrategy = "webhook"
)

// Gate is an approval checkpoint attached to a task.
type Gate struct {
	Strategy  GateStrategy `json:"strategy"`
	Message   string       `json:"message"`
	TimeoutS  int          `json:"timeout_s"`
	EnvVar    string       `json:"env_var,omitempty"`
	FilePath  string       `json:"file_path,omitempty"`
}

// MatrixDimension is one named matrix axis with its value list, kept in
// the order the pipeline's JSON declared it so expansion can join variant
// names in that same declaration order rather than an arbitrary one.
type MatrixDimension struct {
	Name   string
	Values []string
}

// Task is the unit of execution: a shell command with its dependencies,
// inputs, outputs, and optional container.
type Task struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Container   string            `json:"container,omitempty"`
	Workdir     string            `json:"workdir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Mounts      []Mount           `json:"mounts,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Condition   string            `json:"condition,omitempty"`
	Secrets     []string          `json:"secrets,omitempty"`
	Matrix      []MatrixDimension `json:"matrix,omitempty"`
	MatrixValues map[string]string `json:"matrix_values,omitempty"`
	Services    []Service         `json:"services,omitempty"`
	Retry       int               `json:"retry,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
	TaskInputs  []TaskInput       `json:"task_inputs,omitempty"`
	Requires    []string          `json:"requires,omitempty"`
	Provides    []Capability      `json:"provides,omitempty"`
	Needs       []string          `json:"needs,omitempty"`
	Gate        *Gate             `json:"gate,omitempty"`
	OIDC        *OIDCBinding      `json:"oidc,omitempty"`
}

// Capability is one `name[:value]` entry a task provides for another task
// to `needs` instead of listing an explicit depends_on.
type Capability struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// OIDCBinding is the external collaborator's credential-exchange request
// shape; the core only ever treats its result as an env-var set.
type OIDCBinding struct {
	Audience string `json:"audience,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// EffectiveTimeout returns task.Timeout if set, else the 300s default.
func (t Task) EffectiveTimeout() int {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 300
}

// EffectiveRetry returns max(1, task.Retry) attempts.
func (t Task) EffectiveRetry() int {
	if t.Retry > 1 {
		return t.Retry
	}
	return 1
}

// ResourceKind is the tagged variant of a Resource.
type ResourceKind string

const (
	ResourceDirectory ResourceKind = "directory"
	ResourceCacheVol  ResourceKind = "cache"
)

// Resource is a directory or named cache volume referenced by task mounts.
type Resource struct {
	Kind  ResourceKind `json:"type"`
	Path  string       `json:"path,omitempty"`
	Globs []string     `json:"globs,omitempty"`
	Name  string       `json:"name,omitempty"`
}

// ID returns the resource's identifier: "src:<path>" for directories, the
// cache name for cache resources.
func (r Resource) ID() string {
	if r.Kind == ResourceDirectory {
		return "src:" + r.Path
	}
	return r.Name
}

// Document is the parsed, normalised but not-yet-validated graph: tasks are
// kept as an ordered slice (not yet keyed by name) so the validator can
// still detect duplicate names; resources are keyed by id since §3 says
// resources are addressed by id, not by insertion order.
type Document struct {
	Version   string
	Tasks     []Task
	Resources map[string]Resource
}

// Pipeline is the validated, expanded graph: a set of tasks keyed by
// (unique) name plus named resources. Ownership: exclusive to one
// orchestrator invocation.
type Pipeline struct {
	Version   string
	Tasks     map[string]Task
	Resources map[string]Resource
}

// TaskNames returns the pipeline's task names in no particular order.
func (p *Pipeline) TaskNames() []string {
	names := make([]string, 0, len(p.Tasks))
	for n := range p.Tasks {
		names = append(names, n)
	}
	return names
}
