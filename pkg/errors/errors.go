// Package errors defines the closed, structured error taxonomy the
// orchestrator and its components use for programmatic matching, the way
// the kinds in an error-code table can be switched on without parsing
// strings.
package errors

import (
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error kinds a caller can match on.
type Kind string

const (
	// Graph parsing, before a graph is usable.
	KindInvalidJSON Kind = "InvalidJSON"
	KindSchema      Kind = "Schema"

	// Validation.
	KindEmptyName         Kind = "EmptyName"
	KindDuplicateTask     Kind = "DuplicateTask"
	KindSelfDependency    Kind = "SelfDependency"
	KindMissingDependency Kind = "MissingDependency"
	KindCycle             Kind = "Cycle"

	// Capability pass.
	KindCapabilityInvalidName Kind = "CapabilityInvalidName"
	KindCapabilitySelf        Kind = "CapabilitySelf"
	KindCapabilityMatrix      Kind = "CapabilityMatrix"
	KindCapabilityDuplicate   Kind = "CapabilityDuplicate"
	KindCapabilityMissing     Kind = "CapabilityMissing"

	// Artifact resolution.
	KindSourceTaskNotFound Kind = "SourceTaskNotFound"
	KindOutputNotFound     Kind = "OutputNotFound"
	KindCopyFailed         Kind = "CopyFailed"
	KindPathTraversal      Kind = "PathTraversal"

	// Auth.
	KindSecretUnresolved  Kind = "SecretUnresolved"
	KindOIDCUnavailable   Kind = "OIDCUnavailable"
	KindCredentialExchange Kind = "CredentialExchange"

	// Services.
	KindServiceStart Kind = "ServiceStart"
	KindServiceStop  Kind = "ServiceStop"

	// Gates.
	KindGateDenied   Kind = "GateDenied"
	KindGateTimedOut Kind = "GateTimedOut"

	// Execution.
	KindTimeout  Kind = "Timeout"
	KindExitCode Kind = "ExitCode"
	KindCrashed  Kind = "Crashed"

	// Targeting.
	KindTargetCapability Kind = "TargetCapability"
	KindPlacement        Kind = "Placement"
)

// Error is the structured payload every Sykli error carries: a closed kind
// for programmatic matching, a human message, optional structured details,
// and an HTTP status populated only for the event-bus/webhook surfaces.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, message string, httpStatus int) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, httpStatus int, err error) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}

// KindOf extracts the Kind of err, if it is a *Error.
func KindOf(err error) (Kind, bool) {
	se, ok := err.(*Error)
	if !ok {
		return "", false
	}
	return se.Kind, true
}

// --- constructors, one family per §7 category ---

func InvalidJSON(err error) *Error {
	return Wrap(KindInvalidJSON, "pipeline document is not valid JSON", http.StatusBadRequest, err)
}

func Schema(field, reason string) *Error {
	return New(KindSchema, "pipeline schema violation", http.StatusBadRequest).
		WithDetail("field", field).WithDetail("reason", reason)
}

func EmptyName(index int) *Error {
	return New(KindEmptyName, "task name is empty", http.StatusBadRequest).WithDetail("index", index)
}

func DuplicateTask(name string) *Error {
	return New(KindDuplicateTask, "task name is duplicated", http.StatusBadRequest).WithDetail("name", name)
}

func SelfDependency(task string) *Error {
	return New(KindSelfDependency, "task depends on itself", http.StatusBadRequest).WithDetail("task", task)
}

func MissingDependency(task, dep string) *Error {
	return New(KindMissingDependency, "task depends on an unknown task", http.StatusBadRequest).
		WithDetail("task", task).WithDetail("dep", dep)
}

func Cycle(path []string) *Error {
	return New(KindCycle, "dependency cycle detected", http.StatusBadRequest).WithDetail("path", path)
}

func CapabilityInvalidName(name string) *Error {
	return New(KindCapabilityInvalidName, "capability name is not well formed", http.StatusBadRequest).
		WithDetail("name", name)
}

func CapabilitySelf(task, name string) *Error {
	return New(KindCapabilitySelf, "task both provides and needs the same capability", http.StatusBadRequest).
		WithDetail("task", task).WithDetail("name", name)
}

func CapabilityMatrix(task string) *Error {
	return New(KindCapabilityMatrix, "task has both a matrix and provides", http.StatusBadRequest).
		WithDetail("task", task)
}

func CapabilityDuplicate(name string) *Error {
	return New(KindCapabilityDuplicate, "capability is provided by more than one task", http.StatusBadRequest).
		WithDetail("name", name)
}

func CapabilityMissing(task, name string) *Error {
	return New(KindCapabilityMissing, "needed capability is not provided by any task", http.StatusBadRequest).
		WithDetail("task", task).WithDetail("name", name)
}

func SourceTaskNotFound(task string) *Error {
	return New(KindSourceTaskNotFound, "source task for task_inputs entry not found", http.StatusNotFound).
		WithDetail("from_task", task)
}

func OutputNotFound(task, output string) *Error {
	return New(KindOutputNotFound, "source task has no such output", http.StatusNotFound).
		WithDetail("from_task", task).WithDetail("output", output)
}

func CopyFailed(src, dst string, err error) *Error {
	return Wrap(KindCopyFailed, "artifact copy failed", http.StatusInternalServerError, err).
		WithDetail("src", src).WithDetail("dst", dst)
}

func PathTraversal(path string) *Error {
	return New(KindPathTraversal, "path escapes the task workdir", http.StatusForbidden).WithDetail("path", path)
}

func SecretUnresolved(name string) *Error {
	return New(KindSecretUnresolved, "secret could not be resolved", http.StatusUnauthorized).WithDetail("name", name)
}

func OIDCUnavailable(err error) *Error {
	return Wrap(KindOIDCUnavailable, "OIDC credential exchange unavailable", http.StatusServiceUnavailable, err)
}

func CredentialExchange(err error) *Error {
	return Wrap(KindCredentialExchange, "credential exchange failed", http.StatusUnauthorized, err)
}

func ServiceStart(service string, err error) *Error {
	return Wrap(KindServiceStart, "service container failed to start", http.StatusInternalServerError, err).
		WithDetail("service", service)
}

func ServiceStop(service string, err error) *Error {
	return Wrap(KindServiceStop, "service container failed to stop", http.StatusInternalServerError, err).
		WithDetail("service", service)
}

func GateDenied(task string) *Error {
	return New(KindGateDenied, "gate denied", http.StatusForbidden).WithDetail("task", task)
}

func GateTimedOut(task string) *Error {
	return New(KindGateTimedOut, "gate timed out waiting for approval", http.StatusRequestTimeout).
		WithDetail("task", task)
}

func Timeout(task string) *Error {
	return New(KindTimeout, "task exceeded its timeout", http.StatusRequestTimeout).WithDetail("task", task)
}

func ExitCode(task string, code int) *Error {
	return New(KindExitCode, "task command exited non-zero", http.StatusOK).
		WithDetail("task", task).WithDetail("code", code)
}

func Crashed(task string, err error) *Error {
	return Wrap(KindCrashed, "task process crashed", http.StatusInternalServerError, err).WithDetail("task", task)
}

func TargetCapability(capability string) *Error {
	return New(KindTargetCapability, "target does not support a required capability", http.StatusNotImplemented).
		WithDetail("capability", capability)
}

func Placement(task string, reason string) *Error {
	return New(KindPlacement, "no node could run the task", http.StatusServiceUnavailable).
		WithDetail("task", task).WithDetail("reason", reason)
}
