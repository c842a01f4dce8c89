// Package ferrors defines the harness's error taxonomy. Every kind keeps
// its cause and returns it from Unwrap, so callers can still
// errors.Is/errors.As through to
// the underlying failure, while components that only care about the
// category can switch on Kind.
package ferrors

import "fmt"

// Kind is one of the abstract error categories from the harness's error
// taxonomy.
type Kind string

const (
	KindMalformedDiff        Kind = "malformed_diff"
	KindPatchApplyFailed     Kind = "patch_apply_failed"
	KindCommandFailed        Kind = "command_failed"
	KindTestExecutionTimeout Kind = "test_execution_timeout"
	KindContainerCreation    Kind = "container_creation"
	KindContainerOperation   Kind = "container_operation"
	KindImageBuild           Kind = "image_build"
	KindAgentSetup           Kind = "agent_setup"
	KindAgentExecution       Kind = "agent_execution"
	KindSpecProcessing       Kind = "spec_processing"
	KindConfiguration        Kind = "configuration"
	KindFileOperation        Kind = "file_operation"
)

// Error is the concrete error type carried through the harness. Two
// Errors compare equal under errors.Is when their Kind matches.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports equality by Kind only, so sentinel-style checks such as
// errors.Is(err, ferrors.New(ferrors.KindAgentSetup, "", nil)) work
// without callers needing to construct a full message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind, wrapping cause (which may be nil).
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Wrap is a convenience constructor that formats msg like fmt.Sprintf.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func MalformedDiff(format string, args ...any) *Error {
	return Wrap(KindMalformedDiff, nil, format, args...)
}

func PatchApplyFailed(cause error, format string, args ...any) *Error {
	return Wrap(KindPatchApplyFailed, cause, format, args...)
}

func CommandFailed(cause error, format string, args ...any) *Error {
	return Wrap(KindCommandFailed, cause, format, args...)
}

func TestExecutionTimeout(format string, args ...any) *Error {
	return Wrap(KindTestExecutionTimeout, nil, format, args...)
}

func ContainerCreation(cause error, format string, args ...any) *Error {
	return Wrap(KindContainerCreation, cause, format, args...)
}

func ContainerOperation(cause error, format string, args ...any) *Error {
	return Wrap(KindContainerOperation, cause, format, args...)
}

func ImageBuild(cause error, format string, args ...any) *Error {
	return Wrap(KindImageBuild, cause, format, args...)
}

func AgentSetup(cause error, format string, args ...any) *Error {
	return Wrap(KindAgentSetup, cause, format, args...)
}

func AgentExecution(cause error, format string, args ...any) *Error {
	return Wrap(KindAgentExecution, cause, format, args...)
}

func SpecProcessing(cause error, format string, args ...any) *Error {
	return Wrap(KindSpecProcessing, cause, format, args...)
}

func Configuration(cause error, format string, args ...any) *Error {
	return Wrap(KindConfiguration, cause, format, args...)
}

func FileOperation(cause error, format string, args ...any) *Error {
	return Wrap(KindFileOperation, cause, format, args...)
}
