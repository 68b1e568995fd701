package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseTrajCon  Phase = "trajcon"  // trajectory-control setup
	PhaseTopology Phase = "topology" // topology load
	PhaseMDSys    Phase = "mdsys"    // simulation-state setup
	PhaseEvaluate Phase = "evaluate" // force/energy evaluation
	PhaseTeardown Phase = "teardown" // triad destruction
	PhaseMarshal  Phase = "marshal"  // buffer staging to and from guest memory
	PhaseLoad     Phase = "load"     // evaluator module loading
	PhaseABI      Phase = "abi"      // evaluator export validation
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseBinding  Phase = "binding"  // host call surface
)

// Kind categorizes the error
type Kind string

const (
	KindResourceLoad   Kind = "resource_load"
	KindPrecondition   Kind = "precondition_violation"
	KindAllocation     Kind = "allocation"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindNativeStatus   Kind = "native_status"
	KindTrap           Kind = "trap"
	KindTypeMismatch   Kind = "type_mismatch"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindInstantiation  Kind = "instantiation"
	KindInvalidConfig  Kind = "invalid_config"
	KindMissingExport  Kind = "missing_export"
	KindNotInitialized Kind = "not_initialized"
)

// Sentinels for errors.Is. A target without a Phase matches any phase.
var (
	ErrResourceLoad = &Error{Kind: KindResourceLoad}
	ErrPrecondition = &Error{Kind: KindPrecondition}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Export string
	Detail string
	Status int32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Export != "" {
		b.WriteString(" in ")
		b.WriteString(e.Export)
	}

	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Stage names the construction step that failed, for resource load errors.
func (e *Error) Stage() string {
	switch e.Phase {
	case PhaseTrajCon:
		return "trajectory-control setup"
	case PhaseTopology:
		return "topology load"
	case PhaseMDSys:
		return "simulation-state setup"
	default:
		return string(e.Phase)
	}
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Export sets the evaluator export involved
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Status sets the evaluator status code
func (b *Builder) Status(code int32) *Builder {
	b.err.Status = code
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// ResourceLoad creates a construction failure for one of the triad stages.
func ResourceLoad(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResourceLoad,
		Detail: detail,
		Cause:  cause,
	}
}

// Precondition creates a precondition violation error
func Precondition(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPrecondition,
		Detail: detail,
	}
}

// LengthMismatch creates a precondition violation for a mis-sized buffer.
func LengthMismatch(phase Phase, buffer string, got, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPrecondition,
		Detail: fmt.Sprintf("%s buffer has %d values, want %d", buffer, got, want),
		Value:  got,
	}
}

// NativeStatus creates an error for a non-zero status returned by an export.
func NativeStatus(phase Phase, export string, status int32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNativeStatus,
		Export: export,
		Status: status,
	}
}

// Trap creates an error for a call that trapped inside the evaluator.
func Trap(phase Phase, export string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrap,
		Export: export,
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("offset=%d, length=%d outside linear memory", offset, length),
		Value:  offset,
	}
}

// SignatureMismatch creates an ABI type mismatch error
func SignatureMismatch(export, want, got string) *Error {
	return &Error{
		Phase:  PhaseABI,
		Kind:   KindTypeMismatch,
		Export: export,
		Detail: fmt.Sprintf("want %s, got %s", want, got),
	}
}

// NotInitialized creates a not-initialized error for a missing component
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidConfig creates a configuration error
func InvalidConfig(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate evaluator",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExportsError is returned when an evaluator module lacks ABI exports
type MissingExportsError struct {
	Exports []string
}

// NewMissingExportsError creates an error from a list of export names
func NewMissingExportsError(exports []string) *MissingExportsError {
	return &MissingExportsError{Exports: append([]string(nil), exports...)}
}

func (e *MissingExportsError) Error() string {
	if len(e.Exports) == 0 {
		return "[abi] missing_export: no exports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "evaluator is missing %d export(s):\n", len(e.Exports))
	for _, name := range e.Exports {
		b.WriteString("  - ")
		b.WriteString(name)
		b.WriteByte('\n')
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingExportsError:
		return true
	case *Error:
		return t.Kind == KindMissingExport && (t.Phase == "" || t.Phase == PhaseABI)
	}
	return false
}
