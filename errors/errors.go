package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in instrumentation the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // binary to module
	PhaseEncode   Phase = "encode"   // module to binary
	PhasePlumbing Phase = "plumbing" // hook imports and index remapping
	PhaseRewrite  Phase = "rewrite"  // function body rewriting
	PhaseGlue     Phase = "glue"     // JavaScript glue generation
	PhaseConfig   Phase = "config"   // option and hook set parsing
	PhaseHost     Phase = "host"     // Go-side hook runtime
)

// Kind categorizes the error
type Kind string

const (
	KindDecode               Kind = "decode_error"
	KindEncode               Kind = "encode_error"
	KindCapacityExceeded     Kind = "capacity_exceeded"
	KindMalformedInstruction Kind = "malformed_instruction"
	KindInvalidInput         Kind = "invalid_input"
	KindInstantiation        Kind = "instantiation"
)

// Sentinels for errors.Is. A sentinel without a phase matches its kind in
// any phase.
var (
	ErrDecode               = &Error{Kind: KindDecode}
	ErrEncode               = &Error{Kind: KindEncode}
	ErrCapacityExceeded     = &Error{Kind: KindCapacityExceeded}
	ErrMalformedInstruction = &Error{Kind: KindMalformedInstruction}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
)

// Site locates an error inside a function body. Instr is -1 when the error
// concerns the function as a whole.
type Site struct {
	Func  uint32
	Instr int
}

// Error is the structured error type used throughout wasabi
type Error struct {
	Value  any
	Cause  error
	Site   *Site
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Site != nil {
		fmt.Fprintf(&b, " in func %d", e.Site.Func)
		if e.Site.Instr >= 0 {
			fmt.Fprintf(&b, " at instr %d", e.Site.Instr)
		}
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// Is reports whether target matches this error. Kinds must be equal; an
// empty target phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Phase == "" || e.Phase == t.Phase)
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

// At locates the error at instruction instr of function fn
func (b *Builder) At(fn uint32, instr int) *Builder {
	b.err.Site = &Site{Func: fn, Instr: instr}
	return b
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
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

// Decode wraps a binary decoding failure
func Decode(cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindDecode,
		Detail: "parse module",
		Cause:  cause,
	}
}

// Encode wraps a binary encoding failure
func Encode(cause error) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindEncode,
		Detail: "encode module",
		Cause:  cause,
	}
}

// CapacityExceeded reports an index space or local count over its limit
func CapacityExceeded(what string, have, limit int) *Error {
	return &Error{
		Phase:  PhasePlumbing,
		Kind:   KindCapacityExceeded,
		Path:   []string{what},
		Detail: fmt.Sprintf("%d exceeds limit %d", have, limit),
		Value:  have,
	}
}

// Malformed reports an instruction that cannot be instrumented
func Malformed(fn uint32, instr int, detail string, args ...any) *Error {
	return New(PhaseRewrite, KindMalformedInstruction).At(fn, instr).Detail(detail, args...).Build()
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
