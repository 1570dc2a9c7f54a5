// Package connerr defines the typed error kinds shared across the
// connlm-go subsystems.
package connerr

import "fmt"

// Kind discriminates the classes of error the toolkit can raise.
type Kind int

const (
	// KindIO covers any disk read/write failure, including "disk full"
	// on FST write.
	KindIO Kind = iota
	// KindInvalidFormat covers magic mismatch, version out of range,
	// mixed text/binary, or a truncated numeric block.
	KindInvalidFormat
	// KindInvalidTopology covers duplicate names, dangling references,
	// or a cycle without a declared recurrent glue.
	KindInvalidTopology
	// KindDimMismatch covers numeric kernels given incompatible shapes.
	KindDimMismatch
	// KindNumericalInvariant covers NaN/∞ log-probs, probabilities
	// outside [0,1], or a non-positive back-off denominator.
	KindNumericalInvariant
	// KindOpt covers a missing required option or an invalid value.
	KindOpt
	// KindCancelled is returned once the global cancellation flag has
	// been observed.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IoError"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindInvalidTopology:
		return "InvalidTopology"
	case KindDimMismatch:
		return "DimMismatch"
	case KindNumericalInvariant:
		return "NumericalInvariant"
	case KindOpt:
		return "OptError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the single error type used across the toolkit. Op names the
// failing operation, Path (when relevant) names the offending file path
// or tensor/weight name, and Err carries the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, e.Path, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Op, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, connerr.Cancelled) style matching against a
// zero-value sentinel of the desired kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NewPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Sentinels usable with errors.Is for kind-only matching.
var (
	IO                 = &Error{Kind: KindIO}
	InvalidFormat      = &Error{Kind: KindInvalidFormat}
	InvalidTopology    = &Error{Kind: KindInvalidTopology}
	DimMismatch        = &Error{Kind: KindDimMismatch}
	NumericalInvariant = &Error{Kind: KindNumericalInvariant}
	Opt                = &Error{Kind: KindOpt}
	Cancelled          = &Error{Kind: KindCancelled}
)
