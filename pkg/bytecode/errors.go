package bytecode

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure reported by the decoders and the decompiler
// wraps exactly one of these, so callers can classify with errors.Is.
var (
	// ErrMalformedInput reports a truncated or otherwise invalid byte stream.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnsupportedOperation reports an opcode or control-flow shape that
	// has no known decoding or structuring.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrStructuralInconsistency reports a violated internal invariant:
	// overlapping construct bodies, irreducible loops, mismatched jumps.
	ErrStructuralInconsistency = errors.New("structural inconsistency")
)

// Error carries the location of a decoding or decompilation failure.
type Error struct {
	Kind   error  // one of the Err* kinds above
	Offset int    // absolute byte offset, -1 when unknown
	Opcode string // mnemonic of the instruction involved, if any
	Msg    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	loc := ""
	if e.Offset >= 0 {
		loc = fmt.Sprintf(" at 0x%04X", e.Offset)
	}
	if e.Opcode != "" {
		loc += fmt.Sprintf(" (%s)", e.Opcode)
	}
	if e.Msg == "" {
		return e.Kind.Error() + loc
	}
	return e.Kind.Error() + loc + ": " + e.Msg
}

// Unwrap returns the error kind.
func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, offset int, opcode string, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Offset: offset,
		Opcode: opcode,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// Malformed is shorthand for an ErrMalformedInput error.
func Malformed(offset int, format string, args ...any) *Error {
	return Errorf(ErrMalformedInput, offset, "", format, args...)
}

// Unsupported is shorthand for an ErrUnsupportedOperation error.
func Unsupported(offset int, opcode string, format string, args ...any) *Error {
	return Errorf(ErrUnsupportedOperation, offset, opcode, format, args...)
}

// Inconsistent is shorthand for an ErrStructuralInconsistency error.
func Inconsistent(offset int, format string, args ...any) *Error {
	return Errorf(ErrStructuralInconsistency, offset, "", format, args...)
}
