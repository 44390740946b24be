package bytecode

import "fmt"

// ArgKind tags the shape of a decoded operand.
type ArgKind uint8

const (
	ArgImmediate ArgKind = iota // plain integer
	ArgVariable                 // variable index
	ArgOffset                   // offset relative to the instruction start
	ArgBool                     // flag
	ArgString                   // fixed-size string field
	ArgBlob                     // fixed-size raw bytes
)

// String returns a human-readable name for ArgKind.
func (k ArgKind) String() string {
	switch k {
	case ArgImmediate:
		return "imm"
	case ArgVariable:
		return "var"
	case ArgOffset:
		return "offset"
	case ArgBool:
		return "bool"
	case ArgString:
		return "string"
	case ArgBlob:
		return "blob"
	default:
		return fmt.Sprintf("ArgKind(%d)", k)
	}
}

// Argument is one decoded operand.
type Argument struct {
	Kind  ArgKind
	Value int32  // immediate, variable index, offset, or 0/1 for flags
	Text  string // ArgString only
	Blob  []byte // ArgBlob only
}

// Comparison operators selected by the cmp operand of RootJumpIf.
const (
	CompareEq int32 = iota
	CompareNe
	CompareLt
	CompareLe
	CompareGt
	CompareGe
)

// CalcInstruction is one decoded instruction of a calc stream.
// Start and End are absolute byte offsets in the script buffer.
type CalcInstruction struct {
	Op    CalcOpcode
	Start int
	End   int
	Args  []Argument
}

// Len returns the encoded length of the instruction.
func (c CalcInstruction) Len() int { return c.End - c.Start }

// Target returns the absolute jump target of a calc jump.
func (c CalcInstruction) Target() int {
	return c.Start + int(c.Args[0].Value)
}

// RootInstruction is one decoded instruction of the root stream.
// Instructions are immutable after decoding.
type RootInstruction struct {
	Op    RootOpcode
	Start int
	End   int
	Args  []Argument

	// Calc holds the embedded calc stream for opcodes with a FieldCalc slot.
	// CalcStart and CalcEnd delimit its bytes; both equal End when absent.
	Calc      []CalcInstruction
	CalcStart int
	CalcEnd   int
}

// Len returns the encoded length of the instruction.
func (r RootInstruction) Len() int { return r.End - r.Start }

// HasCalc reports whether the instruction embeds a calc stream field.
func (r RootInstruction) HasCalc() bool {
	info, _ := LookupRoot(r.Op)
	for _, f := range info.Fields {
		if f == FieldCalc {
			return true
		}
	}
	return false
}

// Targets returns the absolute offsets of every ArgOffset operand in
// operand order.
func (r RootInstruction) Targets() []int {
	var out []int
	for _, a := range r.Args {
		if a.Kind == ArgOffset {
			out = append(out, r.Start+int(a.Value))
		}
	}
	return out
}

// SwitchCase is one (value, target) entry of a switch table.
type SwitchCase struct {
	Value  int32
	Target int // absolute
}

// CaseTable decodes the switch table of a switch-family instruction.
// It returns the cases in table order and the absolute default target.
func (r RootInstruction) CaseTable() ([]SwitchCase, int, error) {
	if !r.Op.IsSwitch() {
		return nil, 0, Unsupported(r.Start, r.Op.String(), "not a switch")
	}
	args := r.Args
	if r.Op == RootSwitch {
		args = args[1:] // variable
	}
	if len(args) < 2 {
		return nil, 0, Malformed(r.Start, "switch table truncated")
	}
	n := int(args[0].Value)
	if len(args) != 1+2*n+1 {
		return nil, 0, Malformed(r.Start, "switch table has %d operands for %d cases", len(args), n)
	}
	cases := make([]SwitchCase, 0, n)
	for i := 0; i < n; i++ {
		cases = append(cases, SwitchCase{
			Value:  args[1+2*i].Value,
			Target: r.Start + int(args[2+2*i].Value),
		})
	}
	def := r.Start + int(args[len(args)-1].Value)
	return cases, def, nil
}
