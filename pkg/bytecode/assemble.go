package bytecode

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Assembler: builds root and calc streams with symbolic jump labels.
// Used by tests and tools to describe scripts readably.
// ---------------------------------------------------------------------------

type fixup struct {
	at       int    // position of the i32 placeholder
	insStart int    // start of the instruction that owns it
	label    string // target label
}

// Operand is one encoded root operand.
type Operand interface {
	encode(a *Assembler, insStart int)
}

// Imm encodes an i32 operand (immediates and variable indices alike).
type Imm int32

// To encodes an i32 offset to a label, relative to the instruction start.
type To string

// Flag encodes a one-byte boolean.
type Flag bool

// Str encodes a 256-byte string field.
type Str string

// Blob encodes a 16-byte raw field; shorter values are zero padded.
type Blob []byte

// Case is one entry of a switch table operand.
type Case struct {
	Value int32
	Label string
}

// Cases encodes a switch table: count followed by (value, offset) pairs.
type Cases []Case

// Body encodes an embedded calc stream with its length prefix.
type Body struct{ *CalcAssembler }

func (v Imm) encode(a *Assembler, _ int) { a.putI32(int32(v)) }

func (v To) encode(a *Assembler, insStart int) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), insStart: insStart, label: string(v)})
	a.putI32(0)
}

func (v Flag) encode(a *Assembler, _ int) {
	if v {
		a.buf = append(a.buf, 1)
	} else {
		a.buf = append(a.buf, 0)
	}
}

func (v Str) encode(a *Assembler, _ int) {
	field := make([]byte, StringFieldSize)
	copy(field, v)
	a.buf = append(a.buf, field...)
}

func (v Blob) encode(a *Assembler, _ int) {
	field := make([]byte, BlobFieldSize)
	copy(field, v)
	a.buf = append(a.buf, field...)
}

func (v Cases) encode(a *Assembler, insStart int) {
	a.putI32(int32(len(v)))
	for _, c := range v {
		a.putI32(c.Value)
		To(c.Label).encode(a, insStart)
	}
}

func (v Body) encode(a *Assembler, _ int) {
	if v.CalcAssembler == nil {
		a.putI32(0)
		return
	}
	code := v.Bytes()
	a.putI32(int32(len(code)))
	a.buf = append(a.buf, code...)
}

// Assembler builds a root stream.
type Assembler struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
}

// NewAssembler creates an empty root stream assembler.
func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, 256), labels: make(map[string]int)}
}

// Offset returns the offset the next instruction will be written at.
func (a *Assembler) Offset() int { return len(a.buf) }

// Label binds name to the current offset.
func (a *Assembler) Label(name string) {
	a.labels[name] = len(a.buf)
}

// Emit appends one root instruction and returns its start offset.
func (a *Assembler) Emit(op RootOpcode, operands ...Operand) int {
	start := len(a.buf)
	a.buf = binary.LittleEndian.AppendUint16(a.buf, uint16(op))
	for _, o := range operands {
		o.encode(a, start)
	}
	return start
}

// Raw appends bytes verbatim.
func (a *Assembler) Raw(b ...byte) {
	a.buf = append(a.buf, b...)
}

// Bytes resolves labels and returns the encoded stream.
// Panics on an undefined label: assembler input is program text, not data.
func (a *Assembler) Bytes() []byte {
	out := append([]byte(nil), a.buf...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("bytecode: undefined label %q", f.label))
		}
		binary.LittleEndian.PutUint32(out[f.at:], uint32(int32(target-f.insStart)))
	}
	return out
}

func (a *Assembler) putI32(v int32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(v))
}

// CalcAssembler builds a calc stream. Jump offsets are relative to the
// jumping instruction, so a stream can be embedded anywhere.
type CalcAssembler struct {
	Assembler
}

// NewCalc creates an empty calc stream assembler.
func NewCalc() *CalcAssembler {
	return &CalcAssembler{Assembler{buf: make([]byte, 0, 32), labels: make(map[string]int)}}
}

// Op appends an operand-less calc instruction.
func (c *CalcAssembler) Op(op CalcOpcode) *CalcAssembler {
	c.buf = append(c.buf, byte(op))
	return c
}

// OpArgs appends a calc instruction with i32 operands.
func (c *CalcAssembler) OpArgs(op CalcOpcode, args ...int32) *CalcAssembler {
	c.buf = append(c.buf, byte(op))
	for _, v := range args {
		c.putI32(v)
	}
	return c
}

// PushInt appends PUSH_INT.
func (c *CalcAssembler) PushInt(v int32) *CalcAssembler { return c.OpArgs(CalcPushInt, v) }

// PushVar appends PUSH_VAR.
func (c *CalcAssembler) PushVar(v int32) *CalcAssembler { return c.OpArgs(CalcPushVar, v) }

// PushAddr appends PUSH_ADDR.
func (c *CalcAssembler) PushAddr(v int32) *CalcAssembler { return c.OpArgs(CalcPushAddr, v) }

// WriteVar appends WRITE_VAR.
func (c *CalcAssembler) WriteVar(v int32) *CalcAssembler { return c.OpArgs(CalcWriteVar, v) }

// Call appends CALL.
func (c *CalcAssembler) Call(proc, argc int32) *CalcAssembler {
	return c.OpArgs(CalcCall, proc, argc)
}

// Jump appends a conditional calc jump to label.
func (c *CalcAssembler) Jump(op CalcOpcode, label string) *CalcAssembler {
	start := len(c.buf)
	c.buf = append(c.buf, byte(op))
	c.fixups = append(c.fixups, fixup{at: len(c.buf), insStart: start, label: label})
	c.putI32(0)
	return c
}

// Mark binds label to the current position of the calc stream.
func (c *CalcAssembler) Mark(label string) *CalcAssembler {
	c.Label(label)
	return c
}

// Return appends RETURN.
func (c *CalcAssembler) Return() *CalcAssembler { return c.Op(CalcReturn) }
