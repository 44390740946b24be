package bytecode

import "fmt"

// RootOpcode identifies an engine-level instruction of the outer stream.
// Root opcodes are two bytes wide and grouped into ranges by category.
type RootOpcode uint16

const (
	// ========================================================================
	// Control (0x0000-0x000F)
	// ========================================================================

	RootNop        RootOpcode = 0x0000 // No operation
	RootCalc       RootOpcode = 0x0001 // Run an embedded calc stream: <len:i32> <calc>
	RootJump       RootOpcode = 0x0002 // Unconditional jump: <offset:i32>
	RootJumpIf     RootOpcode = 0x0003 // Value comparison: <var> <cmp> <value> <offset>
	RootJumpIfCalc RootOpcode = 0x0004 // Computed branch: <then> <else> <len> <calc>
	RootSwitch     RootOpcode = 0x0005 // Switch on variable: <var> <cases> <default>
	RootSwitchCalc RootOpcode = 0x0006 // Switch on computed value: <cases> <default> <len> <calc>
	RootReturn     RootOpcode = 0x0007 // Return from script: <len> <calc> (len may be 0)
	RootExit       RootOpcode = 0x0008 // Terminate the engine

	// ========================================================================
	// Sprites (0x0010-0x001F)
	// ========================================================================

	RootSpriteLoad RootOpcode = 0x0010 // <sprite:i32> <name:str256>
	RootSpriteShow RootOpcode = 0x0011 // <sprite:i32> <visible:bool>
	RootSpriteMove RootOpcode = 0x0012 // <sprite:i32> <x:i32> <y:i32>
	RootSpriteFree RootOpcode = 0x0013 // <sprite:i32>

	// ========================================================================
	// I/O (0x0020-0x002F)
	// ========================================================================

	RootWait      RootOpcode = 0x0020 // <frames:i32>
	RootPrint     RootOpcode = 0x0021 // <text:str256>
	RootPlaySound RootOpcode = 0x0022 // <channel:i32> <loop:bool> <params:blob16>

	// ========================================================================
	// Scripts (0x0030-0x003F)
	// ========================================================================

	RootCallScript RootOpcode = 0x0030 // <script:i32>
)

// Field describes one slot of an instruction's operand layout.
type Field uint8

const (
	FieldInt       Field = iota // i32 immediate
	FieldVar                    // i32 variable index
	FieldOffset                 // i32 offset relative to the instruction start
	FieldBool                   // one-byte flag
	FieldString                 // 256-byte NUL padded UTF-8 string
	FieldBlob                   // 16 raw bytes
	FieldCalc                   // <len:i32> followed by len bytes of calc stream
	FieldCaseTable              // <n:i32> followed by n (value:i32, offset:i32) pairs
)

// StringFieldSize is the fixed size of a FieldString slot.
const StringFieldSize = 256

// BlobFieldSize is the fixed size of a FieldBlob slot.
const BlobFieldSize = 16

// RootOpcodeInfo provides the decoding layout and control-flow class of a
// root opcode.
type RootOpcodeInfo struct {
	Name      string  // Mnemonic used by the disassembler
	Call      string  // Name rendered in decompiled output for plain engine calls
	Fields    []Field // Operand layout after the two opcode bytes
	Splitting bool    // A basic block ends after this instruction
}

var rootInfoTable = map[RootOpcode]RootOpcodeInfo{
	RootNop:        {"NOP", "nop", nil, false},
	RootCalc:       {"CALC", "", []Field{FieldCalc}, false},
	RootJump:       {"JUMP", "", []Field{FieldOffset}, true},
	RootJumpIf:     {"JUMP_IF", "", []Field{FieldVar, FieldInt, FieldInt, FieldOffset}, true},
	RootJumpIfCalc: {"JUMP_IF_CALC", "", []Field{FieldOffset, FieldOffset, FieldCalc}, true},
	RootSwitch:     {"SWITCH", "", []Field{FieldVar, FieldCaseTable, FieldOffset}, true},
	RootSwitchCalc: {"SWITCH_CALC", "", []Field{FieldCaseTable, FieldOffset, FieldCalc}, true},
	RootReturn:     {"RETURN", "", []Field{FieldCalc}, true},
	RootExit:       {"EXIT", "exit", nil, true},

	RootSpriteLoad: {"SPRITE_LOAD", "sprite_load", []Field{FieldInt, FieldString}, false},
	RootSpriteShow: {"SPRITE_SHOW", "sprite_show", []Field{FieldInt, FieldBool}, false},
	RootSpriteMove: {"SPRITE_MOVE", "sprite_move", []Field{FieldInt, FieldInt, FieldInt}, false},
	RootSpriteFree: {"SPRITE_FREE", "sprite_free", []Field{FieldInt}, false},

	RootWait:      {"WAIT", "wait", []Field{FieldInt}, false},
	RootPrint:     {"PRINT", "print", []Field{FieldString}, false},
	RootPlaySound: {"PLAY_SOUND", "play_sound", []Field{FieldInt, FieldBool, FieldBlob}, false},

	RootCallScript: {"CALL_SCRIPT", "call_script", []Field{FieldInt}, false},
}

// LookupRoot returns the metadata of a root opcode.
func LookupRoot(op RootOpcode) (RootOpcodeInfo, bool) {
	info, ok := rootInfoTable[op]
	return info, ok
}

// String returns the mnemonic of a root opcode.
func (op RootOpcode) String() string {
	if info, ok := rootInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(op))
}

// IsSplitting reports whether a basic block ends after this opcode.
func (op RootOpcode) IsSplitting() bool {
	return rootInfoTable[op].Splitting
}

// IsConditional reports whether the opcode branches to more than one target.
func (op RootOpcode) IsConditional() bool {
	switch op {
	case RootJumpIf, RootJumpIfCalc, RootSwitch, RootSwitchCalc:
		return true
	}
	return false
}

// IsSwitch reports whether the opcode belongs to the switch family.
func (op RootOpcode) IsSwitch() bool {
	return op == RootSwitch || op == RootSwitchCalc
}

// IsTerminal reports whether control leaves the script after this opcode.
func (op RootOpcode) IsTerminal() bool {
	return op == RootReturn || op == RootExit
}

// CalcOpcode identifies an instruction of the embedded expression stack machine.
type CalcOpcode byte

const (
	// ========================================================================
	// Stack and variables (0x01-0x0F)
	// ========================================================================

	CalcPushInt    CalcOpcode = 0x01 // Push immediate: <value:i32>
	CalcPushVar    CalcOpcode = 0x02 // Push variable value: <var:i32>
	CalcPushAddr   CalcOpcode = 0x03 // Push variable address: <var:i32>
	CalcWriteVar   CalcOpcode = 0x04 // Pop and store: <var:i32>
	CalcReadArray  CalcOpcode = 0x05 // addr index -> addr[index]
	CalcWriteArray CalcOpcode = 0x06 // addr index value -> (store)
	CalcDup        CalcOpcode = 0x07 // Duplicate top of stack
	CalcPop        CalcOpcode = 0x08 // Discard top of stack

	// ========================================================================
	// Binary operators (0x10-0x21)
	// ========================================================================

	CalcAdd    CalcOpcode = 0x10
	CalcSub    CalcOpcode = 0x11
	CalcMul    CalcOpcode = 0x12
	CalcDiv    CalcOpcode = 0x13
	CalcMod    CalcOpcode = 0x14
	CalcBitAnd CalcOpcode = 0x15
	CalcBitOr  CalcOpcode = 0x16
	CalcBitXor CalcOpcode = 0x17
	CalcShl    CalcOpcode = 0x18
	CalcShr    CalcOpcode = 0x19
	CalcEq     CalcOpcode = 0x1A
	CalcNe     CalcOpcode = 0x1B
	CalcLt     CalcOpcode = 0x1C
	CalcLe     CalcOpcode = 0x1D
	CalcGt     CalcOpcode = 0x1E
	CalcGe     CalcOpcode = 0x1F
	CalcLogAnd CalcOpcode = 0x20
	CalcLogOr  CalcOpcode = 0x21

	// ========================================================================
	// Unary operators (0x30-0x32)
	// ========================================================================

	CalcNeg    CalcOpcode = 0x30
	CalcNot    CalcOpcode = 0x31
	CalcBitNot CalcOpcode = 0x32

	// ========================================================================
	// Calls (0x40-0x42)
	// ========================================================================

	CalcCall        CalcOpcode = 0x40 // <proc:i32> <argc:i32>
	CalcCallScript  CalcOpcode = 0x41 // <script:i32> <argc:i32>
	CalcCallDynamic CalcOpcode = 0x42 // <argc:i32>, target below the arguments

	// ========================================================================
	// Control (0x50-0x60)
	// ========================================================================

	CalcJumpIfZero    CalcOpcode = 0x50 // Pop, jump when zero: <offset:i32>
	CalcJumpIfNonZero CalcOpcode = 0x51 // Pop, jump when non-zero: <offset:i32>
	CalcReturn        CalcOpcode = 0x60 // Pop and yield as the stream's value
)

// CalcOpcodeInfo provides metadata about a calc opcode.
type CalcOpcodeInfo struct {
	Name     string  // Mnemonic used by the disassembler
	Fields   []Field // Operand layout after the opcode byte
	StackPop int     // Values popped, -1 when it depends on operands
	Push     int     // Values pushed
}

var calcInfoTable = map[CalcOpcode]CalcOpcodeInfo{
	CalcPushInt:    {"PUSH_INT", []Field{FieldInt}, 0, 1},
	CalcPushVar:    {"PUSH_VAR", []Field{FieldVar}, 0, 1},
	CalcPushAddr:   {"PUSH_ADDR", []Field{FieldVar}, 0, 1},
	CalcWriteVar:   {"WRITE_VAR", []Field{FieldVar}, 1, 0},
	CalcReadArray:  {"READ_ARRAY", nil, 2, 1},
	CalcWriteArray: {"WRITE_ARRAY", nil, 3, 0},
	CalcDup:        {"DUP", nil, 1, 2},
	CalcPop:        {"POP", nil, 1, 0},

	CalcAdd:    {"ADD", nil, 2, 1},
	CalcSub:    {"SUB", nil, 2, 1},
	CalcMul:    {"MUL", nil, 2, 1},
	CalcDiv:    {"DIV", nil, 2, 1},
	CalcMod:    {"MOD", nil, 2, 1},
	CalcBitAnd: {"BIT_AND", nil, 2, 1},
	CalcBitOr:  {"BIT_OR", nil, 2, 1},
	CalcBitXor: {"BIT_XOR", nil, 2, 1},
	CalcShl:    {"SHL", nil, 2, 1},
	CalcShr:    {"SHR", nil, 2, 1},
	CalcEq:     {"EQ", nil, 2, 1},
	CalcNe:     {"NE", nil, 2, 1},
	CalcLt:     {"LT", nil, 2, 1},
	CalcLe:     {"LE", nil, 2, 1},
	CalcGt:     {"GT", nil, 2, 1},
	CalcGe:     {"GE", nil, 2, 1},
	CalcLogAnd: {"LOG_AND", nil, 2, 1},
	CalcLogOr:  {"LOG_OR", nil, 2, 1},

	CalcNeg:    {"NEG", nil, 1, 1},
	CalcNot:    {"NOT", nil, 1, 1},
	CalcBitNot: {"BIT_NOT", nil, 1, 1},

	CalcCall:        {"CALL", []Field{FieldInt, FieldInt}, -1, 1},
	CalcCallScript:  {"CALL_SCRIPT", []Field{FieldInt, FieldInt}, -1, 1},
	CalcCallDynamic: {"CALL_DYNAMIC", []Field{FieldInt}, -1, 1},

	CalcJumpIfZero:    {"JUMP_IF_ZERO", []Field{FieldOffset}, 1, 0},
	CalcJumpIfNonZero: {"JUMP_IF_NONZERO", []Field{FieldOffset}, 1, 0},
	CalcReturn:        {"RETURN", nil, 1, 0},
}

// LookupCalc returns the metadata of a calc opcode.
func LookupCalc(op CalcOpcode) (CalcOpcodeInfo, bool) {
	info, ok := calcInfoTable[op]
	return info, ok
}

// String returns the mnemonic of a calc opcode.
func (op CalcOpcode) String() string {
	if info, ok := calcInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// IsBinary returns true if this opcode pops two operands and pushes one result.
func (op CalcOpcode) IsBinary() bool {
	return op >= CalcAdd && op <= CalcLogOr
}

// IsUnary returns true if this opcode rewrites the top of stack in place.
func (op CalcOpcode) IsUnary() bool {
	return op >= CalcNeg && op <= CalcBitNot
}

// IsJump returns true if this opcode is a conditional jump.
func (op CalcOpcode) IsJump() bool {
	return op == CalcJumpIfZero || op == CalcJumpIfNonZero
}

// AllRootOpcodes returns every defined root opcode.
func AllRootOpcodes() []RootOpcode {
	ops := make([]RootOpcode, 0, len(rootInfoTable))
	for op := range rootInfoTable {
		ops = append(ops, op)
	}
	return ops
}

// AllCalcOpcodes returns every defined calc opcode.
func AllCalcOpcodes() []CalcOpcode {
	ops := make([]CalcOpcode, 0, len(calcInfoTable))
	for op := range calcInfoTable {
		ops = append(ops, op)
	}
	return ops
}
