// Package bytecode decodes the two nested instruction sets of the engine's
// script format.
//
// The root stream carries engine-level operations (sprite control, I/O,
// control transfer). Opcodes are two bytes wide and followed by a fixed,
// opcode-specific operand layout:
//
//   - i32 immediates, variable indices and relative offsets
//   - one-byte flags
//   - 256-byte NUL padded strings and 16-byte blobs
//   - switch tables (count followed by value/offset pairs)
//   - embedded calc streams (length prefix followed by calc bytecode)
//
// The calc stream is a postfix stack machine for expressions and variable
// access. Calc opcodes are one byte wide with zero, one or two i32 operands.
//
// # Offsets
//
// Every decoded instruction records its absolute [Start, End) byte range in
// the script buffer, including calc instructions nested in a root
// instruction. Jump operands are stored relative to the start of the
// instruction that carries them; Targets and CalcInstruction.Target resolve
// them to absolute offsets.
//
// # Errors
//
// Decoders fail with ErrMalformedInput when the stream ends mid-instruction
// and with ErrUnsupportedOperation for unknown opcodes. Both are wrapped in
// *Error, which carries the failing offset and opcode.
package bytecode
