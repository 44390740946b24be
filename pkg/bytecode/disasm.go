package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a decoded root stream.
func Disassemble(instrs []RootInstruction) string {
	return DisassembleWithName(instrs, "")
}

// DisassembleWithName returns a listing with a name header.
func DisassembleWithName(instrs []RootInstruction, name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	size := 0
	if len(instrs) > 0 {
		size = instrs[len(instrs)-1].End
	}
	sb.WriteString(fmt.Sprintf("; %d instructions, %d bytes\n\n", len(instrs), size))

	for _, ins := range instrs {
		sb.WriteString(fmt.Sprintf("%04X  %s\n", ins.Start, FormatRoot(ins)))
		for _, c := range ins.Calc {
			sb.WriteString(fmt.Sprintf("%04X    | %s\n", c.Start, FormatCalc(c)))
		}
	}
	return sb.String()
}

// FormatRoot renders one root instruction without its calc stream.
func FormatRoot(ins RootInstruction) string {
	parts := []string{ins.Op.String()}
	for _, a := range ins.Args {
		parts = append(parts, formatArg(a, ins.Start))
	}
	if len(ins.Calc) > 0 || ins.CalcEnd > ins.CalcStart {
		parts = append(parts, fmt.Sprintf("calc[%d]", ins.CalcEnd-ins.CalcStart))
	}
	return strings.Join(parts, " ")
}

// FormatCalc renders one calc instruction.
func FormatCalc(ins CalcInstruction) string {
	if len(ins.Args) == 0 {
		return ins.Op.String()
	}
	parts := []string{ins.Op.String()}
	for _, a := range ins.Args {
		parts = append(parts, formatArg(a, ins.Start))
	}
	return strings.Join(parts, " ")
}

func formatArg(a Argument, insStart int) string {
	switch a.Kind {
	case ArgVariable:
		return fmt.Sprintf("v%d", a.Value)
	case ArgOffset:
		return fmt.Sprintf("%+d (-> %04X)", a.Value, insStart+int(a.Value))
	case ArgBool:
		return fmt.Sprintf("%t", a.Value != 0)
	case ArgString:
		display := a.Text
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		return fmt.Sprintf("%q", display)
	case ArgBlob:
		return fmt.Sprintf("<% X>", a.Blob)
	default:
		return fmt.Sprintf("%d", a.Value)
	}
}

// InstructionAt returns the listing line for the innermost instruction
// covering offset: a calc instruction when the offset falls inside an
// embedded stream, the root instruction otherwise.
func InstructionAt(instrs []RootInstruction, offset int) (string, bool) {
	for _, ins := range instrs {
		if offset < ins.Start || offset >= ins.End {
			continue
		}
		for _, c := range ins.Calc {
			if offset >= c.Start && offset < c.End {
				return fmt.Sprintf("%04X  %s", c.Start, FormatCalc(c)), true
			}
		}
		return fmt.Sprintf("%04X  %s", ins.Start, FormatRoot(ins)), true
	}
	return "", false
}
