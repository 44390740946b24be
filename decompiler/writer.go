package decompiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/unscript/pkg/bytecode"
	"github.com/chazu/unscript/pkg/debuginfo"
)

// ---------------------------------------------------------------------------
// Code writer
// ---------------------------------------------------------------------------

// DefaultIndent is one level of indentation in rendered output.
const DefaultIndent = "    "

// writer renders a tree while tracking the line and rune column of every
// byte it emits.
type writer struct {
	t      *Tree
	buf    *strings.Builder
	unit   string
	indent int

	line     int32
	col      int32
	lineLens []int32
}

// Render writes the structured tree as pseudocode and records every node's
// text span. It returns the text and the rune length of each line.
func (t *Tree) Render(indent string) (string, []int32) {
	if indent == "" {
		indent = DefaultIndent
	}
	w := &writer{t: t, buf: &strings.Builder{}, unit: indent}
	if t.Root != NoNode {
		w.scope(t.Root)
	}
	return w.buf.String(), w.lineLens
}

func (w *writer) pos() debuginfo.Position {
	return debuginfo.Position{Line: w.line, Column: w.col}
}

// write appends text that contains no newline.
func (w *writer) write(s string) {
	w.buf.WriteString(s)
	w.col += int32(utf8.RuneCountInString(s))
}

// newline ends the current line.
func (w *writer) newline() {
	w.buf.WriteByte('\n')
	w.lineLens = append(w.lineLens, w.col)
	w.line++
	w.col = 0
}

// writeIndent writes the current indentation prefix.
func (w *writer) writeIndent() {
	for i := 0; i < w.indent; i++ {
		w.write(w.unit)
	}
}

// span records the text range of id from start to the current position.
func (w *writer) span(id NodeID, start debuginfo.Position) {
	w.t.nodes[id].Text = TextRange{Start: start, End: w.pos()}
}

// ---------------------------------------------------------------------------
// Scopes and constructs
// ---------------------------------------------------------------------------

func (w *writer) scope(id NodeID) {
	start := w.pos()
	for _, it := range w.t.nodes[id].Kids {
		w.item(it)
	}
	w.span(id, start)
}

func (w *writer) item(id NodeID) {
	n := &w.t.nodes[id]
	entry := -1
	switch {
	case n.Kind == KindBlock:
		entry = n.Block.Start
	case n.Kind.IsConstruct():
		entry = w.t.nodes[n.Construct.Header].Block.Start
	}
	if entry >= 0 && w.t.labels[entry] {
		w.writeIndent()
		w.write(labelName(entry) + ":")
		w.newline()
	}

	switch n.Kind {
	case KindBlock:
		w.block(id)
	case KindLoop:
		w.loop(id)
	case KindIf:
		w.ifElse(id)
	case KindSwitch:
		w.switchCase(id)
	default:
		w.stmt(id)
	}
}

// blockStmts returns the statements of a block the writer emits itself.
func (w *writer) blockStmts(id NodeID) []NodeID {
	n := &w.t.nodes[id]
	kids := n.Kids
	if len(kids) > 0 && (n.Block.ProvidesControlFlow || n.Block.RedundantLastJump) {
		kids = kids[:len(kids)-1]
	}
	return kids
}

func (w *writer) block(id NodeID) {
	start := w.pos()
	for _, s := range w.blockStmts(id) {
		w.stmt(s)
	}
	w.span(id, start)
}

// terminator returns the header's absorbed branch instruction node.
func (w *writer) terminator(c *Construct) NodeID {
	kids := w.t.nodes[c.Header].Kids
	return kids[len(kids)-1]
}

func (w *writer) ifElse(id NodeID) {
	c := w.t.nodes[id].Construct
	start := w.pos()
	w.block(c.Header)

	w.writeIndent()
	term := w.terminator(c)
	tstart := w.pos()
	w.write("if (")
	w.expr(c.Cond, 0)
	w.write(")")
	w.span(term, tstart)
	w.write(" {")
	w.newline()
	w.nested(c.Then)
	if c.Else != NoNode {
		w.writeIndent()
		w.write("} else {")
		w.newline()
		w.nested(c.Else)
	}
	w.writeIndent()
	w.write("}")
	w.span(id, start)
	w.newline()
}

func (w *writer) loop(id NodeID) {
	c := w.t.nodes[id].Construct
	start := w.pos()
	term := w.terminator(c)
	prologue := w.blockStmts(c.Header)

	w.writeIndent()
	if len(prologue) == 0 {
		tstart := w.pos()
		w.write("while (")
		w.expr(c.Cond, 0)
		w.write(")")
		w.span(term, tstart)
		w.write(" {")
		w.newline()
	} else {
		// The header runs on every iteration, so it moves into the body
		// ahead of an explicit exit test.
		w.write("while (true) {")
		w.newline()
		w.indent++
		hstart := w.pos()
		for _, s := range prologue {
			w.stmt(s)
		}
		w.span(c.Header, hstart)
		w.writeIndent()
		tstart := w.pos()
		w.write("if (!")
		w.expr(c.Cond, precUnary+1)
		w.write(")")
		w.span(term, tstart)
		w.write(" break;")
		w.newline()
		w.indent--
	}
	w.nested(c.Then)
	w.writeIndent()
	w.write("}")
	w.span(id, start)
	w.newline()
}

func (w *writer) switchCase(id NodeID) {
	c := w.t.nodes[id].Construct
	start := w.pos()
	w.block(c.Header)

	w.writeIndent()
	term := w.terminator(c)
	tstart := w.pos()
	w.write("switch (")
	w.expr(c.Cond, 0)
	w.write(")")
	w.span(term, tstart)
	w.write(" {")
	w.newline()
	for _, cs := range c.Cases {
		for _, v := range cs.Values {
			w.writeIndent()
			w.write("case " + strconv.Itoa(int(v)) + ":")
			w.newline()
		}
		if cs.Default {
			w.writeIndent()
			w.write("default:")
			w.newline()
		}
		w.nested(cs.Body)
		if cs.Break && !w.endsInJump(cs.Body) {
			w.indent++
			w.writeIndent()
			w.write("break;")
			w.newline()
			w.indent--
		}
	}
	w.writeIndent()
	w.write("}")
	w.span(id, start)
	w.newline()
}

func (w *writer) nested(scope NodeID) {
	w.indent++
	w.scope(scope)
	w.indent--
}

// endsInJump reports whether control never falls off the end of scope.
func (w *writer) endsInJump(scope NodeID) bool {
	kids := w.t.nodes[scope].Kids
	if len(kids) == 0 {
		return false
	}
	last := kids[len(kids)-1]
	if w.t.nodes[last].Kind == KindBlock {
		stmts := w.blockStmts(last)
		if len(stmts) == 0 {
			return false
		}
		last = stmts[len(stmts)-1]
	}
	n := &w.t.nodes[last]
	switch n.Kind {
	case KindGoto, KindReturn:
		return true
	case KindRootOp:
		return n.Root.Op.IsTerminal()
	}
	return false
}

func labelName(offset int) string {
	return fmt.Sprintf("label_%04X", offset)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (w *writer) stmt(id NodeID) {
	n := &w.t.nodes[id]
	if n.Kind == KindRootOp && !w.rootOpWrites(n) {
		// Calc bodies that were not spliced render their statements in place.
		start := w.pos()
		for _, k := range n.Kids {
			w.stmt(k)
		}
		w.span(id, start)
		return
	}

	w.writeIndent()
	start := w.pos()
	kids := n.Kids
	switch n.Kind {
	case KindAssign:
		w.expr(kids[0], 0)
		w.write(" = ")
		w.expr(kids[1], 0)
		w.write(";")
	case KindTempDecl:
		w.write(fmt.Sprintf("int temp%d = ", n.Int))
		w.expr(kids[0], 0)
		w.write(";")
	case KindExprStmt:
		w.expr(kids[0], 0)
		w.write(";")
	case KindCondJump:
		if n.Op == bytecode.CalcJumpIfZero {
			w.write("if (!")
			w.expr(kids[0], precUnary+1)
		} else {
			w.write("if (")
			w.expr(kids[0], 0)
		}
		w.write(") goto " + labelName(n.Target) + ";")
	case KindReturn:
		if len(kids) == 0 {
			w.write("return;")
		} else {
			w.write("return ")
			w.expr(kids[0], 0)
			w.write(";")
		}
	case KindGoto:
		switch n.Jump {
		case JumpBreak:
			w.write("break;")
		case JumpContinue:
			w.write("continue;")
		case JumpReturn:
			w.write("return;")
		default:
			w.write("goto " + labelName(n.Target) + ";")
		}
	case KindRootOp:
		w.engineCall(n.Root)
	default:
		w.expr(id, 0)
		w.write(";")
	}
	w.span(id, start)
	w.newline()
}

// rootOpWrites reports whether the root op renders as its own line.
func (w *writer) rootOpWrites(n *Node) bool {
	switch n.Root.Op {
	case bytecode.RootCalc, bytecode.RootReturn, bytecode.RootJump:
		return false
	}
	return true
}

// engineCall renders a root instruction as a call of its engine name.
func (w *writer) engineCall(ins *bytecode.RootInstruction) {
	info, _ := bytecode.LookupRoot(ins.Op)
	name := info.Call
	if name == "" {
		name = strings.ToLower(info.Name)
	}
	args := make([]string, 0, len(ins.Args))
	for _, a := range ins.Args {
		args = append(args, formatOperand(a))
	}
	w.write(name + "(" + strings.Join(args, ", ") + ");")
}

func formatOperand(a bytecode.Argument) string {
	switch a.Kind {
	case bytecode.ArgBool:
		return strconv.FormatBool(a.Value != 0)
	case bytecode.ArgString:
		return strconv.Quote(a.Text)
	case bytecode.ArgBlob:
		b := a.Blob
		for len(b) > 0 && b[len(b)-1] == 0 {
			b = b[:len(b)-1]
		}
		parts := make([]string, len(b))
		for i, v := range b {
			parts[i] = strconv.Itoa(int(v))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return strconv.Itoa(int(a.Value))
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

const (
	precUnary   = 11
	precPrimary = 12
)

var binaryOps = map[bytecode.CalcOpcode]struct {
	sym  string
	prec int
}{
	bytecode.CalcMul:    {"*", 10},
	bytecode.CalcDiv:    {"/", 10},
	bytecode.CalcMod:    {"%", 10},
	bytecode.CalcAdd:    {"+", 9},
	bytecode.CalcSub:    {"-", 9},
	bytecode.CalcShl:    {"<<", 8},
	bytecode.CalcShr:    {">>", 8},
	bytecode.CalcLt:     {"<", 7},
	bytecode.CalcLe:     {"<=", 7},
	bytecode.CalcGt:     {">", 7},
	bytecode.CalcGe:     {">=", 7},
	bytecode.CalcEq:     {"==", 6},
	bytecode.CalcNe:     {"!=", 6},
	bytecode.CalcBitAnd: {"&", 5},
	bytecode.CalcBitXor: {"^", 4},
	bytecode.CalcBitOr:  {"|", 3},
	bytecode.CalcLogAnd: {"&&", 2},
	bytecode.CalcLogOr:  {"||", 1},
}

var unaryOps = map[bytecode.CalcOpcode]string{
	bytecode.CalcNeg:    "-",
	bytecode.CalcNot:    "!",
	bytecode.CalcBitNot: "~",
}

// associative reports whether a op (b op c) may be written a op b op c.
// Only the logical operators qualify: their short-circuit order is the
// same either way, while integer arithmetic can overflow differently.
func associative(op bytecode.CalcOpcode) bool {
	return op == bytecode.CalcLogAnd || op == bytecode.CalcLogOr
}

// precedence returns the binding strength of an expression node.
func (w *writer) precedence(id NodeID) int {
	n := &w.t.nodes[id]
	switch n.Kind {
	case KindBinary:
		return binaryOps[n.Op].prec
	case KindUnary:
		return precUnary
	case KindImmediate:
		if n.Int < 0 {
			return precUnary
		}
	}
	return precPrimary
}

// expr renders an expression, parenthesized when it binds looser than
// minPrec.
func (w *writer) expr(id NodeID, minPrec int) {
	paren := w.precedence(id) < minPrec
	if paren {
		w.write("(")
	}
	start := w.pos()
	n := &w.t.nodes[id]
	kids := n.Kids

	switch n.Kind {
	case KindImmediate:
		w.write(strconv.Itoa(int(n.Int)))
	case KindVariable:
		w.write(VarName(n.Scope, n.Int, n.Addr))
	case KindTemp:
		w.write(fmt.Sprintf("temp%d", n.Int))
	case KindArrayAccess:
		if base := &w.t.nodes[kids[0]]; base.Kind == KindVariable && base.Addr {
			bstart := w.pos()
			w.write(VarName(base.Scope, base.Int, false))
			w.span(kids[0], bstart)
		} else {
			w.expr(kids[0], precPrimary)
		}
		w.write("[")
		w.expr(kids[1], 0)
		w.write("]")
	case KindUnary:
		w.write(unaryOps[n.Op])
		w.expr(kids[0], precUnary+1)
	case KindBinary:
		op := binaryOps[n.Op]
		w.expr(kids[0], op.prec)
		w.write(" " + op.sym + " ")
		right := op.prec + 1
		if r := &w.t.nodes[kids[1]]; r.Kind == KindBinary && r.Op == n.Op && associative(n.Op) {
			right = op.prec
		}
		w.expr(kids[1], right)
	case KindCall:
		w.call(n)
	default:
		w.write(fmt.Sprintf("<%s>", n.Kind))
	}

	w.span(id, start)
	if paren {
		w.write(")")
	}
}

func (w *writer) call(n *Node) {
	args := n.Kids
	switch n.Call {
	case CallScript:
		w.write(fmt.Sprintf("script_%d(", n.Int))
	case CallDynamic:
		w.write("call_dynamic(")
	default:
		w.write(n.Name + "(")
	}
	for i, a := range args {
		if i > 0 {
			w.write(", ")
		}
		w.expr(a, 0)
	}
	w.write(")")
}
