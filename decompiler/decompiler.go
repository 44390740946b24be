package decompiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/unscript/pkg/bytecode"
	"github.com/chazu/unscript/pkg/debuginfo"
)

var log = commonlog.GetLogger("unscript.decompiler")

// Result is the output of decompiling one script.
type Result struct {
	Text         string
	Debug        *debuginfo.ScriptDebugInfo
	Instructions []bytecode.RootInstruction
}

// Decompiler holds the configuration shared by every script of a game.
// It is safe for concurrent use; each Decompile call owns its own tree.
type Decompiler struct {
	env    Environment
	indent string
}

// Option configures a Decompiler.
type Option func(*Decompiler)

// WithIndent sets the indentation unit of rendered text.
func WithIndent(indent string) Option {
	return func(d *Decompiler) {
		if indent != "" {
			d.indent = indent
		}
	}
}

// New creates a Decompiler for the given environment.
func New(env Environment, opts ...Option) *Decompiler {
	d := &Decompiler{env: env, indent: DefaultIndent}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Environment returns the environment scripts are resolved against.
func (d *Decompiler) Environment() Environment { return d.env }

// Decompile runs the whole pipeline over one script buffer.
func (d *Decompiler) Decompile(script []byte) (*Result, error) {
	instrs, err := bytecode.DecodeScript(script)
	if err != nil {
		log.Errorf("decode: %s", err)
		return nil, fmt.Errorf("decode: %w", err)
	}
	log.Debugf("decoded %d root instructions from %d bytes", len(instrs), len(script))

	env := d.env
	t := NewTree(&env, script)
	text, lineLens, err := d.structure(t, instrs)
	if err != nil {
		log.Errorf("%s", err)
		return nil, err
	}

	return &Result{
		Text:         text,
		Debug:        t.BuildDebugInfo(lineLens),
		Instructions: instrs,
	}, nil
}

func (d *Decompiler) structure(t *Tree, instrs []bytecode.RootInstruction) (string, []int32, error) {
	stmts, err := t.BuildInitialAST(instrs)
	if err != nil {
		return "", nil, fmt.Errorf("calc: %w", err)
	}
	t.TransformCalcReturns(stmts)
	log.Debugf("built calc statements, %d temporaries", t.Temps())

	g, err := t.BuildGraph(stmts)
	if err != nil {
		return "", nil, fmt.Errorf("cfg: %w", err)
	}
	if err := g.Verify(); err != nil {
		return "", nil, fmt.Errorf("cfg: %w", err)
	}
	log.Debugf("control-flow graph has %d blocks", len(g.Keys()))

	dom := ComputeDominators(g, false)
	pdom := ComputeDominators(g, true)
	plan, err := DiscoverConstructs(g, dom, pdom)
	if err != nil {
		return "", nil, fmt.Errorf("grouping: %w", err)
	}
	log.Debugf("planned %d constructs", len(plan.Constructs))

	if _, err := t.Synthesize(g, plan); err != nil {
		return "", nil, fmt.Errorf("grouping: %w", err)
	}
	if err := t.ConstructGotos(g); err != nil {
		return "", nil, fmt.Errorf("gotos: %w", err)
	}
	t.RecomputeRanges()

	if err := t.TransformLazyBooleans(); err != nil {
		return "", nil, fmt.Errorf("lazy booleans: %w", err)
	}
	t.TransformRemoveCalcBlocks()
	if err := t.TransformConstructExpressions(); err != nil {
		return "", nil, fmt.Errorf("construct expressions: %w", err)
	}
	t.RecomputeRanges()

	text, lineLens := t.Render(d.indent)
	log.Debugf("rendered %d lines", len(lineLens))
	return text, lineLens, nil
}
