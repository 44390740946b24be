package decompiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/unscript/pkg/bytecode"
)

// Scripts shared by the stage tests. Offsets in comments are the byte
// ranges the assembler produces.

// scene_0 = 5 + 3;
func scriptAssign() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(5).PushInt(3).Op(bytecode.CalcAdd).WriteVar(0)}) // [0,22)
	a.Emit(bytecode.RootReturn, bytecode.Body{})                                                                        // [22,28)
	return a.Bytes()
}

// if (scene_0 == 1) { scene_1 = 2; }
func scriptIf() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootJumpIf, bytecode.Imm(0), bytecode.Imm(bytecode.CompareEq), bytecode.Imm(1), bytecode.To("end")) // [0,18)
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(2).WriteVar(1)})                                   // [18,34)
	a.Label("end")
	a.Emit(bytecode.RootReturn, bytecode.Body{}) // [34,40)
	return a.Bytes()
}

// while (scene_0 < 10) { scene_0 = scene_0 + 1; }
func scriptWhile() []byte {
	a := bytecode.NewAssembler()
	a.Label("top")
	a.Emit(bytecode.RootJumpIf, bytecode.Imm(0), bytecode.Imm(bytecode.CompareLt), bytecode.Imm(10), bytecode.To("end")) // [0,18)
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushVar(0).PushInt(1).Op(bytecode.CalcAdd).WriteVar(0)})  // [18,40)
	a.Emit(bytecode.RootJump, bytecode.To("top"))                                                                         // [40,46)
	a.Label("end")
	a.Emit(bytecode.RootReturn, bytecode.Body{}) // [46,52)
	return a.Bytes()
}

// switch (scene_0) { case 1: case 2: scene_1 = 1; break; }
func scriptSwitch() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootSwitch, bytecode.Imm(0), bytecode.Cases{{Value: 1, Label: "a"}, {Value: 2, Label: "a"}}, bytecode.To("end")) // [0,30)
	a.Label("a")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(1).WriteVar(1)}) // [30,46)
	a.Emit(bytecode.RootJump, bytecode.To("end"))                                       // [46,52)
	a.Label("end")
	a.Emit(bytecode.RootReturn, bytecode.Body{}) // [52,58)
	return a.Bytes()
}

// scene_5 = scene_0 && scene_1;
func scriptLazyAnd() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().
		PushVar(0).Op(bytecode.CalcDup).Jump(bytecode.CalcJumpIfZero, "L").
		PushVar(1).Op(bytecode.CalcLogAnd).
		Mark("L").WriteVar(5)})
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	return a.Bytes()
}

// scene_5 = scene_0 && scene_1 && scene_2; with the inner && lowered
// inside the right operand of the outer one.
func scriptNestedAnd() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().
		PushVar(0).Op(bytecode.CalcDup).Jump(bytecode.CalcJumpIfZero, "L").
		PushVar(1).Op(bytecode.CalcDup).Jump(bytecode.CalcJumpIfZero, "M").
		PushVar(2).Op(bytecode.CalcLogAnd).
		Mark("M").Op(bytecode.CalcLogAnd).
		Mark("L").WriteVar(5)})
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	return a.Bytes()
}

// scene_5 = scene_0 || scene_1 && scene_2;
func scriptOrOfAnd() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().
		PushVar(0).Op(bytecode.CalcDup).Jump(bytecode.CalcJumpIfNonZero, "L").
		PushVar(1).Op(bytecode.CalcDup).Jump(bytecode.CalcJumpIfZero, "M").
		PushVar(2).Op(bytecode.CalcLogAnd).
		Mark("M").Op(bytecode.CalcLogOr).
		Mark("L").WriteVar(5)})
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	return a.Bytes()
}

// A switch whose first case falls into a case laid out after another one.
func scriptSwitchFallthrough() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootSwitch, bytecode.Imm(0),
		bytecode.Cases{{Value: 1, Label: "c1"}, {Value: 2, Label: "c2"}, {Value: 3, Label: "c3"}},
		bytecode.To("end"))
	a.Label("c1")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(1).WriteVar(1)})
	a.Emit(bytecode.RootJump, bytecode.To("c3"))
	a.Label("c2")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(2).WriteVar(1)})
	a.Emit(bytecode.RootJump, bytecode.To("end"))
	a.Label("c3")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(3).WriteVar(2)})
	a.Emit(bytecode.RootJump, bytecode.To("end"))
	a.Label("end")
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	return a.Bytes()
}

// A return whose calc body assigns but does not return a value.
func scriptEarlyReturn() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootJumpIf, bytecode.Imm(0), bytecode.Imm(bytecode.CompareEq), bytecode.Imm(1), bytecode.To("L"))
	a.Emit(bytecode.RootReturn, bytecode.Body{bytecode.NewCalc().PushInt(1).WriteVar(1)})
	a.Label("L")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(2).WriteVar(2)})
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	return a.Bytes()
}

// if (scene_0) { scene_1 = 1; } else { scene_1 = 2; }
func scriptIfElse() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootJumpIfCalc, bytecode.To("then"), bytecode.To("else"), bytecode.Body{bytecode.NewCalc().PushVar(0).Return()}) // [0,20)
	a.Label("then")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(1).WriteVar(1)}) // [20,36)
	a.Emit(bytecode.RootJump, bytecode.To("end"))                                       // [36,42)
	a.Label("else")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(2).WriteVar(1)}) // [42,58)
	a.Label("end")
	a.Emit(bytecode.RootReturn, bytecode.Body{}) // [58,64)
	return a.Bytes()
}

// A loop whose body leaves early through a nested if.
func scriptLoopBreak() []byte {
	a := bytecode.NewAssembler()
	a.Label("top")
	a.Emit(bytecode.RootJumpIf, bytecode.Imm(0), bytecode.Imm(bytecode.CompareLt), bytecode.Imm(10), bytecode.To("end")) // [0,18)
	a.Emit(bytecode.RootJumpIf, bytecode.Imm(1), bytecode.Imm(bytecode.CompareEq), bytecode.Imm(1), bytecode.To("skip")) // [18,36)
	a.Emit(bytecode.RootJump, bytecode.To("end"))                                                                         // [36,42)
	a.Label("skip")
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushVar(0).PushInt(1).Op(bytecode.CalcAdd).WriteVar(0)}) // [42,64)
	a.Emit(bytecode.RootJump, bytecode.To("top"))                                                                        // [64,70)
	a.Label("end")
	a.Emit(bytecode.RootReturn, bytecode.Body{}) // [70,76)
	return a.Bytes()
}

func decompile(t *testing.T, script []byte) *Result {
	t.Helper()
	res, err := New(testEnv).Decompile(script)
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	return res
}

func TestDecompile_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		want   string
	}{
		{
			name:   "assignment",
			script: scriptAssign(),
			want:   "scene_0 = 5 + 3;\nreturn;\n",
		},
		{
			name:   "if without else",
			script: scriptIf(),
			want: "if (scene_0 == 1) {\n" +
				"    scene_1 = 2;\n" +
				"}\n" +
				"return;\n",
		},
		{
			name:   "while loop",
			script: scriptWhile(),
			want: "while (scene_0 < 10) {\n" +
				"    scene_0 = scene_0 + 1;\n" +
				"}\n" +
				"return;\n",
		},
		{
			name:   "stacked case labels",
			script: scriptSwitch(),
			want: "switch (scene_0) {\n" +
				"case 1:\n" +
				"case 2:\n" +
				"    scene_1 = 1;\n" +
				"    break;\n" +
				"}\n" +
				"return;\n",
		},
		{
			name:   "lazy and",
			script: scriptLazyAnd(),
			want:   "scene_5 = scene_0 && scene_1;\nreturn;\n",
		},
		{
			name:   "right-nested and",
			script: scriptNestedAnd(),
			want:   "scene_5 = scene_0 && scene_1 && scene_2;\nreturn;\n",
		},
		{
			name:   "or of and",
			script: scriptOrOfAnd(),
			want:   "scene_5 = scene_0 || scene_1 && scene_2;\nreturn;\n",
		},
		{
			name:   "switch fallthrough out of order",
			script: scriptSwitchFallthrough(),
			want: "switch (scene_0) {\n" +
				"case 1:\n" +
				"    scene_1 = 1;\n" +
				"case 3:\n" +
				"    scene_2 = 3;\n" +
				"    break;\n" +
				"case 2:\n" +
				"    scene_1 = 2;\n" +
				"    break;\n" +
				"}\n" +
				"return;\n",
		},
		{
			name:   "return with statements",
			script: scriptEarlyReturn(),
			want: "if (scene_0 == 1) {\n" +
				"    scene_1 = 1;\n" +
				"    return;\n" +
				"}\n" +
				"scene_2 = 2;\n" +
				"return;\n",
		},
		{
			name:   "computed if else",
			script: scriptIfElse(),
			want: "if (scene_0) {\n" +
				"    scene_1 = 1;\n" +
				"} else {\n" +
				"    scene_1 = 2;\n" +
				"}\n" +
				"return;\n",
		},
		{
			name:   "break out of loop",
			script: scriptLoopBreak(),
			want: "while (scene_0 < 10) {\n" +
				"    if (scene_1 == 1) {\n" +
				"        break;\n" +
				"    }\n" +
				"    scene_0 = scene_0 + 1;\n" +
				"}\n" +
				"return;\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decompile(t, tt.script)
			if res.Text != tt.want {
				t.Errorf("Text =\n%s\nwant\n%s", res.Text, tt.want)
			}
			if strings.Contains(res.Text, "temp") {
				t.Errorf("Text mentions a temporary:\n%s", res.Text)
			}
		})
	}
}

func TestDecompile_Indent(t *testing.T) {
	res, err := New(testEnv, WithIndent("\t")).Decompile(scriptIf())
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	if !strings.Contains(res.Text, "\n\tscene_1 = 2;\n") {
		t.Errorf("Text = %q, want tab-indented body", res.Text)
	}
}

func TestDecompile_EngineCalls(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootSpriteLoad, bytecode.Imm(4), bytecode.Str("hero.bmp"))
	a.Emit(bytecode.RootSpriteShow, bytecode.Imm(4), bytecode.Flag(true))
	a.Emit(bytecode.RootPlaySound, bytecode.Imm(1), bytecode.Flag(false), bytecode.Blob{1, 2, 3})
	a.Emit(bytecode.RootNop)
	a.Emit(bytecode.RootExit)

	res := decompile(t, a.Bytes())
	want := "sprite_load(4, \"hero.bmp\");\n" +
		"sprite_show(4, true);\n" +
		"play_sound(1, false, {1, 2, 3});\n" +
		"nop();\n" +
		"exit();\n"
	if res.Text != want {
		t.Errorf("Text =\n%s\nwant\n%s", res.Text, want)
	}
}

func TestDecompile_ReturnValue(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootReturn, bytecode.Body{bytecode.NewCalc().PushVar(1).PushInt(2).Op(bytecode.CalcMul).Return()})

	res := decompile(t, a.Bytes())
	if want := "return scene_1 * 2;\n"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestDecompile_Errors(t *testing.T) {
	truncated := scriptAssign()
	truncated = truncated[:len(truncated)-3]

	unknown := []byte{0xFF, 0x00}

	// A jump into the middle of an instruction.
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootJump, bytecode.To("mid"))
	a.Emit(bytecode.RootNop)
	a.Label("mid")
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	misaligned := a.Bytes()
	misaligned[2]++ // offset now lands one byte past the return opcode start

	// A loop header entered from two places.
	b := bytecode.NewAssembler()
	b.Emit(bytecode.RootJumpIf, bytecode.Imm(0), bytecode.Imm(bytecode.CompareEq), bytecode.Imm(1), bytecode.To("top"))
	b.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(1).WriteVar(1)})
	b.Label("top")
	b.Emit(bytecode.RootJumpIf, bytecode.Imm(0), bytecode.Imm(bytecode.CompareLt), bytecode.Imm(10), bytecode.To("end"))
	b.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(2).WriteVar(1)})
	b.Emit(bytecode.RootJump, bytecode.To("top"))
	b.Label("end")
	b.Emit(bytecode.RootReturn, bytecode.Body{})
	twoEntries := b.Bytes()

	// A calc jump that is not a short-circuit operator.
	c := bytecode.NewAssembler()
	c.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().
		PushVar(0).Jump(bytecode.CalcJumpIfZero, "L").
		PushInt(1).WriteVar(1).
		Mark("L").PushInt(2).WriteVar(2)})
	c.Emit(bytecode.RootReturn, bytecode.Body{})
	calcGoto := c.Bytes()

	tests := []struct {
		name   string
		script []byte
		kind   error
	}{
		{"truncated", truncated, bytecode.ErrMalformedInput},
		{"unknown opcode", unknown, bytecode.ErrUnsupportedOperation},
		{"misaligned target", misaligned, bytecode.ErrMalformedInput},
		{"multi-entry loop", twoEntries, bytecode.ErrUnsupportedOperation},
		{"calc goto", calcGoto, bytecode.ErrUnsupportedOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testEnv).Decompile(tt.script)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v, want %v", err, tt.kind)
			}
			var be *bytecode.Error
			if !errors.As(err, &be) {
				t.Errorf("err = %T, want *bytecode.Error in chain", err)
			}
		})
	}
}

func TestDecompile_Instructions(t *testing.T) {
	res := decompile(t, scriptWhile())
	if len(res.Instructions) != 4 {
		t.Fatalf("len(Instructions) = %d, want 4", len(res.Instructions))
	}
	if res.Instructions[2].Op != bytecode.RootJump {
		t.Errorf("Instructions[2] = %s, want JUMP", res.Instructions[2].Op)
	}
}
