package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/unscript/decompiler"
	"github.com/chazu/unscript/pkg/bytecode"
)

func testDecompiler() *decompiler.Decompiler {
	return decompiler.New(decompiler.Environment{SceneVars: 1000, SystemVars: 200, MaxBuiltin: 255})
}

// scene_0 = 5 + 3;
func assignScript() []byte {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.RootCalc, bytecode.Body{bytecode.NewCalc().PushInt(5).PushInt(3).Op(bytecode.CalcAdd).WriteVar(0)})
	a.Emit(bytecode.RootReturn, bytecode.Body{})
	return a.Bytes()
}

func newTestServer(t *testing.T) *LspServer {
	t.Helper()
	s := NewLSP(testDecompiler())
	t.Cleanup(s.worker.Stop)
	return s
}

// ---------------------------------------------------------------------------
// extractWord
// ---------------------------------------------------------------------------

func TestExtractWord_SimpleWord(t *testing.T) {
	text := "hello world"
	pos := protocol.Position{Line: 0, Character: 3}
	word := extractWord(text, pos)
	if word != "hello" {
		t.Errorf("extractWord = %q, want %q", word, "hello")
	}
}

func TestExtractWord_AtEnd(t *testing.T) {
	text := "hello world"
	pos := protocol.Position{Line: 0, Character: 5}
	word := extractWord(text, pos)
	if word != "hello" {
		t.Errorf("extractWord = %q, want %q", word, "hello")
	}
}

func TestExtractWord_AtSpace(t *testing.T) {
	text := "hello world"
	// Position at the space between words
	pos := protocol.Position{Line: 0, Character: 5}
	word := extractWord(text, pos)
	// Cursor at end of "hello" (char 5 is the space), so it should find "hello"
	// because start walks back from col=5, and line[4]='o' is a letter
	if word != "hello" {
		t.Errorf("extractWord at space = %q, want %q", word, "hello")
	}
}

func TestExtractWord_SecondWord(t *testing.T) {
	text := "hello world"
	pos := protocol.Position{Line: 0, Character: 8}
	word := extractWord(text, pos)
	if word != "world" {
		t.Errorf("extractWord = %q, want %q", word, "world")
	}
}

func TestExtractWord_EmptyLine(t *testing.T) {
	text := ""
	pos := protocol.Position{Line: 0, Character: 0}
	word := extractWord(text, pos)
	if word != "" {
		t.Errorf("extractWord = %q, want empty string", word)
	}
}

func TestExtractWord_MultiLine(t *testing.T) {
	text := "first\nObject"
	pos := protocol.Position{Line: 1, Character: 3}
	word := extractWord(text, pos)
	if word != "Object" {
		t.Errorf("extractWord = %q, want %q", word, "Object")
	}
}

func TestExtractWord_WithUnderscore(t *testing.T) {
	text := "my_var"
	pos := protocol.Position{Line: 0, Character: 3}
	word := extractWord(text, pos)
	if word != "my_var" {
		t.Errorf("extractWord = %q, want %q", word, "my_var")
	}
}

func TestExtractWord_LineBeyondDocument(t *testing.T) {
	text := "single line"
	pos := protocol.Position{Line: 5, Character: 0}
	word := extractWord(text, pos)
	if word != "" {
		t.Errorf("extractWord beyond doc = %q, want empty string", word)
	}
}


// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

func TestWorker_Decompile(t *testing.T) {
	w := NewWorker(testDecompiler())
	defer w.Stop()

	res, err := w.Decompile(assignScript())
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	if res.Text != "scene_0 = 5 + 3;\nreturn;\n" {
		t.Errorf("Text = %q", res.Text)
	}

	if _, err := w.Decompile([]byte{0xFF}); err == nil {
		t.Error("Decompile of truncated script succeeded, want error")
	}
}

func TestWorker_RecoversPanic(t *testing.T) {
	w := NewWorker(testDecompiler())
	defer w.Stop()

	_, err := w.Do(func(*decompiler.Decompiler) (any, error) {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Do(panic) err = %v, want panic error", err)
	}

	// The worker keeps serving after a panic.
	v, err := w.Do(func(*decompiler.Decompiler) (any, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Do = %v, %v, want 7, nil", v, err)
	}
}

func TestWorker_Stopped(t *testing.T) {
	w := NewWorker(testDecompiler())
	w.Stop()
	if _, err := w.Decompile(assignScript()); err == nil {
		t.Error("Decompile after Stop succeeded, want error")
	}
}

// ---------------------------------------------------------------------------
// Documents and language features
// ---------------------------------------------------------------------------

func TestLSP_OpenRegistered(t *testing.T) {
	s := newTestServer(t)
	uri := "file:///tmp/assign.txt"
	s.Register(uri, assignScript())

	diags := s.open(uri, "scene_0 = 5 + 3;\nreturn;\n")
	if diags == nil || len(diags) != 0 {
		t.Errorf("diagnostics = %v, want empty", diags)
	}
	doc := s.document(protocol.DocumentUri(uri))
	if doc == nil {
		t.Fatal("document not recorded")
	}
	if doc.result.Text != "scene_0 = 5 + 3;\nreturn;\n" {
		t.Errorf("result text = %q", doc.result.Text)
	}
}

func TestLSP_OpenStaleText(t *testing.T) {
	s := newTestServer(t)
	uri := "file:///tmp/assign.txt"
	s.Register(uri, assignScript())

	diags := s.open(uri, "edited\n")
	if len(diags) != 1 || *diags[0].Severity != protocol.DiagnosticSeverityWarning {
		t.Errorf("diagnostics = %+v, want one warning", diags)
	}
}

func TestLSP_OpenBrokenScript(t *testing.T) {
	s := newTestServer(t)
	uri := "file:///tmp/broken.txt"
	s.Register(uri, []byte{0x01})

	diags := s.open(uri, "")
	if len(diags) != 1 || *diags[0].Severity != protocol.DiagnosticSeverityError {
		t.Fatalf("diagnostics = %+v, want one error", diags)
	}
	if s.document(protocol.DocumentUri(uri)) != nil {
		t.Error("failed decompilation recorded a document")
	}
}

func TestLSP_OpenUnknown(t *testing.T) {
	s := newTestServer(t)
	if diags := s.open("file:///nowhere/none.txt", ""); diags != nil {
		t.Errorf("diagnostics = %v, want nil", diags)
	}
	if diags := s.open("untitled:Untitled-1", ""); diags != nil {
		t.Errorf("diagnostics = %v, want nil", diags)
	}
}

func TestLSP_OpenSibling(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "intro.bin"), assignScript(), 0644); err != nil {
		t.Fatal(err)
	}
	textPath := filepath.Join(dir, "intro.txt")

	s := newTestServer(t)
	uri := "file://" + filepath.ToSlash(textPath)
	s.open(uri, "scene_0 = 5 + 3;\nreturn;\n")
	if s.document(protocol.DocumentUri(uri)) == nil {
		t.Error("sibling script was not decompiled")
	}
}

func TestSiblingScript(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "a.dbg", "a.scr", "b.txt", "c", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"a.txt", "a.scr", true},
		{"b.txt", "", false},
		{"c.txt", "c", true},
	}
	for _, tt := range tests {
		got, ok := SiblingScript(filepath.Join(dir, tt.text))
		if ok != tt.ok || (ok && got != filepath.Join(dir, tt.want)) {
			t.Errorf("SiblingScript(%s) = %q, %v, want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHover(t *testing.T) {
	res, err := testDecompiler().Decompile(assignScript())
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}

	// "5" in "scene_0 = 5 + 3;" is the push at offset 6.
	h := hover(res, protocol.Position{Line: 0, Character: 10})
	if h == nil {
		t.Fatal("hover = nil, want offset 6")
	}
	value := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(value, "`0x0006`") {
		t.Errorf("hover = %q, want offset 0x0006", value)
	}
	if !strings.Contains(value, "0006  ") {
		t.Errorf("hover = %q, want the instruction at 0006", value)
	}

	// Past the end of the line.
	if h := hover(res, protocol.Position{Line: 0, Character: 40}); h != nil {
		t.Errorf("hover past line end = %+v, want nil", h)
	}
	if h := hover(res, protocol.Position{Line: 9, Character: 0}); h != nil {
		t.Errorf("hover past last line = %+v, want nil", h)
	}
}

func TestLabelDefinition(t *testing.T) {
	text := "if (!scene_0) goto label_0012;\nscene_1 = 1;\n    label_0012:\nreturn;\n"

	loc, ok := labelDefinition(text, "label_0012")
	if !ok {
		t.Fatal("labelDefinition found nothing")
	}
	if loc.Range.Start.Line != 2 || loc.Range.Start.Character != 4 {
		t.Errorf("start = %+v, want line 2 col 4", loc.Range.Start)
	}
	if loc.Range.End.Character != 14 {
		t.Errorf("end col = %d, want 14", loc.Range.End.Character)
	}

	if _, ok := labelDefinition(text, "label_0099"); ok {
		t.Error("undeclared label resolved")
	}
	if _, ok := labelDefinition(text, "scene_1"); ok {
		t.Error("non-label word resolved")
	}
}

func TestLabelDefinition_FromCursor(t *testing.T) {
	text := "goto label_0004;\nlabel_0004:\n"
	word := extractWord(text, protocol.Position{Line: 0, Character: 8})
	if word != "label_0004" {
		t.Fatalf("extractWord = %q, want label_0004", word)
	}
	loc, ok := labelDefinition(text, word)
	if !ok || loc.Range.Start.Line != 1 {
		t.Errorf("labelDefinition = %+v, %v, want line 1", loc, ok)
	}
}
