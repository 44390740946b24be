// Package server serves decompiled scripts to editors over the Language
// Server Protocol.
package server

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/unscript/decompiler"
	"github.com/chazu/unscript/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "unscript-lsp"

var log = commonlog.GetLogger("unscript.server")

// document is one open rendering and the decompilation behind it.
type document struct {
	text   string
	result *decompiler.Result
}

// LspServer answers hover and definition requests on decompiled text.
type LspServer struct {
	worker *Worker

	mu      sync.Mutex
	scripts map[string][]byte    // URI → raw script bytes
	docs    map[string]*document // URI → open document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server that decompiles with d.
func NewLSP(d *decompiler.Decompiler) *LspServer {
	s := &LspServer{
		worker:  NewWorker(d),
		scripts: make(map[string][]byte),
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// Register associates a document URI with the script it renders.
// Documents opened without a registration fall back to a sibling file.
func (s *LspServer) Register(uri string, script []byte) {
	s.mu.Lock()
	s.scripts[uri] = script
	s.mu.Unlock()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("unscript LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	diags := s.open(string(uri), params.TextDocument.Text)
	if diags != nil {
		go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: diags,
		})
	}
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := string(params.TextDocument.URI)

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			if doc, ok := s.docs[uri]; ok {
				doc.text = whole.Text
			}
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// open decompiles the script behind uri and records the document. It
// returns the diagnostics to publish, or nil when uri renders no script.
func (s *LspServer) open(uri, text string) []protocol.Diagnostic {
	script, ok := s.scriptFor(uri)
	if !ok {
		log.Debugf("no script for %s", uri)
		return nil
	}

	res, err := s.worker.Decompile(script)
	if err != nil {
		log.Errorf("decompiling %s: %s", uri, err)
		severity := protocol.DiagnosticSeverityError
		source := lspName
		return []protocol.Diagnostic{{
			Range: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 0, Character: 0},
			},
			Severity: &severity,
			Source:   &source,
			Message:  err.Error(),
		}}
	}

	s.mu.Lock()
	s.docs[uri] = &document{text: text, result: res}
	s.mu.Unlock()

	// Empty, not nil: clears diagnostics left by an earlier failure.
	diags := []protocol.Diagnostic{}
	if text != res.Text {
		severity := protocol.DiagnosticSeverityWarning
		source := lspName
		diags = append(diags, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: 0, Character: 0},
			},
			Severity: &severity,
			Source:   &source,
			Message:  "document differs from the current decompilation; positions may be stale",
		})
	}
	return diags
}

// scriptFor returns the registered script for uri, or reads the bytecode
// file sitting next to a rendered "<name>.txt".
func (s *LspServer) scriptFor(uri string) ([]byte, bool) {
	s.mu.Lock()
	script, ok := s.scripts[uri]
	s.mu.Unlock()
	if ok {
		return script, true
	}

	path, err := uriPath(uri)
	if err != nil || filepath.Ext(path) != ".txt" {
		return nil, false
	}
	sibling, ok := SiblingScript(path)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(sibling)
	if err != nil {
		log.Errorf("reading %s: %s", sibling, err)
		return nil, false
	}
	return data, true
}

// SiblingScript finds the script a rendered text file was produced from:
// a file with the same base name and any extension other than the ones
// the CLI writes.
func SiblingScript(textPath string) (string, bool) {
	base := strings.TrimSuffix(textPath, ".txt")
	if _, err := os.Stat(base); err == nil {
		return base, true
	}
	matches, _ := filepath.Glob(base + ".*")
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".txt", ".dbg", ".disasm":
			continue
		}
		return m, true
	}
	return "", false
}

func uriPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// --- Language features ---

func (s *LspServer) document(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	return hover(doc.result, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc := s.document(uri)
	if doc == nil {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	loc, ok := labelDefinition(doc.result.Text, word)
	if !ok {
		return nil, nil
	}
	loc.URI = uri
	return []protocol.Location{loc}, nil
}

// hover describes the bytecode rendered at pos: its offset and the
// instruction found there.
func hover(res *decompiler.Result, pos protocol.Position) *protocol.Hover {
	off, ok := res.Debug.OffsetAt(int(pos.Line), int(pos.Character))
	if !ok {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**offset** `0x%04X`", off)
	if line, ok := bytecode.InstructionAt(res.Instructions, off); ok {
		fmt.Fprintf(&b, "\n\n```\n%s\n```", line)
	}
	if lines := res.Debug.LinesForOffset(off); len(lines) > 1 {
		fmt.Fprintf(&b, "\n\nRendered on %d lines", len(lines))
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// labelDefinition finds the line declaring label word.
func labelDefinition(text, word string) (protocol.Location, bool) {
	if !strings.HasPrefix(word, "label_") {
		return protocol.Location{}, false
	}
	decl := word + ":"
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed != decl {
			continue
		}
		col := protocol.UInteger(len(line) - len(trimmed))
		return protocol.Location{
			Range: protocol.Range{
				Start: protocol.Position{Line: protocol.UInteger(i), Character: col},
				End:   protocol.Position{Line: protocol.UInteger(i), Character: col + protocol.UInteger(len(word))},
			},
		}, true
	}
	return protocol.Location{}, false
}

// --- Text extraction helpers ---

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	// Find end
	end := col
	for end < len(line) {
		ch := rune(line[end])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			end++
		} else {
			break
		}
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
