package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/unscript/decompiler"
	"github.com/chazu/unscript/manifest"
	"github.com/chazu/unscript/pkg/bytecode"
	"github.com/chazu/unscript/pkg/debuginfo"
	"github.com/chazu/unscript/server"
	"github.com/chazu/unscript/store"
)

var log = commonlog.GetLogger("unscript.cli")

type options struct {
	profile string
	outDir  string
	debug   bool
	disasm  bool
	cache   string
	jobs    int
	lsp     bool
}

// output is what one script produced, kept for LSP registration.
type output struct {
	textPath string
	script   []byte
}

// run decompiles every path and, with -lsp, serves the results. Each
// script is independent: a failure is reported and the rest continue.
func run(opts options, paths []string, stderr io.Writer) error {
	profile, err := loadProfile(opts.profile)
	if err != nil {
		return err
	}
	log.Debugf("profile %q", profile.Profile.Name)

	dec := decompiler.New(profile.Environment(), decompiler.WithIndent(profile.Output.Indent))

	cachePath := opts.cache
	if cachePath == "" {
		cachePath = profile.CachePath()
	}
	var cache *store.Store
	if cachePath != "" {
		cache, err = store.Open(cachePath)
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}
		defer cache.Close()
	}

	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}

	b := &batch{
		opts:        opts,
		dec:         dec,
		cache:       cache,
		fingerprint: profile.Fingerprint(),
	}

	var g errgroup.Group
	if opts.jobs > 0 {
		g.SetLimit(opts.jobs)
	}
	var failed atomic.Int32
	var mu sync.Mutex
	var outputs []output
	for _, path := range paths {
		g.Go(func() error {
			out, err := b.decompileFile(path)
			if err != nil {
				failed.Add(1)
				log.Errorf("%s: %s", path, err)
				fmt.Fprintf(stderr, "%s: %v\n", path, err)
				return nil
			}
			mu.Lock()
			outputs = append(outputs, out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if opts.lsp {
		srv := server.NewLSP(dec)
		for _, out := range outputs {
			srv.Register(fileURI(out.textPath), out.script)
		}
		if err := srv.Run(); err != nil {
			return fmt.Errorf("language server: %w", err)
		}
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d scripts failed", n, len(paths))
	}
	return nil
}

// loadProfile reads an explicit profile, or the nearest unscript.toml, or
// falls back to the defaults.
func loadProfile(path string) (*manifest.Profile, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	p, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return manifest.Default(), nil
	}
	return p, nil
}

type batch struct {
	opts        options
	dec         *decompiler.Decompiler
	cache       *store.Store
	fingerprint uint64
}

// decompileFile writes the outputs for one script.
func (b *batch) decompileFile(path string) (output, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return output{}, err
	}

	text, debug, err := b.decompile(script)
	if err != nil {
		return output{}, err
	}

	base := b.outputBase(path)
	out := output{textPath: base + ".txt", script: script}
	if err := os.WriteFile(out.textPath, []byte(text), 0644); err != nil {
		return output{}, err
	}

	if b.opts.debug {
		data, err := debuginfo.Marshal(debug)
		if err != nil {
			return output{}, fmt.Errorf("encoding debug info: %w", err)
		}
		if err := os.WriteFile(base+".dbg", data, 0644); err != nil {
			return output{}, err
		}
	}

	if b.opts.disasm {
		instrs, err := bytecode.DecodeScript(script)
		if err != nil {
			return output{}, fmt.Errorf("decode: %w", err)
		}
		listing := bytecode.DisassembleWithName(instrs, filepath.Base(path))
		if err := os.WriteFile(base+".disasm", []byte(listing), 0644); err != nil {
			return output{}, err
		}
	}

	log.Debugf("wrote %s", out.textPath)
	return out, nil
}

// decompile consults the cache before running the decompiler.
func (b *batch) decompile(script []byte) (string, *debuginfo.ScriptDebugInfo, error) {
	var key store.Key
	if b.cache != nil {
		key = store.KeyFor(script, b.fingerprint)
		e, err := b.cache.Get(key)
		switch {
		case err == nil:
			log.Debugf("cache hit %s", key)
			return e.Text, e.Debug, nil
		case !errors.Is(err, store.ErrNotFound):
			// A damaged entry is replaced below.
			log.Errorf("cache read %s: %s", key, err)
		}
	}

	res, err := b.dec.Decompile(script)
	if err != nil {
		return "", nil, err
	}

	if b.cache != nil {
		if err := b.cache.Put(key, &store.Entry{Text: res.Text, Debug: res.Debug}); err != nil {
			log.Errorf("cache write %s: %s", key, err)
		}
	}
	return res.Text, res.Debug, nil
}

// outputBase returns the output path for a script without an extension.
func (b *batch) outputBase(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := b.opts.outDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return filepath.Join(dir, name)
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}
