package modules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

const defaultMaxFileSize = 10 << 20 // 10 MB

// FSModule exposes file access rooted at the configured working directory.
//
// Every path is resolved to its absolute, symlink-free form and checked
// against the root before any I/O occurs, so scripts cannot traverse out
// with ../ sequences or symlinks.
type FSModule struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

// NewFSModule creates a file module confined to root.
func NewFSModule(root string, maxBytes int64, logger *slog.Logger) *FSModule {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileSize
	}
	return &FSModule{root: root, maxBytes: maxBytes, logger: logger}
}

func (m *FSModule) Name() string { return "fs" }

// Build returns {readFile, writeFile, listDir, exists, remove}.
func (m *FSModule) Build(rt *goja.Runtime) (goja.Value, error) {
	obj := rt.NewObject()

	if err := obj.Set("readFile", func(call goja.FunctionCall) goja.Value {
		path := m.resolve(rt, call.Argument(0).String())
		info, err := os.Stat(path)
		if err != nil {
			return throwf(rt, "fs.readFile: %v", err)
		}
		if info.Size() > m.maxBytes {
			return throwf(rt, "fs.readFile: %s is %d bytes, limit is %d", path, info.Size(), m.maxBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return throwf(rt, "fs.readFile: %v", err)
		}
		return rt.ToValue(string(data))
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("writeFile", func(call goja.FunctionCall) goja.Value {
		path := m.resolve(rt, call.Argument(0).String())
		data := call.Argument(1).String()
		if int64(len(data)) > m.maxBytes {
			return throwf(rt, "fs.writeFile: content is %d bytes, limit is %d", len(data), m.maxBytes)
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			return throwf(rt, "fs.writeFile: %v", err)
		}
		return rt.ToValue(len(data))
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("listDir", func(call goja.FunctionCall) goja.Value {
		path := m.resolve(rt, call.Argument(0).String())
		entries, err := os.ReadDir(path)
		if err != nil {
			return throwf(rt, "fs.listDir: %v", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return rt.ToValue(names)
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("exists", func(call goja.FunctionCall) goja.Value {
		safe, err := m.safePath(call.Argument(0).String())
		if err != nil {
			return rt.ToValue(false)
		}
		_, statErr := os.Stat(safe)
		return rt.ToValue(statErr == nil)
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		path := m.resolve(rt, call.Argument(0).String())
		if err := os.Remove(path); err != nil {
			return throwf(rt, "fs.remove: %v", err)
		}
		return goja.Undefined()
	}); err != nil {
		return nil, err
	}

	return obj, nil
}

// resolve validates a script-supplied path or throws into the runtime.
func (m *FSModule) resolve(rt *goja.Runtime, raw string) string {
	safe, err := m.safePath(raw)
	if err != nil {
		throwf(rt, "fs: %v", err)
	}
	return safe
}

// safePath resolves raw to its absolute, symlink-free form under the root.
// Relative paths are interpreted against the root, not the process cwd.
func (m *FSModule) safePath(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.root, abs)
	}
	abs = filepath.Clean(abs)

	// Resolve symlinks to the real filesystem path. For paths that do not
	// exist yet (write case), resolve the parent instead.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parent, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			return "", fmt.Errorf("path does not exist and parent is invalid: %w", err)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	rootResolved, err := filepath.EvalSymlinks(m.root)
	if err != nil {
		rootResolved = m.root
	}

	// "/work" must match "/work/foo" but not "/workspace".
	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside the working directory", raw)
	}
	return resolved, nil
}
