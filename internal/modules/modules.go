// Package modules implements the host modules that scripts load with
// require(). Each module is a named bundle of Go-backed functions built
// lazily against a session's runtime; the registry itself is stateless and
// shared across sessions.
package modules

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// Module builds its export object against a runtime on require().
type Module interface {
	Name() string
	Build(rt *goja.Runtime) (goja.Value, error)
}

// Config configures the built-in module set.
type Config struct {
	// Root is the directory the fs module is confined to. Empty = fs disabled.
	Root string

	// MaxFileSizeBytes caps fs reads/writes. 0 = 10 MB default.
	MaxFileSizeBytes int64

	// MaxFetchBytes caps web.fetch response bodies. 0 = 5 MB default.
	MaxFetchBytes int64

	// AllowPrivateHosts disables the private-address guard in web.fetch.
	AllowPrivateHosts bool
}

// Registry resolves module names to their export objects.
type Registry struct {
	mods   map[string]Module
	logger *slog.Logger
}

// NewRegistry creates an empty module registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		mods:   make(map[string]Module),
		logger: logger,
	}
}

// DefaultRegistry builds the standard module set: fs, web, os, encoding, uuid.
func DefaultRegistry(cfg Config, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	if cfg.Root != "" {
		r.Register(NewFSModule(cfg.Root, cfg.MaxFileSizeBytes, logger))
	}
	r.Register(NewWebModule(cfg.MaxFetchBytes, cfg.AllowPrivateHosts, logger))
	r.Register(NewOSModule(cfg.Root))
	r.Register(NewEncodingModule())
	r.Register(NewUUIDModule())
	return r
}

// Register adds a module, replacing any module with the same name.
func (r *Registry) Register(m Module) {
	r.mods[m.Name()] = m
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.mods))
	for name := range r.mods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the named module's export object for rt.
func (r *Registry) Resolve(rt *goja.Runtime, name string) (goja.Value, error) {
	m, ok := r.mods[name]
	if !ok {
		return nil, fmt.Errorf("unknown module %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return m.Build(rt)
}

// Install binds the global require() function on rt.
func (r *Registry) Install(rt *goja.Runtime) error {
	return rt.Set("require", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		v, err := r.Resolve(rt, name)
		if err != nil {
			panic(rt.NewTypeError("%s", err.Error()))
		}
		return v
	})
}

// throwf raises a JS exception from inside a host function.
func throwf(rt *goja.Runtime, format string, args ...any) goja.Value {
	panic(rt.NewGoError(fmt.Errorf(format, args...)))
}
