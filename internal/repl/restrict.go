package repl

import (
	"github.com/dop251/goja"

	"github.com/jkaninda/sanduku/internal/modules"
)

// Blocked capabilities in sandbox mode. Modules that reach the filesystem,
// network, or process environment, and the primitives that evaluate
// arbitrary text as code.
var (
	DefaultBlockedModules = []string{"fs", "web", "os"}
	DefaultBlockedGlobals = []string{"eval", "Function"}
)

// Restrictor masks dangerous capabilities for the duration of a single
// execution. Denial happens at the point of use: a blocked require() or
// eval() throws into the running snippet and is reported as a
// capability_denied outcome.
//
// This is best-effort defense in depth, not a security boundary — it cannot
// prove a snippet capability-free in advance and does not replace OS-level
// isolation.
type Restrictor struct {
	registry       *modules.Registry
	blockedModules map[string]struct{}
	blockedGlobals []string
}

// NewRestrictor creates a restrictor with the default denylists.
// registry serves the modules that remain allowed under restriction.
func NewRestrictor(registry *modules.Registry) *Restrictor {
	blocked := make(map[string]struct{}, len(DefaultBlockedModules))
	for _, name := range DefaultBlockedModules {
		blocked[name] = struct{}{}
	}
	return &Restrictor{
		registry:       registry,
		blockedModules: blocked,
		blockedGlobals: DefaultBlockedGlobals,
	}
}

// BlocksModule reports whether a module name is denylisted.
func (r *Restrictor) BlocksModule(name string) bool {
	_, ok := r.blockedModules[name]
	return ok
}

// BlockedModules returns the denylisted module names.
func (r *Restrictor) BlockedModules() []string {
	return append([]string(nil), DefaultBlockedModules...)
}

// Apply overlays deny stubs onto rt's globals and returns a restore
// function. onDeny receives the offending capability name before the stub
// throws. The overlay lasts one execution — restore puts the original
// bindings back, so the persisted namespace is never permanently restricted.
func (r *Restrictor) Apply(rt *goja.Runtime, onDeny func(name string)) (restore func()) {
	global := rt.GlobalObject()

	masked := append(append([]string(nil), r.blockedGlobals...), "require")
	saved := make(map[string]goja.Value, len(masked))
	for _, name := range masked {
		saved[name] = global.Get(name)
	}

	deny := func(name string) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			onDeny(name)
			panic(rt.NewTypeError("capability %q is blocked in sandbox mode", name))
		}
	}

	for _, name := range r.blockedGlobals {
		_ = rt.Set(name, deny(name))
	}

	// require stays callable for modules off the denylist.
	_ = rt.Set("require", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if r.BlocksModule(name) {
			onDeny(name)
			panic(rt.NewTypeError("module %q is blocked in sandbox mode", name))
		}
		v, err := r.registry.Resolve(rt, name)
		if err != nil {
			panic(rt.NewTypeError("%s", err.Error()))
		}
		return v
	})

	return func() {
		for name, v := range saved {
			if v == nil {
				_ = global.Delete(name)
				continue
			}
			_ = rt.Set(name, v)
		}
	}
}
