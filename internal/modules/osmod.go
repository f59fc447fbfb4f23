package modules

import (
	"os"
	"runtime"

	"github.com/dop251/goja"
)

// OSModule exposes read-only process environment introspection.
type OSModule struct {
	workdir string
}

// NewOSModule creates the os module. workdir is reported as cwd().
func NewOSModule(workdir string) *OSModule {
	return &OSModule{workdir: workdir}
}

func (m *OSModule) Name() string { return "os" }

// Build returns {env, platform, cwd, hostname}.
func (m *OSModule) Build(rt *goja.Runtime) (goja.Value, error) {
	obj := rt.NewObject()

	if err := obj.Set("env", func(call goja.FunctionCall) goja.Value {
		v, ok := os.LookupEnv(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return rt.ToValue(v)
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("platform", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(runtime.GOOS)
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("cwd", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(m.workdir)
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("hostname", func(goja.FunctionCall) goja.Value {
		name, err := os.Hostname()
		if err != nil {
			return throwf(rt, "os.hostname: %v", err)
		}
		return rt.ToValue(name)
	}); err != nil {
		return nil, err
	}

	return obj, nil
}
