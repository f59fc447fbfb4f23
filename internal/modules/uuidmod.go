package modules

import (
	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// UUIDModule exposes UUID generation and validation.
type UUIDModule struct{}

// NewUUIDModule creates the uuid module.
func NewUUIDModule() *UUIDModule { return &UUIDModule{} }

func (m *UUIDModule) Name() string { return "uuid" }

func (m *UUIDModule) Build(rt *goja.Runtime) (goja.Value, error) {
	obj := rt.NewObject()

	if err := obj.Set("v4", func(goja.FunctionCall) goja.Value {
		return rt.ToValue(uuid.New().String())
	}); err != nil {
		return nil, err
	}

	if err := obj.Set("isValid", func(call goja.FunctionCall) goja.Value {
		_, err := uuid.Parse(call.Argument(0).String())
		return rt.ToValue(err == nil)
	}); err != nil {
		return nil, err
	}

	return obj, nil
}
