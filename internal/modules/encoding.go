package modules

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/dop251/goja"
)

// EncodingModule exposes base64/hex codecs and sha256. It carries no
// dangerous capability and stays available in sandbox mode.
type EncodingModule struct{}

// NewEncodingModule creates the encoding module.
func NewEncodingModule() *EncodingModule { return &EncodingModule{} }

func (m *EncodingModule) Name() string { return "encoding" }

func (m *EncodingModule) Build(rt *goja.Runtime) (goja.Value, error) {
	obj := rt.NewObject()

	fns := map[string]func(string) (string, error){
		"base64Encode": func(s string) (string, error) {
			return base64.StdEncoding.EncodeToString([]byte(s)), nil
		},
		"base64Decode": func(s string) (string, error) {
			b, err := base64.StdEncoding.DecodeString(s)
			return string(b), err
		},
		"hexEncode": func(s string) (string, error) {
			return hex.EncodeToString([]byte(s)), nil
		},
		"hexDecode": func(s string) (string, error) {
			b, err := hex.DecodeString(s)
			return string(b), err
		},
		"sha256": func(s string) (string, error) {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:]), nil
		},
	}

	for name, fn := range fns {
		fn := fn
		name := name
		if err := obj.Set(name, func(call goja.FunctionCall) goja.Value {
			out, err := fn(call.Argument(0).String())
			if err != nil {
				return throwf(rt, "encoding.%s: %v", name, err)
			}
			return rt.ToValue(out)
		}); err != nil {
			return nil, err
		}
	}

	return obj, nil
}
