package modules

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dop251/goja"
)

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	rt := goja.New()
	reg := NewRegistry(testLogger())
	reg.Register(NewWebModule(0, true, testLogger()))
	if err := reg.Install(rt); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	v, err := rt.RunString(`require("web").fetch("` + srv.URL + `")`)
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	res, ok := v.Export().(map[string]any)
	if !ok {
		t.Fatalf("fetch returned %T, want an object", v.Export())
	}
	if status, _ := res["status"].(int64); status != 200 {
		t.Errorf("status = %v, want 200", res["status"])
	}
	if body, _ := res["body"].(string); body != "pong" {
		t.Errorf("body = %q, want pong", res["body"])
	}
}

func TestWebFetchBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer srv.Close()

	rt := goja.New()
	reg := NewRegistry(testLogger())
	reg.Register(NewWebModule(16, true, testLogger()))
	if err := reg.Install(rt); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	v, err := rt.RunString(`require("web").fetch("` + srv.URL + `").body.length`)
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	if v.ToInteger() != 16 {
		t.Errorf("body length = %d, want 16", v.ToInteger())
	}
}

func TestWebFetchBlocksPrivateHosts(t *testing.T) {
	rt := goja.New()
	reg := NewRegistry(testLogger())
	reg.Register(NewWebModule(0, false, testLogger()))
	if err := reg.Install(rt); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	for _, target := range []string{
		"http://127.0.0.1:9/",
		"http://localhost:9/",
		"ftp://example.com/file",
	} {
		if _, err := rt.RunString(`require("web").fetch("` + target + `")`); err == nil {
			t.Errorf("fetch(%q) should throw", target)
		}
	}
}
