package modules

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const (
	defaultMaxFetchBytes = 5 << 20 // 5 MB
	fetchTimeout         = 20 * time.Second
)

// WebModule exposes outbound HTTP fetch with a private-address guard.
type WebModule struct {
	maxBytes     int64
	allowPrivate bool
	logger       *slog.Logger
	client       *http.Client
}

// NewWebModule creates the web module. allowPrivate disables the
// private/loopback address guard (useful in tests).
func NewWebModule(maxBytes int64, allowPrivate bool, logger *slog.Logger) *WebModule {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFetchBytes
	}
	return &WebModule{
		maxBytes:     maxBytes,
		allowPrivate: allowPrivate,
		logger:       logger,
		client:       &http.Client{Timeout: fetchTimeout},
	}
}

func (m *WebModule) Name() string { return "web" }

// Build returns {fetch}. fetch(url[, {method, body, headers}]) returns
// {status, body, headers}.
func (m *WebModule) Build(rt *goja.Runtime) (goja.Value, error) {
	obj := rt.NewObject()

	if err := obj.Set("fetch", func(call goja.FunctionCall) goja.Value {
		rawURL := call.Argument(0).String()
		if err := m.checkURL(rawURL); err != nil {
			return throwf(rt, "web.fetch: %v", err)
		}

		method := http.MethodGet
		var body io.Reader
		headers := map[string]string{}
		if opts, ok := call.Argument(1).Export().(map[string]any); ok {
			if v, ok := opts["method"].(string); ok && v != "" {
				method = strings.ToUpper(v)
			}
			if v, ok := opts["body"].(string); ok && v != "" {
				body = strings.NewReader(v)
			}
			if hs, ok := opts["headers"].(map[string]any); ok {
				for k, v := range hs {
					if s, ok := v.(string); ok {
						headers[k] = s
					}
				}
			}
		}

		req, err := http.NewRequest(method, rawURL, body)
		if err != nil {
			return throwf(rt, "web.fetch: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return throwf(rt, "web.fetch: %v", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
		if err != nil {
			return throwf(rt, "web.fetch: reading body: %v", err)
		}
		if int64(len(data)) > m.maxBytes {
			data = data[:m.maxBytes]
		}

		respHeaders := map[string]string{}
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}

		out := rt.NewObject()
		_ = out.Set("status", resp.StatusCode)
		_ = out.Set("body", string(data))
		_ = out.Set("headers", respHeaders)
		return out
	}); err != nil {
		return nil, err
	}

	return obj, nil
}

// checkURL rejects non-HTTP schemes and, unless allowPrivate is set,
// hosts that resolve to loopback/private/link-local addresses.
func (m *WebModule) checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	if m.allowPrivate {
		return nil
	}

	host := u.Hostname()
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("host %q resolves to a private address", host)
		}
	}
	return nil
}
