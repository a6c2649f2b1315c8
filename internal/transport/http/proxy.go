package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/tracing"
)

// Identity headers set on forwarded requests.
const (
	HeaderUserID      = "X-Secgate-User-ID"
	HeaderSessionID   = "X-Secgate-Session-ID"
	HeaderPermissions = "X-Secgate-Permissions"
	HeaderAuditID     = "X-Audit-ID"
)

// ReverseProxy forwards allowed requests upstream. The upstream sees the
// sanitized headers and body, never the raw ones.
type ReverseProxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
}

// NewReverseProxy creates a proxy to cfg.Upstream.
func NewReverseProxy(cfg config.ProxyConfig) (*ReverseProxy, error) {
	target, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %s: %w", cfg.Upstream, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", cfg.Upstream)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	rp := &ReverseProxy{target: target}
	rp.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			tracing.InjectTraceContext(pr.Out)
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WithContext(r.Context()).Error("proxy error",
				logger.String("upstream", cfg.Upstream),
				logger.String("path", r.URL.Path),
				logger.Err(err),
			)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
	return rp, nil
}

// ServeHTTP forwards the sanitized form of an allowed request.
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d, ok := DecisionFromContext(r.Context())
	if !ok || d.Response.Request == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	sanitized := d.Response.Request

	out := r.Clone(r.Context())
	out.Header = make(http.Header, len(sanitized.Headers)+3)
	for name, value := range sanitized.Headers {
		out.Header.Set(name, value)
	}
	out.Header.Set(HeaderUserID, sanitized.Context.UserID)
	out.Header.Set(HeaderSessionID, sanitized.Context.SessionID)
	out.Header.Set(HeaderPermissions, strings.Join(sanitized.Context.Permissions.Slice(), ","))
	out.Header.Set(HeaderAuditID, d.Response.AuditID)

	body, err := forwardBody(d)
	if err != nil {
		logger.WithContext(r.Context()).Error("failed to encode sanitized body", logger.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	if len(body) == 0 {
		out.Body = http.NoBody
	}

	rp.proxy.ServeHTTP(w, out)
}

func forwardBody(d *Decision) ([]byte, error) {
	body := d.Response.Request.Body
	if body == nil {
		return nil, nil
	}
	if d.JSONBody {
		return json.Marshal(body)
	}
	if s, ok := body.(string); ok {
		return []byte(s), nil
	}
	return d.Raw, nil
}

// Target returns the upstream URL.
func (rp *ReverseProxy) Target() string {
	return rp.target.String()
}

var _ http.Handler = (*ReverseProxy)(nil)
