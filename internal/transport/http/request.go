package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// RequestReader turns an *http.Request into a SecurityRequest.
type RequestReader struct {
	maxBody int64
	clock   func() time.Time
}

// NewRequestReader creates a reader that buffers at most maxBody+1 body
// bytes. Anything beyond is never read.
func NewRequestReader(maxBody int64) *RequestReader {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &RequestReader{maxBody: maxBody, clock: time.Now}
}

// Read builds the pipeline input from r. The body is restored so it can be
// read again downstream. The raw bytes are also returned.
//
// A JSON body is decoded; anything else, including a body over the limit, is
// kept as a string so the validator can judge its size.
func (rr *RequestReader) Read(r *http.Request) (*domain.SecurityRequest, []byte, error) {
	raw, err := rr.readBody(r)
	if err != nil {
		return nil, nil, err
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[name] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		headers["Host"] = r.Host
	}

	// The user is unknown until the session stage, so requests arriving
	// over HTTP are rate limited per client IP (key ":<ip>").
	req := &domain.SecurityRequest{
		URL:     r.URL.RequestURI(),
		Method:  r.Method,
		Headers: domain.NewHeaders(headers),
		Body:    rr.decodeBody(r, raw),
		Context: domain.NewSecurityContext("", "", ClientIP(r), r.UserAgent(), rr.clock(), nil, 0),
	}
	return req, raw, nil
}

func (rr *RequestReader) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, rr.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

func (rr *RequestReader) decodeBody(r *http.Request, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if int64(len(raw)) > rr.maxBody || !isJSON(r.Header.Get("Content-Type")) {
		return string(raw)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		logger.Debug("failed to parse body as JSON",
			logger.String("error", err.Error()),
			logger.String("path", r.URL.Path),
		)
		return string(raw)
	}
	return body
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// ClientIP returns the host part of RemoteAddr. chi's RealIP middleware has
// already applied X-Forwarded-For / X-Real-IP when it is mounted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
