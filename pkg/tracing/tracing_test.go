package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingProvider() (*Provider, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewWithTracerProvider(tp, "test"), rec
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	ctx, span := p.StartSpan(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStageEvent(t *testing.T) {
	p, rec := newRecordingProvider()

	ctx, span := p.StartSpan(context.Background(), "pipeline")
	StageEvent(ctx, "RATE_LIMIT", true, 3*time.Microsecond)
	StageEvent(ctx, "THREAT_SCAN", false, time.Microsecond)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Len(t, ended[0].Events(), 2)
	assert.NotEmpty(t, TraceIDFromContext(ctx))
}

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	p, rec := newRecordingProvider()

	h := Middleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, TraceIDFromContext(r.Context()))
		w.WriteHeader(http.StatusForbidden)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/questoes", nil))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/questoes", ended[0].Name())
}

func TestMiddleware_DisabledPassThrough(t *testing.T) {
	called := false
	h := Middleware(Disabled())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
