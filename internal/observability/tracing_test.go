package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/composer/internal/config"
)

// recordSpans routes the global tracer into memory for one test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exp
}

func attrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func onlySpan(t *testing.T, exp *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	return spans[0]
}

func TestInitTracing(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, config.TracingConfig{Enabled: false, Exporter: "jaeger"}, "composer", "test")
	if err != nil {
		t.Fatalf("disabled: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("disabled shutdown: %v", err)
	}

	if _, err := InitTracing(ctx, config.TracingConfig{Enabled: true, Exporter: "jaeger"}, "composer", "test"); err == nil {
		t.Error("unknown exporter accepted")
	}

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	shutdown, err = InitTracing(ctx, config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, "composer", "test")
	if err != nil {
		t.Fatalf("stdout: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("stdout shutdown: %v", err)
	}
}

func TestRootSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{-2, "TraceIDRatioBased{0.1}"},
		{0.25, "TraceIDRatioBased{0.25}"},
		{1, "AlwaysOnSampler"},
		{3, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		if got := rootSampler(tt.rate).Description(); got != tt.want {
			t.Errorf("rootSampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestStartSpan_loadCarriesSessionAttributes(t *testing.T) {
	exp := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "composer.load",
		AttrSessionID.String("sess-1"),
		AttrInstanceID.String("inst-1"),
		AttrApplicationID.Int64(2),
	)
	span.SetAttributes(AttrLoadGeneration.Int64(3))
	if TraceIDFromContext(ctx) == "" {
		t.Error("no trace id inside the load span")
	}
	EndSpanWithError(span, nil)

	s := onlySpan(t, exp)
	if s.Name != "composer.load" {
		t.Errorf("name = %q", s.Name)
	}
	if s.InstrumentationScope.Name != tracerName {
		t.Errorf("tracer = %q, want %q", s.InstrumentationScope.Name, tracerName)
	}
	got := attrs(s)
	for k, want := range map[string]string{
		"composer.session_id":      "sess-1",
		"composer.instance_id":     "inst-1",
		"composer.application_id":  "2",
		"composer.load_generation": "3",
	} {
		if got[k] != want {
			t.Errorf("%s = %q, want %q", k, got[k], want)
		}
	}
	if s.Status.Code != codes.Unset {
		t.Errorf("status = %v, want unset", s.Status.Code)
	}
}

func TestEndSpanWithError_failedStoreSave(t *testing.T) {
	exp := recordSpans(t)

	ctx, save := StartSpan(context.Background(), "composer.save", AttrSessionID.String("sess-1"))
	_, store := StartSpan(ctx, "configstore.save",
		AttrStoreDriver.String("postgres"),
		AttrRecordCount.Int(4),
	)
	EndSpanWithError(store, errors.New("connection refused"))
	EndSpanWithError(save, errors.New("backend unavailable"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	storeSpan, saveSpan := spans[0], spans[1]
	if storeSpan.Parent.SpanID() != saveSpan.SpanContext.SpanID() {
		t.Error("configstore.save is not a child of composer.save")
	}
	if storeSpan.Status.Code != codes.Error || storeSpan.Status.Description != "connection refused" {
		t.Errorf("store status = %+v", storeSpan.Status)
	}
	if len(storeSpan.Events) != 1 || storeSpan.Events[0].Name != "exception" {
		t.Errorf("store events = %+v, want one exception", storeSpan.Events)
	}
	if got := attrs(storeSpan)["composer.store_driver"]; got != "postgres" {
		t.Errorf("store driver = %q", got)
	}
}

func TestTraceIDFromContext_withoutSpan(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func sessionRouter() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TracingMiddleware)
		r.Get("/sessions/{sessionId}/tree", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Trace", TraceIDFromContext(r.Context()))
			_, _ = w.Write([]byte(`{"nodes":[]}`))
		})
		r.Post("/sessions/{sessionId}/save", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	})
	return r
}

func TestTracingMiddleware_namesSpanAfterRoute(t *testing.T) {
	exp := recordSpans(t)

	rec := httptest.NewRecorder()
	sessionRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-42/tree", nil))

	s := onlySpan(t, exp)
	if s.Name != "GET /api/v1/sessions/{sessionId}/tree" {
		t.Errorf("name = %q", s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("kind = %v, want server", s.SpanKind)
	}
	got := attrs(s)
	if got["http.route"] != "/api/v1/sessions/{sessionId}/tree" {
		t.Errorf("http.route = %q", got["http.route"])
	}
	if got["url.path"] != "/api/v1/sessions/sess-42/tree" {
		t.Errorf("url.path = %q", got["url.path"])
	}
	if got["http.response.status_code"] != "200" {
		t.Errorf("status code = %q", got["http.response.status_code"])
	}
	if rec.Header().Get("X-Trace") != s.SpanContext.TraceID().String() {
		t.Error("handler did not see the request span")
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("no traceparent on the response")
	}
}

func TestTracingMiddleware_failedSave(t *testing.T) {
	exp := recordSpans(t)

	rec := httptest.NewRecorder()
	sessionRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/sess-42/save", nil))

	s := onlySpan(t, exp)
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status.Code)
	}
	if got := attrs(s)["http.response.status_code"]; got != "503" {
		t.Errorf("status code = %q, want 503", got)
	}
}

func TestTracingMiddleware_continuesCallerTrace(t *testing.T) {
	exp := recordSpans(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/sess-42/tree", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	sessionRouter().ServeHTTP(httptest.NewRecorder(), req)

	s := onlySpan(t, exp)
	if got := s.SpanContext.TraceID().String(); got != traceID {
		t.Errorf("trace id = %s, want %s", got, traceID)
	}
	if !s.Parent.IsRemote() {
		t.Error("parent is not the remote caller span")
	}
}
