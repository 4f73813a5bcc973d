package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Metrics holds the bridge's prometheus collectors.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	serviceCalls *prometheus.CounterVec
	submission   *prometheus.HistogramVec
}

func NewMetrics(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total requests by endpoint, method, and status.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"endpoint", "method", "status"},
		),
		serviceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "service_calls_total",
				Help:        "LLM service calls by domain and outcome.",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"domain", "outcome"},
		),
		submission: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "service_call_duration_seconds",
				Help:        "Time from request to bus acceptance or rejection.",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.requests, m.serviceCalls, m.submission)
	return m
}

// ObserveServiceCall implements servicecall.Observer.
func (m *Metrics) ObserveServiceCall(domain, outcome string, elapsed time.Duration) {
	if domain == "" {
		domain = "unknown"
	}
	m.serviceCalls.WithLabelValues(domain, outcome).Inc()
	m.submission.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetupTracing installs the global propagator and tracer provider. Spans are
// exported over OTLP/HTTP when endpoint is set and dropped otherwise.
func SetupTracing(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, tracer oteltrace.Tracer, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("create otel resource: %w", err)
	}

	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exp))
	}
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, otel.Tracer(serviceName), nil
}

// Middleware records request counts and opens a server span per request.
// A nil tracer falls back to the global provider.
func (m *Metrics) Middleware(tracer oteltrace.Tracer) func(http.Handler) http.Handler {
	if tracer == nil {
		tracer = otel.Tracer("github.com/homenavi/llm-service-bridge/internal/observability")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			method := r.Method
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			ctx, span := tracer.Start(ctx, method+" "+r.URL.Path, oteltrace.WithSpanKind(oteltrace.SpanKindServer))
			span.SetAttributes(
				attribute.String("http.method", method),
				attribute.String("http.target", r.URL.Path),
			)
			if rid := middleware.GetReqID(ctx); rid != "" {
				span.SetAttributes(attribute.String("http.request_id", rid))
			}
			w.Header().Set("Trace-ID", span.SpanContext().TraceID().String())

			next.ServeHTTP(rw, r.WithContext(ctx))

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}
			span.SetAttributes(attribute.Int("http.status_code", rw.status), attribute.String("http.route", endpoint))
			m.requests.WithLabelValues(endpoint, method, strconv.Itoa(rw.status)).Inc()
			span.End()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (MCP over SSE) working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
