// Package servicecall validates LLM-requested service calls against a policy
// and submits them to the host's service-dispatch bus.
//
// Submission is fire-and-forget: the handler waits only until the bus has
// accepted the call, bounded by a submission deadline. Whether the device
// actually performed the action is never awaited.
package servicecall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/homenavi/llm-service-bridge/internal/policy"
)

// EntityIDKey is the payload key that carries the target device.
const EntityIDKey = "entity_id"

// DefaultSubmissionDeadline bounds how long the handler waits for the bus to
// accept a call.
const DefaultSubmissionDeadline = 5 * time.Second

// Bus is the host's service-dispatch bus. Implementations must return once the
// call is queued when blocking is false.
type Bus interface {
	Dispatch(ctx context.Context, domain, action string, payload map[string]any, blocking bool) error
}

// BusFunc adapts a function to Bus.
type BusFunc func(ctx context.Context, domain, action string, payload map[string]any, blocking bool) error

func (f BusFunc) Dispatch(ctx context.Context, domain, action string, payload map[string]any, blocking bool) error {
	return f(ctx, domain, action, payload, blocking)
}

// Observer receives one observation per handled call.
type Observer interface {
	ObserveServiceCall(domain, outcome string, elapsed time.Duration)
}

// Request is a service call as produced by the LLM orchestration layer.
type Request struct {
	Service      string         `json:"service"`
	TargetDevice string         `json:"target_device"`
	ExtraArgs    map[string]any `json:"extra_args,omitempty"`
}

// RequestFromArgs splits flat tool arguments into a Request. Keys other than
// service and target_device become extra arguments; a nested extra_args
// object is merged in as well.
func RequestFromArgs(args map[string]any) Request {
	req := Request{ExtraArgs: make(map[string]any)}
	for k, v := range args {
		switch k {
		case "service":
			req.Service, _ = v.(string)
		case "target_device":
			req.TargetDevice, _ = v.(string)
		case "extra_args":
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					req.ExtraArgs[nk] = nv
				}
			}
		default:
			req.ExtraArgs[k] = v
		}
	}
	return req
}

// Result is the tagged success/error outcome returned to the caller.
type Result struct {
	Result  string `json:"result"`
	Service string `json:"service,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	err error
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

func success(service, target string) Result {
	return Result{
		Result:  ResultSuccess,
		Service: service,
		Target:  target,
		Message: fmt.Sprintf("successfully called %s on %s", service, target),
	}
}

func failure(err error) Result {
	return Result{Result: ResultError, Error: err.Error(), err: err}
}

// OK reports whether the call was accepted by the bus.
func (r Result) OK() bool { return r.Result == ResultSuccess }

// Err returns the classified error behind an error result, or nil.
func (r Result) Err() error { return r.err }

// Map renders the result as the mapping handed back to the LLM layer.
func (r Result) Map() map[string]any {
	if !r.OK() {
		return map[string]any{"result": ResultError, "error": r.Error}
	}
	return map[string]any{
		"result":  ResultSuccess,
		"service": r.Service,
		"target":  r.Target,
		"message": r.Message,
	}
}

// Handler validates and forwards service calls.
type Handler struct {
	policy   *policy.Policy
	bus      Bus
	deadline time.Duration
	logger   *slog.Logger
	observer Observer
}

type Option func(*Handler)

// WithSubmissionDeadline overrides DefaultSubmissionDeadline.
func WithSubmissionDeadline(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.deadline = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// NewHandler creates a handler. A nil policy means policy.Default().
func NewHandler(p *policy.Policy, bus Bus, opts ...Option) *Handler {
	if p == nil {
		p = policy.Default()
	}
	h := &Handler{
		policy:   p,
		bus:      bus,
		deadline: DefaultSubmissionDeadline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubmissionDeadline returns the bound on bus acceptance.
func (h *Handler) SubmissionDeadline() time.Duration { return h.deadline }

// Handle validates req and submits it. It never returns a Go error; every
// failure is reported as an error Result.
func (h *Handler) Handle(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx, span := otel.Tracer("servicecall").Start(ctx, "servicecall.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("servicecall.service", req.Service),
		attribute.String("servicecall.target", req.TargetDevice),
	)

	domain, res := h.handle(ctx, req)

	outcome := outcomeLabel(res.err)
	span.SetAttributes(attribute.String("servicecall.outcome", outcome))
	if res.err != nil {
		span.SetStatus(codes.Error, res.Error)
	}
	if h.observer != nil {
		h.observer.ObserveServiceCall(domain, outcome, time.Since(start))
	}
	return res
}

func (h *Handler) handle(ctx context.Context, req Request) (string, Result) {
	log := h.logger.With("service", req.Service, "target_device", req.TargetDevice)

	domain, action, err := h.validate(req)
	if err != nil {
		log.Warn("service call rejected", "error", err)
		return domain, failure(err)
	}

	payload := h.project(req)
	if err := h.submit(ctx, domain, action, payload); err != nil {
		log.Error("service call failed", "error", err, "service_data", payload)
		return domain, failure(err)
	}

	log.Info("service call submitted", "service_data", payload)
	return domain, success(req.Service, req.TargetDevice)
}

// validate applies the presence, format, domain and service checks in order.
func (h *Handler) validate(req Request) (domain, action string, err error) {
	if req.Service == "" || req.TargetDevice == "" {
		return "", "", newCallError(ErrMissingParameter, req.Service,
			"missing required parameters: service and target_device", nil)
	}

	domain, action, ok := strings.Cut(req.Service, ".")
	if !ok {
		return "", "", newCallError(ErrInvalidFormat, req.Service,
			fmt.Sprintf("invalid service format: %s. Expected 'domain.service'", req.Service), nil)
	}
	if !h.policy.DomainAllowed(domain) {
		return domain, action, newCallError(ErrDomainNotAllowed, req.Service,
			fmt.Sprintf("domain '%s' is not allowed", domain), nil)
	}
	if !h.policy.ServiceAllowed(req.Service) {
		return domain, action, newCallError(ErrServiceNotAllowed, req.Service,
			fmt.Sprintf("service '%s' is not allowed", req.Service), nil)
	}
	return domain, action, nil
}

// project builds the outgoing payload: the target device plus whitelisted
// extras. Unknown keys are dropped.
func (h *Handler) project(req Request) map[string]any {
	payload := map[string]any{EntityIDKey: req.TargetDevice}
	for k, v := range req.ExtraArgs {
		if h.policy.ArgumentAllowed(k) {
			payload[k] = v
		}
	}
	return payload
}

// submit hands the call to the bus without waiting for execution. If the bus
// has not accepted it within the deadline the attempt is abandoned; the bus
// may still deliver it later.
func (h *Handler) submit(ctx context.Context, domain, action string, payload map[string]any) error {
	service := domain + "." + action
	if h.bus == nil {
		return newCallError(ErrDispatch, service,
			fmt.Sprintf("error calling service %s: no dispatch bus configured", service), nil)
	}

	subCtx, cancel := context.WithTimeout(ctx, h.deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("bus panic: %v", r)
			}
		}()
		done <- h.bus.Dispatch(subCtx, domain, action, payload, false)
	}()

	var err error
	select {
	case err = <-done:
	case <-subCtx.Done():
		err = subCtx.Err()
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newCallError(ErrDispatchTimeout, service,
			fmt.Sprintf("timeout calling service %s", service), err)
	}
	return newCallError(ErrDispatch, service,
		fmt.Sprintf("error calling service %s: %v", service, err), err)
}
