package servicecall

import "errors"

var (
	ErrMissingParameter  = errors.New("missing required parameters")
	ErrInvalidFormat     = errors.New("invalid service format")
	ErrDomainNotAllowed  = errors.New("domain not allowed")
	ErrServiceNotAllowed = errors.New("service not allowed")
	ErrDispatchTimeout   = errors.New("timeout calling service")
	ErrDispatch          = errors.New("error calling service")
)

// CallError carries the caller-facing message for a rejected or failed call.
// Kind is one of the sentinels above and is reachable through errors.Is.
type CallError struct {
	Kind    error
	Service string
	msg     string
	cause   error
}

func (e *CallError) Error() string { return e.msg }

func (e *CallError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

func newCallError(kind error, service, msg string, cause error) *CallError {
	return &CallError{Kind: kind, Service: service, msg: msg, cause: cause}
}

// outcomeLabel maps an error to a short metrics label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrDomainNotAllowed):
		return "domain_not_allowed"
	case errors.Is(err, ErrServiceNotAllowed):
		return "service_not_allowed"
	case errors.Is(err, ErrDispatchTimeout):
		return "timeout"
	default:
		return "dispatch_error"
	}
}
