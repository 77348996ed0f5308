package poolcontroller

import (
	"errors"
	"fmt"
)

// Sentinel errors. A *RequestError matches exactly one of the first five.
var (
	ErrTimeout   = errors.New("poolcontroller: request timed out")
	ErrTransport = errors.New("poolcontroller: transport failure")
	ErrStatus    = errors.New("poolcontroller: unexpected HTTP status")
	ErrNotFound  = errors.New("poolcontroller: resource not found")
	ErrDecode    = errors.New("poolcontroller: response is not valid JSON")

	// ErrMalformedResponse means the body was JSON but lacked an expected key.
	ErrMalformedResponse = errors.New("poolcontroller: malformed response")

	// ErrUnknownHeaterMode is returned by SetHeaterMode for names outside
	// OFF, Heater, Solar Pref and Solar Only.
	ErrUnknownHeaterMode = errors.New("poolcontroller: unknown heater mode")

	ErrMissingHost = errors.New("poolcontroller: host is required")
)

// ErrorKind classifies a failed controller request.
type ErrorKind string

// Request failure kinds.
const (
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
	KindStatus    ErrorKind = "status"
	KindNotFound  ErrorKind = "not_found"
	KindDecode    ErrorKind = "decode"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindStatus:
		return ErrStatus
	case KindNotFound:
		return ErrNotFound
	case KindDecode:
		return ErrDecode
	default:
		return ErrTransport
	}
}

// RequestError describes a failed GET against the controller.
type RequestError struct {
	Kind ErrorKind
	Path string

	// StatusCode is set for KindStatus and KindNotFound.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("poolcontroller: GET %s: %s", e.Path, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is(err, ErrTimeout) and errors.Is(err, context.DeadlineExceeded)
// can both hold.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf returns the kind of a *RequestError anywhere in err's chain, or ""
// if there is none.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return ""
}
