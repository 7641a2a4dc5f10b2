// Package mqtterrors defines the typed error kinds produced across the
// module. Transport errors are surfaced as events rather than thrown; the
// remaining kinds are ordinary Go errors callers can type-switch or
// errors.As on.
package mqtterrors

import "fmt"

// ClientState names a lifecycle state a service or worker can be in when an
// operation is rejected because of it.
type ClientState byte

const (
	NotStarted ClientState = iota
	Started
	ShutDown
	Guest
)

// ClientStateError is returned when an operation cannot proceed because of
// the caller's current lifecycle state.
type ClientStateError struct {
	State ClientState
}

func (e *ClientStateError) Error() string {
	switch e.State {
	case NotStarted:
		return "the client has not yet been started"
	case Started:
		return "the client has already been started"
	case ShutDown:
		return "the client has been shut down"
	case Guest:
		return "the client is unauthenticated (guest mode); this operation is a no-op"
	default:
		return "invalid client state"
	}
}

// SubscribeRejectError indicates the broker refused a SUBSCRIBE; callers may
// retry at will. transport.Direct returns it from Subscribe after
// dispatching the SubscribeReject transport event.
type SubscribeRejectError struct {
	Topic string
	Cause error
}

func (e *SubscribeRejectError) Error() string {
	return fmt.Sprintf("subscribe rejected for topic %q: %v", e.Topic, e.Cause)
}

func (e *SubscribeRejectError) Unwrap() error { return e.Cause }

// EnvelopeError wraps a non-success API envelope {code, data, desc} returned
// by the HTTP backend.
type EnvelopeError struct {
	Code int
	Desc string
	Data any
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Desc)
}

// HTTPTransportError synthesizes an envelope-shaped error from a raw HTTP
// transport failure that carried no API envelope body.
type HTTPTransportError struct {
	Status     int
	StatusText string
}

func (e *HTTPTransportError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.Status, e.StatusText)
}

// CanceledError indicates the caller cancelled the request; it never
// triggers listener side effects.
type CanceledError struct {
	Code int
}

func (e *CanceledError) Error() string { return "canceled by user" }

// AuthorizationLostError corresponds to API code 600057 ("forbidden"). The
// core does not handle it; callers are expected to invoke Service.ForceQuit.
type AuthorizationLostError struct{}

func (*AuthorizationLostError) Error() string {
	return "authorization lost (forbidden); caller should force-quit the service"
}

// AuthorizationLostCode is the API envelope code that maps to
// AuthorizationLostError.
const AuthorizationLostCode = 600057

// GuestError is returned by any outbound method when the caller is in guest
// (unauthenticated) mode.
type GuestError struct{}

func (*GuestError) Error() string { return "no authenticated session; operation skipped" }

// InvalidArgumentError indicates a caller-supplied option or argument was
// invalid.
type InvalidArgumentError struct {
	Message string
	Wrapped error
}

func (e *InvalidArgumentError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *InvalidArgumentError) Unwrap() error { return e.Wrapped }
