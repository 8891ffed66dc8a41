package nostrclient

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the subscription manager.
var (
	// ErrInvalidArgument reports bad caller input (e.g. an empty target
	// set). Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConnectionUnavailable reports that no usable transport exists.
	// The caller decides whether to retry.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrDuplicateRequest reports that an identical query is already in
	// flight. The returned subscription id identifies the existing one so
	// callers can await it instead.
	ErrDuplicateRequest = errors.New("duplicate request already in flight")
)

// GatewayErrorKind distinguishes the failure modes of a gateway call.
type GatewayErrorKind int

const (
	// GatewayStatusError means the server answered with a non-200 status.
	GatewayStatusError GatewayErrorKind = iota
	// GatewayNetworkError means the server could not be reached.
	GatewayNetworkError
	// GatewayMalformedResponse means the body did not match the envelope shape.
	GatewayMalformedResponse
)

func (k GatewayErrorKind) String() string {
	switch k {
	case GatewayStatusError:
		return "status"
	case GatewayNetworkError:
		return "network"
	case GatewayMalformedResponse:
		return "malformed"
	}
	return "unknown"
}

// GatewayError is returned by the gateway client on any failure. Kind tells
// callers whether the server said no, could not be reached, or lied about
// its response shape.
type GatewayError struct {
	Kind    GatewayErrorKind
	Status  int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway %s error: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
