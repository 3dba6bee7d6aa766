package home

import "errors"

// Domain errors for the home package.
var (
	// ErrNoNodes is returned when the node list cannot be read.
	ErrNoNodes = errors.New("home: no home nodes found")

	// ErrNoAlarm is returned by alarm operations before an alarm node
	// has been discovered.
	ErrNoAlarm = errors.New("home: no alarm node")

	// ErrUnknownBlind is returned for a node id that is not a known shutter.
	ErrUnknownBlind = errors.New("home: unknown shutter")

	// ErrEndpointNotFound is returned when a node lacks the expected endpoint.
	ErrEndpointNotFound = errors.New("home: endpoint not found")

	// ErrRejected is returned when the gateway answers success=false.
	ErrRejected = errors.New("home: request rejected by gateway")

	// ErrUnexpectedValue is returned when an endpoint value has the wrong type.
	ErrUnexpectedValue = errors.New("home: unexpected endpoint value")

	// ErrInvalidPosition is returned for shutter positions outside [0,100].
	ErrInvalidPosition = errors.New("home: invalid shutter position")
)
