package bus

import "errors"

var (
	// ErrStarted is returned by wiring calls made after Start.
	ErrStarted = errors.New("bus: already started")

	// ErrDuplicateCall is returned when a call is registered twice.
	ErrDuplicateCall = errors.New("bus: call already registered")

	// ErrUnregistered is returned when a handler names a call never passed to AddCall.
	ErrUnregistered = errors.New("bus: call not registered")

	// ErrUnknownEndpoint is returned for endpoints outside the manager's range.
	ErrUnknownEndpoint = errors.New("bus: unknown endpoint")

	// ErrUnknownTarget is returned by Start when a route names a node never created.
	ErrUnknownTarget = errors.New("bus: route to a node that was never created")

	// ErrNoRoute is returned by Start when a created node has no route at all.
	ErrNoRoute = errors.New("bus: node has no route")

	// ErrNoNodes is returned by Start when no node was created.
	ErrNoNodes = errors.New("bus: no nodes created")
)
