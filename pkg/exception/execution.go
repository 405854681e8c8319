package exception

import "github.com/yanun0323/errors"

// Routing and registration errors
var (
	ErrUnknownStrategy   = errors.New("execution: unknown strategy")
	ErrUnknownVenue      = errors.New("execution: unknown venue")
	ErrAlreadyRegistered = errors.New("execution: already registered")
	ErrNotRegistered     = errors.New("execution: not registered")
	ErrInvalidCommand    = errors.New("execution: invalid command")
	ErrRiskDenied        = errors.New("execution: risk denied")
	ErrQueueFull         = errors.New("execution: queue full")
	ErrQueueClosed       = errors.New("execution: queue closed")
)

// Order and position lifecycle errors
var (
	ErrUnknownOrder      = errors.New("order: unknown order")
	ErrInvalidOrder      = errors.New("order: invalid order")
	ErrInvalidOrderState = errors.New("order: invalid order state")
	ErrInvalidFill       = errors.New("order: invalid fill")
	ErrDuplicateFill     = errors.New("order: duplicate fill")
	ErrPositionClosed    = errors.New("position: position closed")
	ErrInvalidPosition   = errors.New("position: invalid position")
)
