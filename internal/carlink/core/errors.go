package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceNotFound means no eligible accessory is attached. Non-fatal.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrPermissionDenied means the accessory exists but access was refused.
	// Surfaced to the caller, never retried automatically.
	ErrPermissionDenied = errors.New("device permission denied")
	// ErrProtocolMisuse is returned when a worker call violates its contract,
	// for example Start on an already started worker. Fatal to the call only.
	ErrProtocolMisuse = errors.New("protocol misuse")
	// ErrWorkerFailure is fatal to the session.
	ErrWorkerFailure = errors.New("worker failure")
	// ErrBindConflict is returned once every candidate port was in use.
	ErrBindConflict = errors.New("settings channel bind conflict")
	// ErrChannelRetired is returned for audio channels that were torn down.
	ErrChannelRetired = errors.New("audio channel retired")
	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")
)

// FailureError carries the reason reported by a failed worker.
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWorkerFailure, e.Reason)
}

func (e *FailureError) Unwrap() error {
	return ErrWorkerFailure
}
