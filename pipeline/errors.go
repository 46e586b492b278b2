package pipeline

import "errors"

var (
	ErrCapacityExhausted = errors.New("pipeline: too many pipelined requests")
	ErrUnknownRequest    = errors.New("pipeline: no slot associated with request")
	ErrResponseFinished  = errors.New("pipeline: response already marked as final")
	ErrCoordinatorClosed = errors.New("pipeline: coordinator is closed")
	ErrEmptyWriteUnit    = errors.New("pipeline: write unit has no items")

	ErrTableFull       = errors.New("pipeline: slot table is full")
	ErrTableEmpty      = errors.New("pipeline: slot table is empty")
	ErrNonSequentialID = errors.New("pipeline: request id is not next in sequence")

	// ErrWriteNotExecuted is reported to completion callbacks of units that
	// were still queued when the connection was torn down.
	ErrWriteNotExecuted = errors.New("pipeline: write was not executed")
)
