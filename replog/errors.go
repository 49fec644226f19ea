package replog

import "errors"

var (
	// ErrUnknownOffset indicates a persistence witness named an offset that
	// has never been enqueued.
	ErrUnknownOffset = errors.New("replog: unknown offset")

	// ErrPersistenceClosed indicates a commit was attempted after the
	// backing Persistence sink stopped accepting commands.
	ErrPersistenceClosed = errors.New("replog: persistence sink closed")
)
