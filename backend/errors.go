package backend

import (
	"errors"
)

var (
	// ErrAgain reports that an operation produced no output because the
	// component needs more input. It is a flow-control signal, not a
	// failure.
	ErrAgain = errors.New("need more input")

	// ErrEOF reports that a flushed component has no buffered output
	// left. It is a terminal signal, not a failure.
	ErrEOF = errors.New("end of stream")
)
