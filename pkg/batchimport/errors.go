package batchimport

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("batchimport: manager is not initialized")
	ErrNoItems        = errors.New("batchimport: no items to import")
	ErrAlreadyRunning = errors.New("batchimport: import is already running")
	ErrAlreadyStarted = errors.New("batchimport: run already started; call Initialize again")
	ErrNilProcessor   = errors.New("batchimport: processor is required")
	ErrInvalidOptions = errors.New("batchimport: invalid options")
)

func invalidOptions(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidOptions}, args...)...)
}
