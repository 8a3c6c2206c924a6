package main

import (
	"fmt"

	"github.com/go-faster/errors"
)

// exitStatus is the process exit code of a command.
type exitStatus int

const (
	exitOK         exitStatus = 0
	exitFailure    exitStatus = 1
	exitValidation exitStatus = 2
	exitUsage      exitStatus = 3
	exitDB         exitStatus = 4
	exitDBWrite    exitStatus = 5
	exitPartial    exitStatus = 6
)

var exitNames = map[exitStatus]string{
	exitOK:         "ok",
	exitFailure:    "failure",
	exitValidation: "validation",
	exitUsage:      "usage",
	exitDB:         "db",
	exitDBWrite:    "db_write",
	exitPartial:    "partial",
}

func (s exitStatus) String() string {
	if name, ok := exitNames[s]; ok {
		return name
	}
	return fmt.Sprintf("exit(%d)", int(s))
}

// cliError attaches an exit status to an error returned from a command.
type cliError struct {
	status exitStatus
	err    error
}

func (e *cliError) Error() string { return e.err.Error() }

func (e *cliError) Unwrap() error { return e.err }

func withCode(status exitStatus, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{status: status, err: err}
}

// exitCode maps an error to its status. Errors without one exit with exitFailure.
func exitCode(err error) exitStatus {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.status
	}
	return exitFailure
}
