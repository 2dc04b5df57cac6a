package cmd

import "errors"

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitRedeploy = 12 // the deployed export differs from a fresh build
)

type exitCodeError struct {
	code  int
	msg   string
	quiet bool
}

func (e *exitCodeError) Error() string {
	return e.msg
}

func (e *exitCodeError) ExitCode() int {
	return e.code
}

func (e *exitCodeError) Quiet() bool {
	return e.quiet
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitCodeError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return ExitFailure
}

// IsQuiet reports whether err has already been reported to the user.
func IsQuiet(err error) bool {
	var ee *exitCodeError
	return errors.As(err, &ee) && ee.Quiet()
}
