package cli

import (
	"errors"
	"fmt"

	"github.com/keyxmakerx/qcat/internal/config"
	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
)

// Exit codes for qcatctl. Operators alert on the distinct failure codes.
const (
	ExitSuccess              = 0
	ExitFailure              = 1 // Anything not listed below.
	ExitConfigInvalid        = 2
	ExitStoreUnreachable     = 3
	ExitTransportUnreachable = 4
)

// ExitError carries the exit code a command failed with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Errors without an explicit
// code are classified by their cause.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, config.ErrInvalid):
		return ExitConfigInvalid
	case errors.Is(err, smtp.ErrUnreachable):
		return ExitTransportUnreachable
	case database.IsUnavailable(err):
		return ExitStoreUnreachable
	default:
		return ExitFailure
	}
}
