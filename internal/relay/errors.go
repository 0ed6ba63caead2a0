package relay

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ConnectError reports that a hop could not be reached or that an
// established chain dropped before the command finished.
type ConnectError struct {
	Hop string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("relay: connect %s: %v", e.Hop, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError reports that a hop rejected the presented credentials, that the
// credential material could not be loaded, or that host key verification
// failed.
type AuthError struct {
	Hop string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("relay: authenticate %s: %v", e.Hop, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TimeoutError reports that a remote command exceeded its execution budget.
// The command may still have taken effect on the target.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("relay: command timed out after %s: %s", e.Timeout, e.Command)
}

// ExitError reports that the remote command ran to completion and returned
// a non-zero exit code.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("remote command exited %d: %s", e.Code, e.Command)
	}
	return fmt.Sprintf("remote command exited %d: %s: %s", e.Code, e.Command, e.Stderr)
}

// AsExitError returns the ExitError in err's chain, if any. Callers use it
// to tell "the remote ran the command and refused it" apart from transport
// failures, which never carry an exit code.
func AsExitError(err error) (*ExitError, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr, true
	}
	return nil, false
}

// IsTransient reports whether err is a transport-layer relay failure, one
// where the command may never have reached the target.
func IsTransient(err error) bool {
	var connErr *ConnectError
	var authErr *AuthError
	return errors.As(err, &connErr) || errors.As(err, &authErr)
}
