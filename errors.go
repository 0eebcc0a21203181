package blecore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Synchronous precondition failures and asynchronous outcomes share these
// sentinels. Wrapped values stay matchable with errors.Is and errors.Cause.
var (
	ErrInvalidState    = errors.New("invalid state")
	ErrBusy            = errors.New("busy")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyBonded   = errors.New("already bonded")
	ErrUnimplemented   = errors.New("unimplemented")
	ErrConnectionLost  = errors.New("connection lost")
	ErrServicesActive  = errors.New("cannot modify services while active")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("ble stack not initialised")
	ErrSuperseded      = errors.New("operation superseded")
)

// ControllerError is an opaque status code reported by the controller stack.
// It is kept verbatim for diagnostics.
type ControllerError uint32

func (e ControllerError) Error() string {
	return fmt.Sprintf("controller error 0x%04X", uint32(e))
}

// Code returns the raw status.
func (e ControllerError) Code() uint32 {
	return uint32(e)
}

// StatusError translates a controller status into an error, nil for success.
func StatusError(status uint32) error {
	if status == 0 {
		return nil
	}
	return ControllerError(status)
}

// IsControllerError reports whether err carries a controller status and returns it.
func IsControllerError(err error) (ControllerError, bool) {
	var ce ControllerError
	if errors.As(err, &ce) {
		return ce, true
	}
	return 0, false
}
