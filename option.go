package blecore

import (
	"time"

	"github.com/pkg/errors"
)

// DeviceOption is an interface which the host should implement to allow using configuration options
type DeviceOption interface {
	SetCentralLinks(n int) error
	SetMTU(mtu int) error
	SetAdvInterval(units uint16) error
	SetActiveScan(supported bool) error
	SetMaxPending(n int) error
	SetErrorHandler(handler func(error)) error
	SetDisabled(disabled bool) error
	EnableSecurity(BondStore) error
	SetGattCache(GattCache) error
}

// An Option is a configuration function, which configures the host.
type Option func(DeviceOption) error

// OptCentralLinks bounds the number of simultaneous central-role connections.
func OptCentralLinks(n int) Option {
	return func(opt DeviceOption) error {
		return opt.SetCentralLinks(n)
	}
}

// OptMTU sets the local ATT MTU handed to the controller at init.
func OptMTU(mtu int) Option {
	return func(opt DeviceOption) error {
		return opt.SetMTU(mtu)
	}
}

// OptAdvInterval sets the advertising interval in units of 0.625 ms.
func OptAdvInterval(units uint16) Option {
	return func(opt DeviceOption) error {
		return opt.SetAdvInterval(units)
	}
}

// OptAdvIntervalDuration sets the advertising interval from a duration.
func OptAdvIntervalDuration(d time.Duration) Option {
	return func(opt DeviceOption) error {
		units := d / (625 * time.Microsecond)
		if units <= 0 || units > 0xFFFF {
			return errors.Wrapf(ErrInvalidArgument, "advertising interval %v", d)
		}
		return opt.SetAdvInterval(uint16(units))
	}
}

// OptActiveScan declares whether the controller supports active scanning.
func OptActiveScan(supported bool) Option {
	return func(opt DeviceOption) error {
		return opt.SetActiveScan(supported)
	}
}

// OptMaxPending bounds the pending operation queue.
func OptMaxPending(n int) Option {
	return func(opt DeviceOption) error {
		return opt.SetMaxPending(n)
	}
}

// OptErrorHandler sets the handler for failures that have no caller to report to.
func OptErrorHandler(handler func(error)) Option {
	return func(opt DeviceOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptDisabled keeps the host from touching the controller at Init.
func OptDisabled(disabled bool) Option {
	return func(opt DeviceOption) error {
		return opt.SetDisabled(disabled)
	}
}

// OptEnableSecurity enables bonding with devices
func OptEnableSecurity(bs BondStore) Option {
	return func(opt DeviceOption) error {
		return opt.EnableSecurity(bs)
	}
}

// OptGattCache persists discovered profiles.
func OptGattCache(gc GattCache) Option {
	return func(opt DeviceOption) error {
		return opt.SetGattCache(gc)
	}
}
