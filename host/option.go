package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// SetCentralLinks bounds simultaneous central-role links.
func (h *Host) SetCentralLinks(n int) error {
	if h.reg != nil {
		return errors.Wrap(blecore.ErrInvalidState, "central links are fixed once created")
	}
	h.params.centralLinks = n
	return nil
}

// SetMTU sets the MTU handed to the controller at Init.
func (h *Host) SetMTU(mtu int) error {
	if mtu < MTUMin || mtu > MTUMax {
		return errors.Wrapf(blecore.ErrInvalidArgument, "mtu %v", mtu)
	}
	h.params.mtu = mtu
	return nil
}

// SetAdvInterval sets the interval used by the next advertising start.
func (h *Host) SetAdvInterval(units uint16) error {
	if err := ValidateAdvInterval(units); err != nil {
		return err
	}
	h.params.advInterval = units
	return nil
}

// SetActiveScan declares controller support for active scanning.
func (h *Host) SetActiveScan(supported bool) error {
	h.params.activeScan = supported
	return nil
}

// SetMaxPending bounds the pending operation queue.
func (h *Host) SetMaxPending(n int) error {
	if h.ops != nil {
		return errors.Wrap(blecore.ErrInvalidState, "queue size is fixed once created")
	}
	h.params.maxPending = n
	return nil
}

// SetErrorHandler ...
func (h *Host) SetErrorHandler(handler func(error)) error {
	h.errorHandler = handler
	return nil
}

// SetDisabled keeps Init from touching the controller.
func (h *Host) SetDisabled(disabled bool) error {
	h.params.disabled = disabled
	return nil
}

func (h *Host) EnableSecurity(bs blecore.BondStore) error {
	if bs == nil {
		return errors.Wrap(blecore.ErrInvalidArgument, "nil bond store")
	}
	h.bonds = bs
	return nil
}

// SetGattCache stores discovered profiles in gc.
func (h *Host) SetGattCache(gc blecore.GattCache) error {
	h.cache = gc
	return nil
}
