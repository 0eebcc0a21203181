package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// DiscoverDescriptors is not realized by this build.
func (h *Host) DiscoverDescriptors(handle, attr uint16) error {
	return errors.Wrap(blecore.ErrUnimplemented, "descriptor discovery")
}

// SetRSSIScan is not realized by this build.
func (h *Host) SetRSSIScan(handle uint16, enable bool) error {
	return errors.Wrap(blecore.ErrUnimplemented, "rssi monitoring")
}

// SetWhitelist is not realized by this build.
func (h *Host) SetWhitelist(addrs []blecore.Addr) error {
	return errors.Wrap(blecore.ErrUnimplemented, "whitelist")
}

// SetTxPower is not realized by this build.
func (h *Host) SetTxPower(dbm int8) error {
	return errors.Wrap(blecore.ErrUnimplemented, "tx power")
}

// SendHIDReport is not realized by this build.
func (h *Host) SendHIDReport(report []byte) error {
	return errors.Wrap(blecore.ErrUnimplemented, "hid report")
}
