package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/conn"
	"github.com/rigado/blecore/pending"
)

const (
	AdvIntervalMin     = 0x0020 // N * 0.625 msec
	AdvIntervalMax     = 0x4000
	AdvIntervalDefault = 0x0258 // 375 msec

	MTUMin = conn.DefaultMTU
	MTUMax = 517
)

type params struct {
	centralLinks int
	mtu          int
	advInterval  uint16
	activeScan   bool
	maxPending   int
	disabled     bool
}

func (p *params) init() {
	p.centralLinks = 1
	p.mtu = MTUMax
	p.advInterval = AdvIntervalDefault
	p.maxPending = pending.DefaultMax
}

func (p *params) validate() error {
	switch {
	case p.centralLinks < 1:
		return errors.Wrapf(blecore.ErrInvalidArgument, "central links %v", p.centralLinks)
	case p.mtu < MTUMin || p.mtu > MTUMax:
		return errors.Wrapf(blecore.ErrInvalidArgument, "mtu %v", p.mtu)
	case p.maxPending < 1:
		return errors.Wrapf(blecore.ErrInvalidArgument, "max pending %v", p.maxPending)
	}
	return ValidateAdvInterval(p.advInterval)
}

// ValidateAdvInterval checks an advertising interval in units of 0.625 ms.
func ValidateAdvInterval(units uint16) error {
	if units < AdvIntervalMin || units > AdvIntervalMax {
		return errors.Wrapf(blecore.ErrInvalidArgument, "invalid advertising interval 0x%04X", units)
	}
	return nil
}
