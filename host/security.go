package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/pending"
)

type security struct {
	addr    blecore.Addr
	pairing bool
	bonded  bool
	level   blecore.SecurityLevel
}

// SecurityStatus is the pairing state of one link.
type SecurityStatus struct {
	Pairing   bool
	Bonded    bool
	Encrypted bool
	Level     blecore.SecurityLevel
}

// SecurityStatus returns the pairing state of a link.
func (h *Host) SecurityStatus(handle uint16) (SecurityStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sec[handle]
	if !ok {
		return SecurityStatus{}, errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	return SecurityStatus{
		Pairing:   s.pairing,
		Bonded:    s.bonded,
		Encrypted: s.level > blecore.SecurityNone,
		Level:     s.level,
	}, nil
}

// StartBonding pairs and bonds with the peer. A bonded link is only paired
// again with forceRepair, which also drops the stored bond.
func (h *Host) StartBonding(handle uint16, forceRepair bool, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return nil, err
	}
	c, err := h.reg.Require(handle)
	if err != nil {
		return nil, err
	}
	s, ok := h.sec[handle]
	if !ok {
		return nil, errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	if s.bonded && !forceRepair {
		return nil, errors.Wrapf(blecore.ErrAlreadyBonded, "%v", c.Addr)
	}
	if _, ok := h.ops.Peek(blecore.OpBond, handle); ok {
		return nil, errors.Wrapf(blecore.ErrBusy, "bond pending on %04X", handle)
	}

	_, t, err := h.submit(blecore.OpBond, handle, cb, func() error {
		return h.ctl.StartBonding(handle, forceRepair)
	})
	if err != nil {
		return nil, err
	}
	s.pairing = true

	// the old bond goes only once the controller has taken the request
	if forceRepair && s.bonded {
		if h.bonds != nil && h.bonds.Exists(c.Addr.Key()) {
			if err := h.bonds.Delete(c.Addr.Key()); err != nil {
				h.log.Warnf("delete bond %v: %v", c.Addr, err)
			}
		}
		s.bonded = false
	}
	return t, nil
}

// SendPasskey answers a passkey request during pairing.
func (h *Host) SendPasskey(handle uint16, passkey string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return err
	}
	if _, err := h.reg.Require(handle); err != nil {
		return err
	}
	s, ok := h.sec[handle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	if !s.pairing {
		return errors.Wrapf(blecore.ErrInvalidState, "no pairing in progress on %04X", handle)
	}
	if !validPasskey(passkey) {
		return errors.Wrapf(blecore.ErrInvalidArgument, "passkey must be 6 digits")
	}
	return h.ctl.SendPasskey(handle, passkey)
}

func validPasskey(p string) bool {
	if len(p) != 6 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (h *Host) handlePasskeyRequest(e evt.Event) error {
	s, ok := h.sec[e.Handle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", e.Handle)
	}
	s.pairing = true
	h.emit(e)
	return nil
}

func (h *Host) handleSecurityChanged(e evt.Event) error {
	s, ok := h.sec[e.Handle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", e.Handle)
	}
	s.pairing = false

	if e.Failed() {
		h.log.Warnf("pairing with %v failed, status 0x%02X", s.addr, e.Status)
		if !h.resolve(blecore.OpBond, e.Handle, e.Status, pending.Result{}) {
			e.Err = blecore.StatusError(e.Status)
			h.emit(e)
		}
		return nil
	}

	s.level = e.Level
	if s.level == 0 {
		s.level = blecore.SecurityEncrypted
	}
	s.bonded = s.bonded || e.Bonded
	_ = h.reg.SetSecurity(e.Handle, s.level)

	if e.Bonded && len(e.Value) > 0 && h.bonds != nil {
		bi := blecore.NewBondInfo(e.Value, 0, 0, false)
		if err := h.bonds.Save(s.addr.Key(), bi); err != nil {
			h.log.Warnf("save bond %v: %v", s.addr, err)
		}
	}

	res := pending.Result{Bonded: s.bonded, Level: s.level}
	if !h.resolve(blecore.OpBond, e.Handle, 0, res) {
		h.emit(e)
	}
	return nil
}
