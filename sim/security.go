package sim

import (
	"bytes"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/smp"
)

// pairing is an LE secure connections exchange waiting for its passkey.
type pairing struct {
	local, remote *smp.ECDHKeys
	passkey       string
}

func (c *Controller) StartBonding(handle uint16, forceRepair bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	l, err := c.link(handle)
	if err != nil {
		return err
	}
	if l.pair != nil {
		return errors.Wrapf(blecore.ErrBusy, "pairing in progress on %04X", handle)
	}
	if c.failed(blecore.OpBond, handle) {
		return nil
	}
	if forceRepair {
		l.ltk = nil
	}

	p := &pairing{}
	if p.local, err = smp.GenerateKeys(); err != nil {
		return err
	}
	if p.remote, err = smp.GenerateKeys(); err != nil {
		return err
	}
	if l.peer != nil {
		p.passkey = l.peer.Passkey
	}
	l.pair = p

	if p.passkey != "" {
		c.deliver(evt.Event{Kind: evt.PasskeyRequest, Handle: handle})
		return nil
	}
	c.finishPairing(l, blecore.SecurityEncrypted)
	return nil
}

func (c *Controller) SendPasskey(handle uint16, passkey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	l, err := c.link(handle)
	if err != nil {
		return err
	}
	if l.pair == nil || l.pair.passkey == "" {
		return errors.Wrapf(blecore.ErrInvalidState, "no passkey requested on %04X", handle)
	}
	if passkey != l.pair.passkey {
		l.pair = nil
		c.deliver(evt.Event{Kind: evt.SecurityChanged, Handle: handle, Status: evt.StatusConfirmFailed})
		return nil
	}
	c.finishPairing(l, blecore.SecuritySecureConn)
	return nil
}

// finishPairing derives the LTK on both sides and reports the bond.
func (c *Controller) finishPairing(l *link, lvl blecore.SecurityLevel) {
	p := l.pair
	l.pair = nil

	ltk, err := c.deriveLTK(l, p)
	if err != nil {
		c.log.Warnf("pairing on %04X: %v", l.handle, err)
		c.deliver(evt.Event{Kind: evt.SecurityChanged, Handle: l.handle, Status: smpDHKeyCheckFail})
		return
	}
	l.ltk = ltk
	c.deliver(evt.Event{
		Kind:   evt.SecurityChanged,
		Handle: l.handle,
		Bonded: true,
		Level:  lvl,
		Value:  append([]byte(nil), ltk...),
	})
}

func (c *Controller) deriveLTK(l *link, p *pairing) ([]byte, error) {
	dh, err := smp.GenerateSecret(p.local, p.remote.Public())
	if err != nil {
		return nil, err
	}
	peerDH, err := smp.GenerateSecret(p.remote, p.local.Public())
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(dh, peerDH) {
		return nil, errors.New("dhkey mismatch")
	}

	na := make([]byte, 16)
	nb := make([]byte, 16)
	if _, err := rand.Read(na); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nb); err != nil {
		return nil, err
	}

	a := smp.AddrLE(c.addr.Bytes(), true)
	b := smp.AddrLE(l.addr.Bytes(), false)
	if l.role == blecore.RolePeripheral {
		a, b = b, a
		na, nb = nb, na
	}
	_, ltk, err := smp.F5(dh, na, nb, a, b)
	return ltk, err
}

// LTK returns the key agreed on a link, nil before bonding.
func (c *Controller) LTK(handle uint16) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.links[handle]; ok {
		return append([]byte(nil), l.ltk...)
	}
	return nil
}
