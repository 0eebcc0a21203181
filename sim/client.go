package sim

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/evt"
)

// central returns the link when the local device is its central.
func (c *Controller) central(handle uint16) (*link, error) {
	if err := c.requireStack(); err != nil {
		return nil, err
	}
	l, err := c.link(handle)
	if err != nil {
		return nil, err
	}
	if l.role != blecore.RoleCentral {
		return nil, errors.Wrapf(blecore.ErrInvalidState, "not central on %04X", handle)
	}
	return l, nil
}

func (c *Controller) DiscoverServices(handle uint16, filter blecore.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.central(handle)
	if err != nil {
		return err
	}
	if c.failed(blecore.OpServiceDiscovery, handle) {
		return nil
	}
	for _, s := range l.peer.db.Services() {
		if !filter.IsZero() && !filter.Equal(s.UUID) {
			continue
		}
		c.deliver(evt.Event{Kind: evt.ServiceDiscovered, Handle: handle, Service: s})
	}
	c.deliver(evt.Event{Kind: evt.DiscoveryComplete, Handle: handle, Op: blecore.OpServiceDiscovery, Status: evt.StatusAttrNotFound})
	return nil
}

func (c *Controller) DiscoverCharacteristics(handle uint16, svc blecore.Service, filter blecore.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.central(handle)
	if err != nil {
		return err
	}
	if c.failed(blecore.OpCharacteristicDiscovery, handle) {
		return nil
	}
	for _, ch := range l.peer.db.Characteristics() {
		if ch.Handle < svc.Handle || ch.Handle > svc.End {
			continue
		}
		if !filter.IsZero() && !filter.Equal(ch.UUID) {
			continue
		}
		c.deliver(evt.Event{Kind: evt.CharacteristicDiscovered, Handle: handle, Characteristic: ch})
	}
	c.deliver(evt.Event{Kind: evt.DiscoveryComplete, Handle: handle, Op: blecore.OpCharacteristicDiscovery, Status: evt.StatusAttrNotFound})
	return nil
}

func (c *Controller) Read(handle, attr uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.central(handle)
	if err != nil {
		return err
	}
	if c.failed(blecore.OpRead, handle) {
		return nil
	}

	e := evt.Event{Kind: evt.ReadComplete, Handle: handle, Attr: attr}
	ch, err := l.peer.db.Characteristic(attr)
	switch {
	case err != nil:
		e.Status = attInvalidHandle
	case ch.Property&blecore.CharRead == 0:
		e.Status = attReadNotPermit
	default:
		e.Value, _ = l.peer.db.Value(attr)
	}
	c.deliver(e)
	return nil
}

func (c *Controller) Write(handle, attr uint16, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.central(handle)
	if err != nil {
		return err
	}
	if c.failed(blecore.OpWrite, handle) {
		return nil
	}

	e := evt.Event{Kind: evt.WriteComplete, Handle: handle, Attr: attr}
	ch, err := l.peer.db.Characteristic(attr)
	switch {
	case err != nil:
		e.Status = attInvalidHandle
	case ch.Property&(blecore.CharWrite|blecore.CharWriteNR) == 0:
		e.Status = attWriteNotPermit
	default:
		_ = l.peer.db.SetValue(attr, value)
	}
	c.deliver(e)
	return nil
}

func (c *Controller) Subscribe(handle, cccd uint16, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.central(handle)
	if err != nil {
		return err
	}
	if c.failed(blecore.OpSubscribe, handle) {
		return nil
	}

	e := evt.Event{Kind: evt.SubscribeComplete, Handle: handle, Attr: cccd, Enabled: enable}
	ch, err := l.peer.db.ByCCCD(cccd)
	if err != nil {
		e.Status = attInvalidHandle
	} else {
		e.Indication = ch.Property&blecore.CharNotify == 0
		_ = l.peer.db.SetSubscribed(ch.ValueHandle, enable, e.Indication)
	}
	c.deliver(e)
	return nil
}
