package sim

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/adv"
	"github.com/rigado/blecore/evt"
)

// Outbound is a value the local device sent to a remote.
type Outbound struct {
	Handle     uint16
	Attr       uint16
	Value      []byte
	Indication bool
	Response   bool
}

// report builds the advertising report a scan sees for p. An active scan
// also carries the scan response.
func report(p *peer, active bool) (evt.Event, error) {
	var uuids []blecore.UUID
	for _, s := range p.Services {
		uuids = append(uuids, s.UUID)
	}
	ad, sr, err := adv.Payloads(p.Name, uuids, 0, nil)
	if err != nil {
		return evt.Event{}, err
	}
	data := ad
	if active {
		data = append(append([]byte(nil), ad...), sr...)
	}
	return evt.Event{
		Kind:   evt.AdvertisingReport,
		Handle: blecore.NoHandle,
		Addr:   p.Addr,
		RSSI:   p.RSSI,
		Value:  data,
	}, nil
}

// Accept connects a remote central to the advertising local device.
// Advertising stops, as it does on a real controller.
func (c *Controller) Accept(addr blecore.Addr) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return 0, err
	}
	if !c.adv {
		return 0, errors.Wrap(blecore.ErrInvalidState, "not advertising")
	}
	l := &link{handle: c.allocHandle(), role: blecore.RolePeripheral, addr: addr, peer: c.peers[addr]}
	c.links[l.handle] = l
	c.adv = false
	c.deliver(
		evt.Event{Kind: evt.AdvertisingStateChanged, Handle: blecore.NoHandle, Active: false},
		evt.Event{Kind: evt.Connected, Handle: l.handle, Role: blecore.RolePeripheral, Addr: addr, MTU: c.negotiated(l.peer)},
	)
	return l.handle, nil
}

// Drop ends a link from the remote side.
func (c *Controller) Drop(handle uint16, reason uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.link(handle)
	if err != nil {
		return err
	}
	c.remove(l)
	c.deliver(evt.Event{Kind: evt.Disconnected, Handle: handle, Reason: reason})
	return nil
}

func (c *Controller) remove(l *link) {
	delete(c.links, l.handle)
	delete(c.reads, l.handle)
	if l.peer != nil && l.role == blecore.RoleCentral {
		for _, ch := range l.peer.db.Characteristics() {
			_ = l.peer.db.SetSubscribed(ch.ValueHandle, false, false)
		}
	}
}

// ExchangeMTU negotiates a new ATT MTU on a link.
func (c *Controller) ExchangeMTU(handle uint16, mtu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.link(handle); err != nil {
		return err
	}
	if mtu > c.mtu {
		mtu = c.mtu
	}
	c.deliver(evt.Event{Kind: evt.MTUChanged, Handle: handle, MTU: mtu})
	return nil
}

// PeerNotify updates a remote characteristic and, when the local device
// subscribed, delivers the notification or indication.
func (c *Controller) PeerNotify(handle, attr uint16, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.central(handle)
	if err != nil {
		return err
	}
	if err := l.peer.db.SetValue(attr, value); err != nil {
		return err
	}
	en, ok := l.peer.db.Entry(attr)
	if !ok || !en.Subscribed {
		return nil
	}
	c.deliver(evt.Event{
		Kind:       evt.NotificationReceived,
		Handle:     handle,
		Attr:       attr,
		Value:      append([]byte(nil), value...),
		Indication: en.Indicate,
	})
	return nil
}

// peripheral returns the link when a remote central is connected to us.
func (c *Controller) peripheral(handle uint16) (*link, error) {
	l, err := c.link(handle)
	if err != nil {
		return nil, err
	}
	if l.role != blecore.RolePeripheral {
		return nil, errors.Wrapf(blecore.ErrInvalidState, "not peripheral on %04X", handle)
	}
	return l, nil
}

// PeerRead has the remote central read a local attribute. The answer is
// recorded as an Outbound with Response set.
func (c *Controller) PeerRead(handle, attr uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.peripheral(handle); err != nil {
		return err
	}
	c.reads[handle] = append(c.reads[handle], attr)
	c.deliver(evt.Event{Kind: evt.PeerRead, Handle: handle, Attr: attr})
	return nil
}

// PeerWrite has the remote central write a local attribute.
func (c *Controller) PeerWrite(handle, attr uint16, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.peripheral(handle); err != nil {
		return err
	}
	c.deliver(evt.Event{Kind: evt.PeerWrite, Handle: handle, Attr: attr, Value: append([]byte(nil), value...)})
	return nil
}

// PeerSubscribe writes a local client configuration descriptor.
func (c *Controller) PeerSubscribe(handle, cccd uint16, notify, indicate bool) error {
	var cfg byte
	if notify {
		cfg |= 0x01
	}
	if indicate {
		cfg |= 0x02
	}
	return c.PeerWrite(handle, cccd, []byte{cfg, 0x00})
}

func (c *Controller) RespondRead(handle, attr uint16, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.peripheral(handle); err != nil {
		return err
	}
	rr := c.reads[handle]
	for i, a := range rr {
		if a != attr {
			continue
		}
		c.reads[handle] = append(rr[:i], rr[i+1:]...)
		c.sent = append(c.sent, Outbound{Handle: handle, Attr: attr, Value: append([]byte(nil), value...), Response: true})
		return nil
	}
	return errors.Wrapf(blecore.ErrInvalidState, "no read of %04X pending on %04X", attr, handle)
}

func (c *Controller) Notify(handle, attr uint16, value []byte, indicate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.peripheral(handle); err != nil {
		return err
	}
	if c.local != nil {
		if _, err := c.local.Characteristic(attr); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, Outbound{Handle: handle, Attr: attr, Value: append([]byte(nil), value...), Indication: indicate})
	return nil
}

// Sent returns everything sent to remote centrals so far.
func (c *Controller) Sent() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outbound(nil), c.sent...)
}
