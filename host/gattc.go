package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/conn"
	"github.com/rigado/blecore/gatt"
	"github.com/rigado/blecore/pending"
)

// client returns the link and its remote table after checking that the link
// is Connected; callers hold mu.
func (h *Host) client(handle uint16) (conn.Conn, *gatt.Table, error) {
	if err := h.requireInit(); err != nil {
		return conn.Conn{}, nil, err
	}
	c, err := h.reg.Require(handle)
	if err != nil {
		return conn.Conn{}, nil, err
	}
	t, err := h.remoteTable(handle)
	if err != nil {
		return conn.Conn{}, nil, err
	}
	return c, t, nil
}

// DiscoverServices discovers the primary services of the peer. A zero filter
// discovers all of them. Results accumulate in the handle table and are
// reported together when the procedure ends.
func (h *Host) DiscoverServices(handle uint16, filter blecore.UUID, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, _, err := h.client(handle); err != nil {
		return nil, err
	}
	_, t, err := h.submit(blecore.OpServiceDiscovery, handle, cb, func() error {
		return h.ctl.DiscoverServices(handle, filter)
	})
	return t, err
}

// DiscoverCharacteristics discovers the characteristics of a previously
// discovered service.
func (h *Host) DiscoverCharacteristics(handle uint16, svc, filter blecore.UUID, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, tb, err := h.client(handle)
	if err != nil {
		return nil, err
	}
	s, err := tb.Service(svc)
	if err != nil {
		return nil, err
	}
	_, t, err := h.submit(blecore.OpCharacteristicDiscovery, handle, cb, func() error {
		return h.ctl.DiscoverCharacteristics(handle, s, filter)
	})
	return t, err
}

// Read reads a characteristic value by value handle.
func (h *Host) Read(handle, attr uint16, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, tb, err := h.client(handle)
	if err != nil {
		return nil, err
	}
	if _, err := tb.Characteristic(attr); err != nil {
		return nil, err
	}
	_, t, err := h.submit(blecore.OpRead, handle, cb, func() error {
		return h.ctl.Read(handle, attr)
	})
	return t, err
}

// Write writes value to a characteristic. The value is copied; its length is
// sent as is.
func (h *Host) Write(handle, attr uint16, value []byte, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, tb, err := h.client(handle)
	if err != nil {
		return nil, err
	}
	if _, err := tb.Characteristic(attr); err != nil {
		return nil, err
	}
	v := append([]byte(nil), value...)
	_, t, err := h.submit(blecore.OpWrite, handle, cb, func() error {
		return h.ctl.Write(handle, attr, v)
	})
	return t, err
}

// Subscribe enables or disables notifications or indications for a
// characteristic by writing its client configuration descriptor.
func (h *Host) Subscribe(handle, attr uint16, enable bool, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, tb, err := h.client(handle)
	if err != nil {
		return nil, err
	}
	c, err := tb.Characteristic(attr)
	if err != nil {
		return nil, err
	}
	if !c.Property.CanSubscribe() {
		return nil, errors.Wrapf(blecore.ErrInvalidArgument, "characteristic %v can't notify or indicate", c.UUID)
	}
	if c.CCCD == 0 {
		return nil, errors.Wrapf(blecore.ErrNotFound, "cccd of %v", c.UUID)
	}
	_, t, err := h.submit(blecore.OpSubscribe, handle, cb, func() error {
		return h.ctl.Subscribe(handle, c.CCCD, enable)
	})
	return t, err
}

// Services returns the services discovered on a link.
func (h *Host) Services(handle uint16) ([]blecore.Service, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.remoteTable(handle)
	if err != nil {
		return nil, err
	}
	return t.Services(), nil
}

// Characteristics returns the characteristics discovered on a link.
func (h *Host) Characteristics(handle uint16) ([]blecore.Characteristic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.remoteTable(handle)
	if err != nil {
		return nil, err
	}
	return t.Characteristics(), nil
}

// FindCharacteristic looks a discovered characteristic up by UUIDs.
func (h *Host) FindCharacteristic(handle uint16, svc, chr blecore.UUID) (blecore.Characteristic, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.remoteTable(handle)
	if err != nil {
		return blecore.Characteristic{}, err
	}
	return t.Find(svc, chr)
}

// LoadCachedProfile seeds the handle table of a link with the profile cached
// for its peer, skipping discovery.
func (h *Host) LoadCachedProfile(handle uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, t, err := h.client(handle)
	if err != nil {
		return err
	}
	if h.cache == nil {
		return errors.Wrap(blecore.ErrInvalidState, "gatt cache not configured")
	}
	p, err := h.cache.Load(c.Addr)
	if err != nil {
		return errors.Wrapf(blecore.ErrNotFound, "cached profile for %v: %v", c.Addr, err)
	}
	t.Load(p)
	return nil
}
