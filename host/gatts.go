package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/gatt"
)

// SetServices publishes the local database. The controller accepts one table
// per session; changing it needs a Restart.
func (h *Host) SetServices(defs []blecore.ServiceDef) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return err
	}
	if h.servicesSet {
		return blecore.ErrServicesActive
	}
	t, err := gatt.BuildLocal(defs)
	if err != nil {
		return err
	}
	if err := h.ctl.PublishServices(t.Services(), t.Characteristics()); err != nil {
		return errors.Wrap(err, "publish services")
	}
	h.local = t
	h.servicesSet = true
	h.log.Infof("published %d services", len(defs))
	return nil
}

// LocalServices returns the published layout.
func (h *Host) LocalServices() blecore.Profile {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.local == nil {
		return blecore.Profile{}
	}
	return h.local.Profile()
}

// LocalValue returns the cached value of a local characteristic.
func (h *Host) LocalValue(svc, chr blecore.UUID) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.localChar(svc, chr)
	if err != nil {
		return nil, err
	}
	return h.local.Value(c.ValueHandle)
}

// UpdateCharacteristic replaces a local value. With notify set, a subscribed
// peer is sent a notification or indication.
func (h *Host) UpdateCharacteristic(svc, chr blecore.UUID, value []byte, notify bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, err := h.localChar(svc, chr)
	if err != nil {
		return err
	}
	if err := h.local.SetValue(c.ValueHandle, value); err != nil {
		return err
	}
	if !notify {
		return nil
	}

	e, _ := h.local.Entry(c.ValueHandle)
	ph, ok := h.reg.PeripheralHandle()
	if !e.Subscribed || !ok {
		return nil
	}
	return h.ctl.Notify(ph, c.ValueHandle, e.Value, e.Indicate)
}

func (h *Host) localChar(svc, chr blecore.UUID) (blecore.Characteristic, error) {
	if h.local == nil {
		return blecore.Characteristic{}, errors.Wrap(blecore.ErrNotFound, "no local services")
	}
	return h.local.Find(svc, chr)
}
