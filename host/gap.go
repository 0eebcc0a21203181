package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/adv"
	"github.com/rigado/blecore/conn"
	"github.com/rigado/blecore/pending"
)

// HasAnyConnection reports whether any link is Connected.
func (h *Host) HasAnyConnection() bool {
	return h.reg.HasAnyConnection()
}

// HasCentralConnection reports whether a central-role link is Connected.
func (h *Host) HasCentralConnection() bool {
	return h.reg.HasCentralConnection()
}

// HasPeripheralConnection reports whether a peripheral-role link is Connected.
func (h *Host) HasPeripheralConnection() bool {
	return h.reg.HasPeripheralConnection()
}

// Connection returns a snapshot of a link.
func (h *Host) Connection(handle uint16) (conn.Conn, error) {
	c, ok := h.reg.Get(handle)
	if !ok {
		return conn.Conn{}, errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	return c, nil
}

// Connections returns snapshots of every link, ordered by handle.
func (h *Host) Connections() []conn.Conn {
	var out []conn.Conn
	for _, hd := range h.reg.Handles() {
		if c, ok := h.reg.Get(hd); ok {
			out = append(out, c)
		}
	}
	return out
}

// Connect opens a central-role link. The result carries the new handle.
func (h *Host) Connect(addr blecore.Addr, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return nil, err
	}
	if err := h.reg.BeginConnect(addr); err != nil {
		return nil, err
	}
	_, t, err := h.submit(blecore.OpConnect, blecore.NoHandle, cb, func() error {
		return h.ctl.Connect(addr)
	})
	if err != nil {
		h.reg.AbortConnect()
		return nil, err
	}
	return t, nil
}

// Disconnect closes a link. Every other operation on it fails with
// ErrConnectionLost once the controller confirms.
func (h *Host) Disconnect(handle uint16, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return nil, err
	}
	if err := h.reg.BeginDisconnect(handle); err != nil {
		return nil, err
	}
	_, t, err := h.submit(blecore.OpDisconnect, handle, cb, func() error {
		return h.ctl.Disconnect(handle)
	})
	if err != nil {
		h.reg.RevertDisconnect(handle)
		return nil, err
	}
	return t, nil
}

// SetAdvertisingData builds and installs the advertising payload and scan
// response. The data is kept and reinstalled after a Restart.
func (h *Host) SetAdvertisingData(name string, uuids []blecore.UUID, mfgID uint16, mfg []byte) error {
	ad, sr, err := adv.Payloads(name, uuids, mfgID, mfg)
	if err != nil {
		return errors.Wrap(blecore.ErrInvalidArgument, err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.adData, h.srData = ad, sr
	if !h.initialized {
		return nil
	}
	return h.ctl.SetAdvertisingData(ad, sr)
}

// SetAdvertisingInterval sets the interval, in units of 0.625 ms, used by
// the next advertising start.
func (h *Host) SetAdvertisingInterval(units uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.SetAdvInterval(units)
}

// IsAdvertising reports the advertising flag.
func (h *Host) IsAdvertising() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advertising
}

// IsScanning reports the scanning flag and whether scanning is active.
func (h *Host) IsScanning() (scanning, active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scanning, h.scanActive
}

// StartAdvertising starts advertising. Starting while already advertising
// succeeds without touching the controller.
func (h *Host) StartAdvertising(cb pending.Callback) (*pending.Task, error) {
	return h.toggleAdvertising(true, cb)
}

// StopAdvertising stops advertising; stopping when idle succeeds.
func (h *Host) StopAdvertising(cb pending.Callback) (*pending.Task, error) {
	return h.toggleAdvertising(false, cb)
}

func (h *Host) toggleAdvertising(on bool, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return nil, err
	}
	if op, ok := h.ops.Peek(blecore.OpAdvertiseToggle, blecore.NoHandle); ok {
		if op.Target != on {
			return nil, errors.Wrap(blecore.ErrBusy, "advertising toggle pending")
		}
		return h.ops.Join(blecore.OpAdvertiseToggle, blecore.NoHandle, cb)
	}
	if h.advertising == on {
		return h.completed(blecore.OpAdvertiseToggle, cb), nil
	}

	interval := h.params.advInterval
	_, t, err := h.submit(blecore.OpAdvertiseToggle, blecore.NoHandle, cb, func() error {
		return h.ctl.SetAdvertising(on, interval)
	})
	if err != nil {
		return nil, err
	}
	h.setTarget(blecore.OpAdvertiseToggle, on)
	return t, nil
}

// StartScanning starts scanning. Active scanning is refused with
// ErrUnimplemented when the controller does not support it.
func (h *Host) StartScanning(active bool, cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return nil, err
	}
	if active && !h.params.activeScan {
		return nil, errors.Wrap(blecore.ErrUnimplemented, "active scanning")
	}
	if op, ok := h.ops.Peek(blecore.OpScanToggle, blecore.NoHandle); ok {
		if !op.Target || h.scanWant != active {
			return nil, errors.Wrap(blecore.ErrBusy, "scan toggle pending")
		}
		return h.ops.Join(blecore.OpScanToggle, blecore.NoHandle, cb)
	}
	if h.scanning {
		if h.scanActive != active {
			return nil, errors.Wrapf(blecore.ErrInvalidState, "already scanning, active %v", h.scanActive)
		}
		return h.completed(blecore.OpScanToggle, cb), nil
	}

	_, t, err := h.submit(blecore.OpScanToggle, blecore.NoHandle, cb, func() error {
		return h.ctl.SetScanning(true, active)
	})
	if err != nil {
		return nil, err
	}
	h.scanWant = active
	h.setTarget(blecore.OpScanToggle, true)
	return t, nil
}

// StopScanning stops scanning; stopping when idle succeeds.
func (h *Host) StopScanning(cb pending.Callback) (*pending.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireInit(); err != nil {
		return nil, err
	}
	if op, ok := h.ops.Peek(blecore.OpScanToggle, blecore.NoHandle); ok {
		if op.Target {
			return nil, errors.Wrap(blecore.ErrBusy, "scan toggle pending")
		}
		return h.ops.Join(blecore.OpScanToggle, blecore.NoHandle, cb)
	}
	if !h.scanning {
		return h.completed(blecore.OpScanToggle, cb), nil
	}

	_, t, err := h.submit(blecore.OpScanToggle, blecore.NoHandle, cb, func() error {
		return h.ctl.SetScanning(false, false)
	})
	if err != nil {
		return nil, err
	}
	h.setTarget(blecore.OpScanToggle, false)
	return t, nil
}

func (h *Host) setTarget(kind blecore.OpKind, on bool) {
	h.ops.Update(kind, blecore.NoHandle, func(op *pending.Op) { op.Target = on })
}

// completed returns a task that already succeeded; its callback runs on the
// next drain.
func (h *Host) completed(kind blecore.OpKind, cb pending.Callback) *pending.Task {
	t, d := pending.Completed(kind, blecore.NoHandle, cb, pending.Result{})
	h.post(d)
	return t
}
