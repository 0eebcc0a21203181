package host

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/adv"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/gatt"
	"github.com/rigado/blecore/pending"
)

func (h *Host) initHandlers() {
	h.evth = map[evt.Kind]handlerFn{
		evt.Connected:                h.handleConnected,
		evt.Disconnected:             h.handleDisconnected,
		evt.ServiceDiscovered:        h.handleServiceDiscovered,
		evt.CharacteristicDiscovered: h.handleCharacteristicDiscovered,
		evt.DiscoveryComplete:        h.handleDiscoveryComplete,
		evt.ReadComplete:             h.handleReadComplete,
		evt.WriteComplete:            h.handleWriteComplete,
		evt.SubscribeComplete:        h.handleSubscribeComplete,
		evt.NotificationReceived:     h.handleNotification,
		evt.SecurityChanged:          h.handleSecurityChanged,
		evt.PasskeyRequest:           h.handlePasskeyRequest,
		evt.AdvertisingStateChanged:  h.handleAdvertisingState,
		evt.ScanStateChanged:         h.handleScanState,
		evt.AdvertisingReport:        h.handleAdvertisingReport,
		evt.PeerRead:                 h.handlePeerRead,
		evt.PeerWrite:                h.handlePeerWrite,
		evt.MTUChanged:               h.handleMTUChanged,
		evt.ControllerError:          h.handleControllerError,
	}
}

// resolve completes the operation of kind on handle with the event status.
func (h *Host) resolve(kind blecore.OpKind, handle uint16, status uint32, res pending.Result) bool {
	if err := blecore.StatusError(status); err != nil {
		res = pending.Result{Err: errors.Wrapf(err, "%v", kind)}
	}
	dd, ok := h.ops.Resolve(kind, handle, res)
	h.post(dd...)
	return ok
}

func (h *Host) remoteTable(handle uint16) (*gatt.Table, error) {
	t, ok := h.remote[handle]
	if !ok {
		return nil, errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	return t, nil
}

func (h *Host) handleConnected(e evt.Event) error {
	if e.Failed() {
		h.reg.AbortConnect()
		if !h.resolve(blecore.OpConnect, blecore.NoHandle, e.Status, pending.Result{}) {
			h.emit(e)
		}
		return nil
	}

	c, err := h.reg.Establish(e.Handle, e.Role, e.Addr, e.MTU)
	if err != nil {
		if e.Role == blecore.RoleCentral {
			dd, _ := h.ops.Resolve(blecore.OpConnect, blecore.NoHandle, pending.Result{Err: err})
			h.post(dd...)
		}
		return err
	}

	h.remote[c.Handle] = gatt.NewTable()
	s := &security{addr: c.Addr, level: blecore.SecurityNone}
	if h.bonds != nil && h.bonds.Exists(c.Addr.Key()) {
		s.bonded = true
	}
	h.sec[c.Handle] = s
	h.log.Infof("connected %v as %v, handle %04X, bonded %v", c.Addr, c.Role, c.Handle, s.bonded)

	if c.Role == blecore.RoleCentral {
		dd, ok := h.ops.Resolve(blecore.OpConnect, blecore.NoHandle, pending.Result{Conn: c.Handle})
		h.post(dd...)
		if ok {
			return nil
		}
	}
	h.emit(e)
	return nil
}

func (h *Host) handleDisconnected(e evt.Event) error {
	c, ok := h.reg.Remove(e.Handle)
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", e.Handle)
	}
	h.log.Infof("disconnected %v, handle %04X, reason 0x%02X", c.Addr, c.Handle, e.Reason)

	// an explicit disconnect completes before everything else is failed
	requested := h.resolve(blecore.OpDisconnect, e.Handle, 0, pending.Result{})
	lost := errors.Wrapf(blecore.ErrConnectionLost, "handle %04X reason 0x%02X", e.Handle, e.Reason)
	h.post(h.ops.CancelAll(e.Handle, lost)...)

	if t, ok := h.remote[e.Handle]; ok {
		t.Clear()
		delete(h.remote, e.Handle)
	}
	delete(h.sec, e.Handle)
	if c.Role == blecore.RolePeripheral && h.local != nil {
		for _, ch := range h.local.Characteristics() {
			_ = h.local.SetSubscribed(ch.ValueHandle, false, false)
		}
	}

	if !requested {
		h.emit(e)
	}
	return nil
}

func (h *Host) handleServiceDiscovered(e evt.Event) error {
	t, err := h.remoteTable(e.Handle)
	if err != nil {
		return err
	}
	t.AddService(e.Service)
	ok := h.ops.Update(blecore.OpServiceDiscovery, e.Handle, func(op *pending.Op) {
		op.Partial.Services = append(op.Partial.Services, e.Service)
	})
	if !ok {
		h.log.Debugf("service %v on %04X without discovery pending", e.Service.UUID, e.Handle)
	}
	return nil
}

func (h *Host) handleCharacteristicDiscovered(e evt.Event) error {
	t, err := h.remoteTable(e.Handle)
	if err != nil {
		return err
	}
	t.AddCharacteristic(e.Characteristic)
	ok := h.ops.Update(blecore.OpCharacteristicDiscovery, e.Handle, func(op *pending.Op) {
		op.Partial.Characteristics = append(op.Partial.Characteristics, e.Characteristic)
	})
	if !ok {
		h.log.Debugf("characteristic %v on %04X without discovery pending", e.Characteristic.UUID, e.Handle)
	}
	return nil
}

func (h *Host) handleDiscoveryComplete(e evt.Event) error {
	if e.Op != blecore.OpServiceDiscovery && e.Op != blecore.OpCharacteristicDiscovery {
		return errors.Wrapf(blecore.ErrInvalidArgument, "discovery complete for %v", e.Op)
	}
	status := e.Status
	if status == evt.StatusAttrNotFound {
		status = evt.StatusSuccess
	}
	if !h.resolve(e.Op, e.Handle, status, pending.Result{}) {
		return errors.Wrapf(blecore.ErrNotFound, "no %v pending on %04X", e.Op, e.Handle)
	}
	if status == evt.StatusSuccess {
		h.storeProfile(e.Handle)
	}
	return nil
}

func (h *Host) storeProfile(handle uint16) {
	if h.cache == nil {
		return
	}
	c, ok := h.reg.Get(handle)
	t, tok := h.remote[handle]
	if !ok || !tok {
		return
	}
	if err := h.cache.Store(c.Addr, t.Profile(), true); err != nil {
		h.log.Warnf("gatt cache store %v: %v", c.Addr, err)
	}
}

func (h *Host) handleReadComplete(e evt.Event) error {
	if !e.Failed() {
		if t, ok := h.remote[e.Handle]; ok {
			_ = t.SetValue(e.Attr, e.Value)
		}
	}
	res := pending.Result{Value: append([]byte(nil), e.Value...)}
	if !h.resolve(blecore.OpRead, e.Handle, e.Status, res) {
		return errors.Wrapf(blecore.ErrNotFound, "no read pending on %04X", e.Handle)
	}
	return nil
}

func (h *Host) handleWriteComplete(e evt.Event) error {
	if !h.resolve(blecore.OpWrite, e.Handle, e.Status, pending.Result{}) {
		return errors.Wrapf(blecore.ErrNotFound, "no write pending on %04X", e.Handle)
	}
	return nil
}

func (h *Host) handleSubscribeComplete(e evt.Event) error {
	if !e.Failed() {
		if t, ok := h.remote[e.Handle]; ok {
			if c, err := t.ByCCCD(e.Attr); err == nil {
				_ = t.SetSubscribed(c.ValueHandle, e.Enabled, e.Indication)
			}
		}
	}
	if !h.resolve(blecore.OpSubscribe, e.Handle, e.Status, pending.Result{}) {
		return errors.Wrapf(blecore.ErrNotFound, "no subscribe pending on %04X", e.Handle)
	}
	return nil
}

func (h *Host) handleNotification(e evt.Event) error {
	if t, ok := h.remote[e.Handle]; ok {
		_ = t.SetValue(e.Attr, e.Value)
	}
	h.emit(e)
	return nil
}

func (h *Host) handleAdvertisingState(e evt.Event) error {
	if !e.Failed() {
		h.advertising = e.Active
	}
	if !h.resolveToggle(blecore.OpAdvertiseToggle, e) {
		h.emit(e)
	}
	return nil
}

func (h *Host) handleScanState(e evt.Event) error {
	if !e.Failed() {
		h.scanning = e.Active
		h.scanActive = e.Active && h.scanWant
	}
	if !h.resolveToggle(blecore.OpScanToggle, e) {
		h.emit(e)
	}
	return nil
}

// resolveToggle completes a pending toggle when the reported state is the
// one it asked for, or when the controller failed it. A state change the
// toggle did not ask for is left to the runtime as an unsolicited event.
func (h *Host) resolveToggle(kind blecore.OpKind, e evt.Event) bool {
	op, ok := h.ops.Peek(kind, blecore.NoHandle)
	if !ok || (!e.Failed() && op.Target != e.Active) {
		return false
	}
	return h.resolve(kind, blecore.NoHandle, e.Status, pending.Result{})
}

func (h *Host) handleAdvertisingReport(e evt.Event) error {
	fn := h.onReport
	if fn == nil {
		h.emit(e)
		return nil
	}
	r, err := adv.Parse(e.Value)
	if err != nil && err != adv.ErrEmptyPdu {
		h.log.Debugf("adv report from %v: %v", e.Addr, err)
	}
	h.muOut.Lock()
	h.out = append(h.out, func() { fn(e, r) })
	h.muOut.Unlock()
	return nil
}

func (h *Host) handlePeerRead(e evt.Event) error {
	if h.local == nil {
		return errors.Wrap(blecore.ErrNotFound, "no local services")
	}
	v, err := h.local.Value(e.Attr)
	if err != nil {
		return err
	}
	return h.ctl.RespondRead(e.Handle, e.Attr, v)
}

func (h *Host) handlePeerWrite(e evt.Event) error {
	if h.local == nil {
		return errors.Wrap(blecore.ErrNotFound, "no local services")
	}
	if c, err := h.local.ByCCCD(e.Attr); err == nil {
		var cfg byte
		if len(e.Value) > 0 {
			cfg = e.Value[0]
		}
		return h.local.SetSubscribed(c.ValueHandle, cfg&0x03 != 0, cfg&0x02 != 0)
	}
	if err := h.local.SetValue(e.Attr, e.Value); err != nil {
		return err
	}
	h.emit(e)
	return nil
}

func (h *Host) handleMTUChanged(e evt.Event) error {
	return h.reg.SetMTU(e.Handle, e.MTU)
}

func (h *Host) handleControllerError(e evt.Event) error {
	status := e.Status
	if status == evt.StatusSuccess {
		return errors.New("controller error without status")
	}
	err := errors.Wrapf(blecore.ControllerError(status), "%v", e.Op)

	if e.Token != "" {
		if dd, ok := h.ops.ResolveToken(e.Token, pending.Result{Err: err}); ok {
			h.post(dd...)
			if len(dd) > 0 {
				h.afterFailure(dd[0].Result().Kind, dd[0].Result().Handle)
			}
			return nil
		}
	}
	if e.Op != 0 {
		handle := e.Handle
		if e.Op.Connectionless() {
			handle = blecore.NoHandle
		}
		if dd, ok := h.ops.Resolve(e.Op, handle, pending.Result{Err: err}); ok {
			h.post(dd...)
			h.afterFailure(e.Op, handle)
			return nil
		}
	}

	e.Err = blecore.ControllerError(status)
	h.emit(e)
	return err
}

// afterFailure undoes the state a failed request left behind.
func (h *Host) afterFailure(kind blecore.OpKind, handle uint16) {
	switch kind {
	case blecore.OpConnect:
		h.reg.AbortConnect()
	case blecore.OpDisconnect:
		h.reg.RevertDisconnect(handle)
	case blecore.OpBond:
		if s, ok := h.sec[handle]; ok {
			s.pairing = false
		}
	}
}
