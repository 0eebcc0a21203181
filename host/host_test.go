package host

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/conn"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/pending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOrder(t *testing.T) {
	_, f, _ := newTestHost(t, blecore.OptMTU(185))
	assert.Equal(t, []string{"InitController", "InitStack", "RegisterCallbacks", "SetMTU 185"}, f.Calls())
}

func TestInitDisabled(t *testing.T) {
	f := newFakeController()
	h, err := New(f, blecore.OptDisabled(true))
	require.NoError(t, err)
	require.NoError(t, h.Init())
	assert.False(t, h.Initialized())
	assert.Empty(t, f.Calls())

	_, err = h.StartAdvertising(nil)
	assert.Equal(t, blecore.ErrClosed, errors.Cause(err))
}

func TestNewInvalidOptions(t *testing.T) {
	_, err := New(newFakeController(), blecore.OptAdvInterval(0x10))
	assert.Equal(t, blecore.ErrInvalidArgument, errors.Cause(err))
	_, err = New(newFakeController(), blecore.OptMTU(10))
	assert.Equal(t, blecore.ErrInvalidArgument, errors.Cause(err))
	_, err = New(nil)
	assert.Error(t, err)
}

func TestRoleQueries(t *testing.T) {
	h, f, r := newTestHost(t, blecore.OptCentralLinks(2))
	assert.False(t, h.HasAnyConnection())

	connectPeripheral(t, h, f, 0x40)
	assert.True(t, h.HasAnyConnection())
	assert.False(t, h.HasCentralConnection())
	require.Len(t, r.events, 1)
	assert.Equal(t, evt.Connected, r.events[0].Kind)

	connectCentral(t, h, f, 0x41, peerAddr)
	assert.True(t, h.HasCentralConnection())
	// a solicited connect is reported through its task only
	assert.Len(t, r.events, 1)

	f.raise(evt.Event{Kind: evt.Disconnected, Handle: 0x40, Reason: evt.ReasonRemoteUser})
	h.ExecPending()
	assert.False(t, h.HasPeripheralConnection())
	assert.True(t, h.HasCentralConnection())
	assert.Len(t, r.events, 2)

	f.raise(evt.Event{Kind: evt.Disconnected, Handle: 0x41, Reason: evt.ReasonConnTimeout})
	h.ExecPending()
	assert.False(t, h.HasAnyConnection())
}

func TestConnect(t *testing.T) {
	h, f, _ := newTestHost(t)

	task, err := h.Connect(peerAddr, nil)
	require.NoError(t, err)
	_, err = h.Connect(peerAddr2, nil)
	assert.Equal(t, blecore.ErrBusy, errors.Cause(err))

	f.raise(evt.Event{Kind: evt.Connected, Handle: 1, Role: blecore.RoleCentral, Addr: peerAddr, MTU: 247})
	h.ExecPending()
	res, ok := task.Result()
	require.True(t, ok)
	assert.Equal(t, uint16(1), res.Conn)

	c, err := h.Connection(1)
	require.NoError(t, err)
	assert.Equal(t, conn.Connected, c.State)
	assert.Equal(t, 247, c.MTU)

	// one central link by default
	_, err = h.Connect(peerAddr2, nil)
	assert.Equal(t, blecore.ErrInvalidState, errors.Cause(err))
}

func TestConnectFailed(t *testing.T) {
	h, f, _ := newTestHost(t)
	task, err := h.Connect(peerAddr, nil)
	require.NoError(t, err)

	f.raise(evt.Event{Kind: evt.Connected, Status: 0x3E})
	h.ExecPending()
	res, _ := task.Result()
	code, ok := blecore.IsControllerError(res.Err)
	require.True(t, ok)
	assert.Equal(t, blecore.ControllerError(0x3E), code)

	// the attempt is forgotten
	_, err = h.Connect(peerAddr, nil)
	assert.NoError(t, err)
}

func TestControllerRefusal(t *testing.T) {
	h, f, _ := newTestHost(t)
	f.fail["Connect"] = errors.New("radio off")

	_, err := h.Connect(peerAddr, nil)
	assert.EqualError(t, errors.Cause(err), "radio off")
	assert.Empty(t, h.Outstanding())

	delete(f.fail, "Connect")
	_, err = h.Connect(peerAddr, nil)
	assert.NoError(t, err)
}

func TestBusyNeverOverwrites(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	rec := &recorder{}
	_, err := h.Read(1, hrmChar.ValueHandle, rec.cb)
	require.NoError(t, err)
	_, err = h.Read(1, cpChar.ValueHandle, rec.cb)
	assert.Equal(t, blecore.ErrBusy, errors.Cause(err))
	assert.Equal(t, 1, f.count("Read"))

	// other kinds are not blocked
	_, err = h.Write(1, cpChar.ValueHandle, []byte{1}, rec.cb)
	require.NoError(t, err)

	f.raise(evt.Event{Kind: evt.ReadComplete, Handle: 1, Attr: hrmChar.ValueHandle, Value: []byte{0x00, 0x48}})
	f.raise(evt.Event{Kind: evt.WriteComplete, Handle: 1})
	h.ExecPending()

	require.Len(t, rec.results, 2)
	assert.Equal(t, blecore.OpRead, rec.results[0].Kind)
	assert.Equal(t, []byte{0x00, 0x48}, rec.results[0].Value)
	assert.Equal(t, blecore.OpWrite, rec.results[1].Kind)
	assert.NoError(t, rec.results[1].Err)
}

func TestServiceDiscovery(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)

	rec := &recorder{}
	_, err := h.DiscoverServices(1, blecore.UUID{}, rec.cb)
	require.NoError(t, err)

	f.raise(evt.Event{Kind: evt.ServiceDiscovered, Handle: 1, Service: blecore.Service{UUID: hrs, Handle: 1, End: 6}})
	f.raise(evt.Event{Kind: evt.ServiceDiscovered, Handle: 1, Service: blecore.Service{UUID: dis, Handle: 7, End: 0x10}})
	h.ExecPending()
	assert.Empty(t, rec.results)

	f.raise(evt.Event{Kind: evt.DiscoveryComplete, Handle: 1, Op: blecore.OpServiceDiscovery, Status: evt.StatusAttrNotFound})
	h.ExecPending()

	require.Len(t, rec.results, 1)
	require.NoError(t, rec.results[0].Err)
	want := []blecore.Service{{UUID: hrs, Handle: 1, End: 6}, {UUID: dis, Handle: 7, End: 0x10}}
	assert.Equal(t, want, rec.results[0].Services)

	ss, err := h.Services(1)
	require.NoError(t, err)
	assert.Equal(t, want, ss)

	// characteristic discovery needs a known service
	_, err = h.DiscoverCharacteristics(1, blecore.UUID16(0x1234), blecore.UUID{}, nil)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
}

func TestDiscoveryFailure(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)

	rec := &recorder{}
	_, err := h.DiscoverServices(1, hrs, rec.cb)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.DiscoveryComplete, Handle: 1, Op: blecore.OpServiceDiscovery, Status: 0x0E})
	h.ExecPending()

	require.Len(t, rec.results, 1)
	code, ok := blecore.IsControllerError(rec.results[0].Err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x0E), code.Code())
}

func TestWriteUnknownHandle(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)

	_, err := h.Write(1, 0x0099, []byte{1, 2}, nil)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
	assert.Empty(t, h.Outstanding())
	assert.Zero(t, f.count("Write"))

	// unknown connection
	_, err = h.Write(9, 0x0003, []byte{1}, nil)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
}

func TestDisconnectCancelsPending(t *testing.T) {
	h, f, r := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	rec := &recorder{}
	_, err := h.Read(1, hrmChar.ValueHandle, rec.cb)
	require.NoError(t, err)
	_, err = h.Write(1, cpChar.ValueHandle, []byte{1}, rec.cb)
	require.NoError(t, err)
	_, err = h.Subscribe(1, hrmChar.ValueHandle, true, rec.cb)
	require.NoError(t, err)

	f.raise(evt.Event{Kind: evt.Disconnected, Handle: 1, Reason: evt.ReasonConnTimeout})
	h.ExecPending()

	require.Len(t, rec.results, 3)
	for _, res := range rec.results {
		assert.Equal(t, blecore.ErrConnectionLost, errors.Cause(res.Err))
	}
	assert.Empty(t, h.Outstanding())

	// late completions find nothing and are reported
	f.raise(evt.Event{Kind: evt.ReadComplete, Handle: 1, Value: []byte{1}})
	h.ExecPending()
	assert.Len(t, rec.results, 3)

	require.Len(t, r.events, 1)
	assert.Equal(t, evt.Disconnected, r.events[0].Kind)

	_, err = h.Services(1)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
}

func TestExplicitDisconnect(t *testing.T) {
	h, f, r := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	rec := &recorder{}
	_, err := h.Read(1, hrmChar.ValueHandle, rec.cb)
	require.NoError(t, err)

	_, err = h.Disconnect(1, rec.cb)
	require.NoError(t, err)
	c, _ := h.Connection(1)
	assert.Equal(t, conn.Disconnecting, c.State)

	_, err = h.Write(1, cpChar.ValueHandle, nil, nil)
	assert.Equal(t, blecore.ErrInvalidState, errors.Cause(err))
	_, err = h.Disconnect(1, nil)
	assert.Equal(t, blecore.ErrInvalidState, errors.Cause(err))

	f.raise(evt.Event{Kind: evt.Disconnected, Handle: 1, Reason: evt.ReasonLocalHost})
	h.ExecPending()

	require.Len(t, rec.results, 2)
	assert.Equal(t, blecore.OpDisconnect, rec.results[0].Kind)
	assert.NoError(t, rec.results[0].Err)
	assert.Equal(t, blecore.OpRead, rec.results[1].Kind)
	assert.Equal(t, blecore.ErrConnectionLost, errors.Cause(rec.results[1].Err))
	assert.Empty(t, r.events)
}

func TestSubscribeAndNotify(t *testing.T) {
	h, f, r := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	_, err := h.Subscribe(1, cpChar.ValueHandle, true, nil)
	assert.Equal(t, blecore.ErrInvalidArgument, errors.Cause(err))

	task, err := h.Subscribe(1, hrmChar.ValueHandle, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Subscribe 0001 0004 true"}, f.Calls()[len(f.Calls())-1:])

	f.raise(evt.Event{Kind: evt.SubscribeComplete, Handle: 1, Attr: hrmChar.CCCD, Enabled: true})
	f.raise(evt.Event{Kind: evt.NotificationReceived, Handle: 1, Attr: hrmChar.ValueHandle, Value: []byte{0x00, 0x50}})
	h.ExecPending()

	_, done := task.Result()
	assert.True(t, done)
	require.Len(t, r.events, 1)
	assert.Equal(t, evt.NotificationReceived, r.events[0].Kind)
	assert.Equal(t, []byte{0x00, 0x50}, r.events[0].Value)
}

func TestReadStatusError(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	task, err := h.Read(1, hrmChar.ValueHandle, nil)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.ReadComplete, Handle: 1, Attr: hrmChar.ValueHandle, Status: 0x02})
	h.ExecPending()

	res, _ := task.Result()
	code, ok := blecore.IsControllerError(res.Err)
	require.True(t, ok)
	assert.Equal(t, blecore.ControllerError(0x02), code)
}

func TestControllerErrorEvent(t *testing.T) {
	var handled []error
	h, f, r := newTestHost(t, blecore.OptErrorHandler(func(err error) { handled = append(handled, err) }))
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	write, err := h.Write(1, cpChar.ValueHandle, []byte{1}, nil)
	require.NoError(t, err)
	read, err := h.Read(1, hrmChar.ValueHandle, nil)
	require.NoError(t, err)

	// by token, then by kind and handle
	f.raise(evt.Event{Kind: evt.ControllerError, Status: 0x85, Token: write.Token()})
	f.raise(evt.Event{Kind: evt.ControllerError, Status: 0x86, Op: blecore.OpRead, Handle: 1})
	h.ExecPending()

	res, _ := write.Result()
	code, _ := blecore.IsControllerError(res.Err)
	assert.Equal(t, blecore.ControllerError(0x85), code)
	res, _ = read.Result()
	code, _ = blecore.IsControllerError(res.Err)
	assert.Equal(t, blecore.ControllerError(0x86), code)
	assert.Empty(t, handled)

	// nothing to resolve
	f.raise(evt.Event{Kind: evt.ControllerError, Status: 0x13})
	h.ExecPending()
	require.Len(t, handled, 1)
	require.Len(t, r.events, 1)
	assert.Equal(t, blecore.ControllerError(0x13), r.events[0].Err)
}

func TestControllerErrorOnDisconnect(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)

	_, err := h.Disconnect(1, nil)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.ControllerError, Status: evt.ReasonCommandDisallow, Op: blecore.OpDisconnect, Handle: 1})
	h.ExecPending()

	c, err := h.Connection(1)
	require.NoError(t, err)
	assert.Equal(t, conn.Connected, c.State)
}

func TestMTUChanged(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	f.raise(evt.Event{Kind: evt.MTUChanged, Handle: 1, MTU: 185})
	h.ExecPending()
	c, _ := h.Connection(1)
	assert.Equal(t, 185, c.MTU)
}

func TestGattCache(t *testing.T) {
	gc := &memCache{m: map[blecore.Addr]blecore.Profile{}}
	h, f, _ := newTestHost(t, blecore.OptGattCache(gc))
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)
	require.Contains(t, gc.m, peerAddr)
	assert.Len(t, gc.m[peerAddr].Characteristics, 2)

	f.raise(evt.Event{Kind: evt.Disconnected, Handle: 1})
	h.ExecPending()
	connectCentral(t, h, f, 2, peerAddr)

	_, err := h.Read(2, hrmChar.ValueHandle, nil)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
	require.NoError(t, h.LoadCachedProfile(2))
	_, err = h.Read(2, hrmChar.ValueHandle, nil)
	assert.NoError(t, err)
}

func TestKillFailsEverything(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)

	rec := &recorder{}
	_, err := h.DiscoverServices(1, blecore.UUID{}, rec.cb)
	require.NoError(t, err)
	_, err = h.StartAdvertising(rec.cb)
	require.NoError(t, err)

	require.NoError(t, h.Kill())
	h.ExecPending()

	require.Len(t, rec.results, 2)
	for _, res := range rec.results {
		assert.Equal(t, blecore.ErrClosed, errors.Cause(res.Err))
	}
	assert.False(t, h.HasAnyConnection())
	assert.False(t, h.Initialized())
	assert.Equal(t, 1, f.count("Deinit"))
}

func TestKillDropsLateEvents(t *testing.T) {
	h, f, r := newTestHost(t)
	f.onDeinit = func() {
		f.raise(evt.Event{Kind: evt.Connected, Handle: 0x40, Role: blecore.RolePeripheral, Addr: peerAddr2, MTU: 23})
	}
	require.NoError(t, h.Kill())
	f.onDeinit = nil

	require.NoError(t, h.Init())
	assert.Zero(t, h.ExecPending())
	assert.False(t, h.HasAnyConnection())
	assert.Empty(t, r.events)
}

func TestSupersede(t *testing.T) {
	h, f, _ := newTestHost(t)
	connectCentral(t, h, f, 1, peerAddr)
	discover(t, h, f, 1)

	old, err := h.Read(1, hrmChar.ValueHandle, nil)
	require.NoError(t, err)

	out := h.Outstanding()
	require.Len(t, out, 1)
	assert.Equal(t, blecore.OpRead, out[0].Kind)

	require.NoError(t, h.Supersede(blecore.OpRead, 1))
	h.ExecPending()
	res, _ := old.Result()
	assert.Equal(t, blecore.ErrSuperseded, errors.Cause(res.Err))

	_, err = h.Read(1, hrmChar.ValueHandle, nil)
	assert.NoError(t, err)

	assert.Equal(t, blecore.ErrNotFound, errors.Cause(h.Supersede(blecore.OpWrite, 1)))
}

func TestRunAndWait(t *testing.T) {
	h, f, _ := newTestHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	task, err := h.StartAdvertising(nil)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.AdvertisingStateChanged, Active: true})

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	res, err := task.Wait(wctx)
	require.NoError(t, err)
	assert.Equal(t, blecore.OpAdvertiseToggle, res.Kind)
	assert.True(t, h.IsAdvertising())

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestUnimplemented(t *testing.T) {
	h, _, _ := newTestHost(t)
	for _, err := range []error{
		h.DiscoverDescriptors(1, 3),
		h.SetRSSIScan(1, true),
		h.SetWhitelist(nil),
		h.SetTxPower(4),
		h.SendHIDReport([]byte{1}),
	} {
		assert.Equal(t, blecore.ErrUnimplemented, errors.Cause(err))
	}
}

func TestExecPendingRunsNewWork(t *testing.T) {
	h, f, _ := newTestHost(t)

	var second *pending.Task
	first, err := h.StartAdvertising(func(pending.Result) {
		// issued from inside a completion
		second, _ = h.StartAdvertising(nil)
	})
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.AdvertisingStateChanged, Active: true})
	assert.Equal(t, 1, h.ExecPending())

	_, ok := first.Result()
	assert.True(t, ok)
	require.NotNil(t, second)
	_, ok = second.Result()
	assert.True(t, ok)
}
