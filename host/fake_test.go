package host

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/controller"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/pending"
	"github.com/stretchr/testify/require"
)

// fakeController records requests and lets tests raise events.
type fakeController struct {
	mu    sync.Mutex
	sink  controller.Sink
	calls []string
	fail  map[string]error

	// onDeinit runs inside Deinit, before it returns
	onDeinit func()
}

func newFakeController() *fakeController {
	return &fakeController{fail: map[string]error{}}
}

func (f *fakeController) record(name string, format string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := name
	if format != "" {
		c += " " + fmt.Sprintf(format, args...)
	}
	f.calls = append(f.calls, c)
	return f.fail[name]
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name || len(c) > len(name) && c[:len(name)+1] == name+" " {
			n++
		}
	}
	return n
}

func (f *fakeController) raise(e evt.Event) {
	f.sink(e)
}

func (f *fakeController) InitController() error { return f.record("InitController", "") }
func (f *fakeController) InitStack() error      { return f.record("InitStack", "") }
func (f *fakeController) RegisterCallbacks(s controller.Sink) error {
	f.sink = s
	return f.record("RegisterCallbacks", "")
}
func (f *fakeController) SetMTU(mtu int) error { return f.record("SetMTU", "%d", mtu) }
func (f *fakeController) Deinit() error {
	err := f.record("Deinit", "")
	if f.onDeinit != nil {
		f.onDeinit()
	}
	return err
}

func (f *fakeController) Connect(addr blecore.Addr) error { return f.record("Connect", "%v", addr) }
func (f *fakeController) Disconnect(handle uint16) error  { return f.record("Disconnect", "%04X", handle) }

func (f *fakeController) DiscoverServices(handle uint16, filter blecore.UUID) error {
	return f.record("DiscoverServices", "%04X %v", handle, filter)
}
func (f *fakeController) DiscoverCharacteristics(handle uint16, svc blecore.Service, filter blecore.UUID) error {
	return f.record("DiscoverCharacteristics", "%04X %v", handle, svc.UUID)
}
func (f *fakeController) Read(handle, attr uint16) error {
	return f.record("Read", "%04X %04X", handle, attr)
}
func (f *fakeController) Write(handle, attr uint16, value []byte) error {
	return f.record("Write", "%04X %04X %X", handle, attr, value)
}
func (f *fakeController) Subscribe(handle, cccd uint16, enable bool) error {
	return f.record("Subscribe", "%04X %04X %v", handle, cccd, enable)
}
func (f *fakeController) StartBonding(handle uint16, forceRepair bool) error {
	return f.record("StartBonding", "%04X %v", handle, forceRepair)
}
func (f *fakeController) SendPasskey(handle uint16, passkey string) error {
	return f.record("SendPasskey", "%04X %s", handle, passkey)
}
func (f *fakeController) SetAdvertisingData(ad, sr []byte) error {
	return f.record("SetAdvertisingData", "%X %X", ad, sr)
}
func (f *fakeController) SetAdvertising(enable bool, interval uint16) error {
	return f.record("SetAdvertising", "%v %04X", enable, interval)
}
func (f *fakeController) SetScanning(enable, active bool) error {
	return f.record("SetScanning", "%v %v", enable, active)
}
func (f *fakeController) PublishServices(svcs []blecore.Service, chars []blecore.Characteristic) error {
	return f.record("PublishServices", "%d %d", len(svcs), len(chars))
}
func (f *fakeController) RespondRead(handle, attr uint16, value []byte) error {
	return f.record("RespondRead", "%04X %04X %X", handle, attr, value)
}
func (f *fakeController) Notify(handle, attr uint16, value []byte, indicate bool) error {
	return f.record("Notify", "%04X %04X %X %v", handle, attr, value, indicate)
}

// memBonds is an in-memory bond store.
type memBonds struct {
	m map[string]blecore.BondInfo
}

func newMemBonds() *memBonds { return &memBonds{m: map[string]blecore.BondInfo{}} }

func (b *memBonds) Find(addr string) (blecore.BondInfo, error) {
	bi, ok := b.m[addr]
	if !ok {
		return nil, errors.New("not found")
	}
	return bi, nil
}
func (b *memBonds) Save(addr string, bi blecore.BondInfo) error { b.m[addr] = bi; return nil }
func (b *memBonds) Exists(addr string) bool                     { _, ok := b.m[addr]; return ok }
func (b *memBonds) Delete(addr string) error                    { delete(b.m, addr); return nil }

// memCache is an in-memory gatt cache.
type memCache struct {
	m map[blecore.Addr]blecore.Profile
}

func (c *memCache) Store(a blecore.Addr, p blecore.Profile, replace bool) error {
	c.m[a] = p
	return nil
}
func (c *memCache) Load(a blecore.Addr) (blecore.Profile, error) {
	p, ok := c.m[a]
	if !ok {
		return blecore.Profile{}, errors.New("not cached")
	}
	return p, nil
}
func (c *memCache) Clear() error { c.m = map[blecore.Addr]blecore.Profile{}; return nil }

// recorder collects completions and unsolicited events.
type recorder struct {
	results []pending.Result
	events  []evt.Event
}

func (r *recorder) cb(res pending.Result) { r.results = append(r.results, res) }
func (r *recorder) on(e evt.Event)        { r.events = append(r.events, e) }

const (
	peerAddr  = blecore.Addr("aa:bb:cc:dd:ee:01")
	peerAddr2 = blecore.Addr("aa:bb:cc:dd:ee:02")
)

func newTestHost(t *testing.T, opts ...blecore.Option) (*Host, *fakeController, *recorder) {
	t.Helper()
	f := newFakeController()
	h, err := New(f, opts...)
	require.NoError(t, err)
	require.NoError(t, h.Init())
	r := &recorder{}
	h.OnEvent(r.on)
	return h, f, r
}

// connectPeripheral raises an incoming link.
func connectPeripheral(t *testing.T, h *Host, f *fakeController, handle uint16) {
	t.Helper()
	f.raise(evt.Event{Kind: evt.Connected, Handle: handle, Role: blecore.RolePeripheral, Addr: peerAddr2, MTU: 23})
	h.ExecPending()
	require.True(t, h.HasPeripheralConnection())
}

// connectCentral runs a central connect to completion.
func connectCentral(t *testing.T, h *Host, f *fakeController, handle uint16, addr blecore.Addr) {
	t.Helper()
	task, err := h.Connect(addr, nil)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.Connected, Handle: handle, Role: blecore.RoleCentral, Addr: addr, MTU: 23})
	h.ExecPending()
	res, ok := task.Result()
	require.True(t, ok)
	require.NoError(t, res.Err)
	require.Equal(t, handle, res.Conn)
}

// discover fills the remote table of a central link with a heart rate service.
func discover(t *testing.T, h *Host, f *fakeController, handle uint16) {
	t.Helper()
	_, err := h.DiscoverServices(handle, blecore.UUID{}, nil)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.ServiceDiscovered, Handle: handle, Service: blecore.Service{UUID: hrs, Handle: 1, End: 6}})
	f.raise(evt.Event{Kind: evt.DiscoveryComplete, Handle: handle, Op: blecore.OpServiceDiscovery, Status: evt.StatusAttrNotFound})
	h.ExecPending()

	_, err = h.DiscoverCharacteristics(handle, hrs, blecore.UUID{}, nil)
	require.NoError(t, err)
	f.raise(evt.Event{Kind: evt.CharacteristicDiscovered, Handle: handle, Characteristic: hrmChar})
	f.raise(evt.Event{Kind: evt.CharacteristicDiscovered, Handle: handle, Characteristic: cpChar})
	f.raise(evt.Event{Kind: evt.DiscoveryComplete, Handle: handle, Op: blecore.OpCharacteristicDiscovery})
	h.ExecPending()
}

var (
	hrs     = blecore.UUID16(0x180D)
	dis     = blecore.UUID16(0x180A)
	hrm     = blecore.UUID16(0x2A37)
	cp      = blecore.UUID16(0x2A39)
	hrmChar = blecore.Characteristic{UUID: hrm, Service: hrs, Handle: 2, ValueHandle: 3, CCCD: 4, Property: blecore.CharNotify}
	cpChar  = blecore.Characteristic{UUID: cp, Service: hrs, Handle: 5, ValueHandle: 6, Property: blecore.CharWrite}
)
