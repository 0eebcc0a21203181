// Package sim is a software controller that loops requests back as events.
// Remote devices are described by Peer values; the peer side of a link is
// driven through the methods in peer.go.
package sim

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/controller"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/gatt"
)

// DefaultAddr is the local address when Config.Addr is empty.
const DefaultAddr blecore.Addr = "c0:ff:ee:00:00:01"

// Status codes carried by completion events.
const (
	attInvalidHandle  = 0x01
	attReadNotPermit  = 0x02
	attWriteNotPermit = 0x03
	smpDHKeyCheckFail = 0x0B
	hciPageTimeout    = 0x04
)

// connection handles are 12 bits, 0x0F00 and up are reserved
const (
	firstConnHandle = 0x0040
	lastConnHandle  = 0x0EFF
)

// Peer is a simulated remote device.
type Peer struct {
	Addr     blecore.Addr
	Name     string
	RSSI     int8
	MTU      int
	Services []blecore.ServiceDef

	// Passkey makes bonding wait for a matching SendPasskey.
	Passkey string
}

// Config describes the simulated radio neighbourhood.
type Config struct {
	Addr    blecore.Addr
	Peers   []Peer
	Latency time.Duration
}

type peer struct {
	Peer
	db *gatt.Table
}

type link struct {
	handle uint16
	role   blecore.Role
	addr   blecore.Addr
	peer   *peer
	ltk    []byte
	pair   *pairing
}

var _ controller.Controller = (*Controller)(nil)

// Controller implements controller.Controller in memory.
type Controller struct {
	mu  sync.Mutex
	log blecore.Logger

	addr    blecore.Addr
	latency time.Duration
	peers   map[blecore.Addr]*peer

	up      bool
	stack   bool
	mtu     int
	links   map[uint16]*link
	next    uint16
	adv     bool
	scan    bool
	ad, sr  []byte
	local   *gatt.Table
	fail    map[blecore.OpKind]uint32
	sent    []Outbound
	reads   map[uint16][]uint16

	qmu  sync.Mutex
	sink controller.Sink
	q    []evt.Event
	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New builds a controller for cfg. Peer databases are laid out the way a
// local GATT server would be.
func New(cfg Config) (*Controller, error) {
	c := &Controller{
		log:     blecore.PkgLogger("sim"),
		addr:    cfg.Addr,
		latency: cfg.Latency,
		peers:   make(map[blecore.Addr]*peer),
		links:   make(map[uint16]*link),
		fail:    make(map[blecore.OpKind]uint32),
		reads:   make(map[uint16][]uint16),
		next:    firstConnHandle,
		mtu:     23,
		wake:    make(chan struct{}, 1),
	}
	if c.addr == "" {
		c.addr = DefaultAddr
	}
	for _, p := range cfg.Peers {
		if err := c.AddPeer(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddPeer places a device within range.
func (c *Controller) AddPeer(p Peer) error {
	a, err := blecore.ParseAddr(p.Addr.String())
	if err != nil {
		return err
	}
	db, err := gatt.BuildLocal(p.Services)
	if err != nil {
		return errors.Wrapf(err, "peer %v", a)
	}
	p.Addr = a

	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[a] = &peer{Peer: p, db: db}
	return nil
}

// Addr is the local device address.
func (c *Controller) Addr() blecore.Addr {
	return c.addr
}

// FailNext makes the next request of kind fail asynchronously with status.
func (c *Controller) FailNext(kind blecore.OpKind, status uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[kind] = status
}

func (c *Controller) InitController() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = true
	c.log.Debugf("controller up, address %v", c.addr)
	return nil
}

func (c *Controller) InitStack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.up {
		return errors.Wrap(blecore.ErrInvalidState, "controller not initialised")
	}
	c.stack = true
	return nil
}

func (c *Controller) RegisterCallbacks(s controller.Sink) error {
	if s == nil {
		return errors.Wrap(blecore.ErrInvalidArgument, "nil sink")
	}
	c.qmu.Lock()
	defer c.qmu.Unlock()
	c.sink = s
	if c.quit == nil {
		c.quit = make(chan struct{})
		c.done = make(chan struct{})
		go c.loop(c.quit, c.done)
	}
	return nil
}

func (c *Controller) SetMTU(mtu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mtu = mtu
	return nil
}

// Deinit drops every link and queued event without reporting them.
func (c *Controller) Deinit() error {
	c.qmu.Lock()
	quit, done := c.quit, c.done
	c.quit, c.done = nil, nil
	c.q = nil
	c.sink = nil
	c.qmu.Unlock()
	if quit != nil {
		close(quit)
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.up, c.stack = false, false
	c.links = make(map[uint16]*link)
	c.adv, c.scan = false, false
	c.local = nil
	c.reads = make(map[uint16][]uint16)
	return nil
}

func (c *Controller) loop(quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case <-c.wake:
		}
		for {
			c.qmu.Lock()
			q, sink := c.q, c.sink
			c.q = nil
			c.qmu.Unlock()
			if len(q) == 0 || sink == nil {
				break
			}
			for _, e := range q {
				if c.latency > 0 {
					select {
					case <-quit:
						return
					case <-time.After(c.latency):
					}
				}
				sink(e)
			}
		}
	}
}

// deliver queues events for the callback goroutine, preserving order.
func (c *Controller) deliver(ee ...evt.Event) {
	c.qmu.Lock()
	c.q = append(c.q, ee...)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// failed reports and clears an injected failure for kind.
func (c *Controller) failed(kind blecore.OpKind, handle uint16) bool {
	status, ok := c.fail[kind]
	if !ok {
		return false
	}
	delete(c.fail, kind)
	c.deliver(evt.Event{Kind: evt.ControllerError, Op: kind, Handle: handle, Status: status})
	return true
}

func (c *Controller) requireStack() error {
	if !c.up || !c.stack {
		return errors.Wrap(blecore.ErrInvalidState, "stack not initialised")
	}
	return nil
}

func (c *Controller) link(handle uint16) (*link, error) {
	l, ok := c.links[handle]
	if !ok {
		return nil, errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	return l, nil
}

func (c *Controller) allocHandle() uint16 {
	for {
		h := c.next
		c.next++
		if c.next > lastConnHandle {
			c.next = firstConnHandle
		}
		if _, used := c.links[h]; !used {
			return h
		}
	}
}

func (c *Controller) negotiated(p *peer) int {
	mtu := c.mtu
	if p != nil && p.MTU > 0 && p.MTU < mtu {
		mtu = p.MTU
	}
	if mtu < 23 {
		mtu = 23
	}
	return mtu
}

func (c *Controller) Connect(addr blecore.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	if c.failed(blecore.OpConnect, blecore.NoHandle) {
		return nil
	}

	p, ok := c.peers[addr]
	if !ok {
		c.log.Debugf("connect %v: no such peer", addr)
		c.deliver(evt.Event{Kind: evt.Connected, Handle: blecore.NoHandle, Role: blecore.RoleCentral, Addr: addr, Status: hciPageTimeout})
		return nil
	}
	l := &link{handle: c.allocHandle(), role: blecore.RoleCentral, addr: addr, peer: p}
	c.links[l.handle] = l
	c.deliver(evt.Event{Kind: evt.Connected, Handle: l.handle, Role: blecore.RoleCentral, Addr: addr, MTU: c.negotiated(p)})
	return nil
}

func (c *Controller) Disconnect(handle uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	if _, err := c.link(handle); err != nil {
		return err
	}
	if c.failed(blecore.OpDisconnect, handle) {
		return nil
	}
	c.remove(c.links[handle])
	c.deliver(evt.Event{Kind: evt.Disconnected, Handle: handle, Reason: evt.ReasonLocalHost})
	return nil
}

func (c *Controller) SetAdvertisingData(ad, sr []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ad = append([]byte(nil), ad...)
	c.sr = append([]byte(nil), sr...)
	return nil
}

// AdvertisingData returns the payloads last handed to the controller.
func (c *Controller) AdvertisingData() (ad, sr []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.ad...), append([]byte(nil), c.sr...)
}

func (c *Controller) SetAdvertising(enable bool, interval uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	if c.failed(blecore.OpAdvertiseToggle, blecore.NoHandle) {
		return nil
	}
	c.adv = enable
	c.log.Debugf("advertising %v, interval %d", enable, interval)
	c.deliver(evt.Event{Kind: evt.AdvertisingStateChanged, Handle: blecore.NoHandle, Active: enable})
	return nil
}

// SetScanning reports every peer once when the scan starts.
func (c *Controller) SetScanning(enable, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	if c.failed(blecore.OpScanToggle, blecore.NoHandle) {
		return nil
	}
	c.scan = enable
	c.deliver(evt.Event{Kind: evt.ScanStateChanged, Handle: blecore.NoHandle, Active: enable})
	if !enable {
		return nil
	}
	for _, p := range c.sortedPeers() {
		e, err := report(p, active)
		if err != nil {
			c.log.Warnf("advertising payload of %v: %v", p.Addr, err)
			continue
		}
		c.deliver(e)
	}
	return nil
}

func (c *Controller) sortedPeers() []*peer {
	out := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (c *Controller) PublishServices(svcs []blecore.Service, chars []blecore.Characteristic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStack(); err != nil {
		return err
	}
	t := gatt.NewTable()
	for _, s := range svcs {
		t.AddService(s)
	}
	for _, ch := range chars {
		t.AddCharacteristic(ch)
	}
	c.local = t
	return nil
}
