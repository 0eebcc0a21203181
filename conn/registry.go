// Package conn tracks the active links of the local device.
package conn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// State of a link. A link that is not in the registry is Idle.
type State uint8

const (
	Idle State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// DefaultMTU is the ATT MTU before any exchange.
const DefaultMTU = 23

// Conn is a snapshot of one link.
type Conn struct {
	Handle   uint16
	Role     blecore.Role
	State    State
	Addr     blecore.Addr
	MTU      int
	Security blecore.SecurityLevel
}

// Registry holds the links keyed by connection handle. Handles are reused by
// the controller once a link is gone.
type Registry struct {
	mu         sync.RWMutex
	conns      map[uint16]*Conn
	maxCentral int

	// central connect accepted by the controller, handle not known yet
	dialing *Conn
}

// NewRegistry returns a registry allowing maxCentral simultaneous central links.
func NewRegistry(maxCentral int) *Registry {
	if maxCentral < 1 {
		maxCentral = 1
	}
	return &Registry{
		conns:      make(map[uint16]*Conn),
		maxCentral: maxCentral,
	}
}

// MaxCentral is the configured central link bound.
func (r *Registry) MaxCentral() int {
	return r.maxCentral
}

// BeginConnect records an outgoing central connection attempt.
func (r *Registry) BeginConnect(addr blecore.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dialing != nil {
		return errors.Wrapf(blecore.ErrBusy, "already connecting to %v", r.dialing.Addr)
	}
	if r.count(blecore.RoleCentral) >= r.maxCentral {
		return errors.Wrapf(blecore.ErrInvalidState, "all %d central links in use", r.maxCentral)
	}
	for _, c := range r.conns {
		if c.Addr == addr {
			return errors.Wrapf(blecore.ErrInvalidState, "already connected to %v", addr)
		}
	}
	r.dialing = &Conn{Handle: blecore.NoHandle, Role: blecore.RoleCentral, State: Connecting, Addr: addr, MTU: DefaultMTU}
	return nil
}

// AbortConnect forgets the outgoing attempt.
func (r *Registry) AbortConnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialing = nil
}

// Dialing returns the address of the outgoing attempt, if any.
func (r *Registry) Dialing() (blecore.Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dialing == nil {
		return "", false
	}
	return r.dialing.Addr, true
}

// Establish adds a link reported by the controller.
func (r *Registry) Establish(handle uint16, role blecore.Role, addr blecore.Addr, mtu int) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handle == blecore.NoHandle {
		return Conn{}, errors.Wrap(blecore.ErrInvalidArgument, "invalid connection handle")
	}
	if _, ok := r.conns[handle]; ok {
		return Conn{}, errors.Wrapf(blecore.ErrInvalidState, "handle %04X already in use", handle)
	}

	switch role {
	case blecore.RolePeripheral:
		if r.count(blecore.RolePeripheral) > 0 {
			return Conn{}, errors.Wrap(blecore.ErrInvalidState, "peripheral link already active")
		}
	case blecore.RoleCentral:
		r.dialing = nil
		if r.count(blecore.RoleCentral) >= r.maxCentral {
			return Conn{}, errors.Wrapf(blecore.ErrInvalidState, "all %d central links in use", r.maxCentral)
		}
	default:
		return Conn{}, errors.Wrapf(blecore.ErrInvalidArgument, "role %v", role)
	}

	if mtu < DefaultMTU {
		mtu = DefaultMTU
	}
	c := &Conn{
		Handle:   handle,
		Role:     role,
		State:    Connected,
		Addr:     addr,
		MTU:      mtu,
		Security: blecore.SecurityNone,
	}
	r.conns[handle] = c
	return *c, nil
}

// Get returns a snapshot of the link.
func (r *Registry) Get(handle uint16) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[handle]
	if !ok {
		return Conn{}, false
	}
	return *c, true
}

// Require returns the link if it exists and is Connected.
func (r *Registry) Require(handle uint16) (Conn, error) {
	c, ok := r.Get(handle)
	if !ok {
		return Conn{}, errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	if c.State != Connected {
		return Conn{}, errors.Wrapf(blecore.ErrInvalidState, "connection %04X is %v", handle, c.State)
	}
	return c, nil
}

// BeginDisconnect moves a Connected link to Disconnecting.
func (r *Registry) BeginDisconnect(handle uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	if c.State != Connected {
		return errors.Wrapf(blecore.ErrInvalidState, "connection %04X is %v", handle, c.State)
	}
	c.State = Disconnecting
	return nil
}

// RevertDisconnect undoes BeginDisconnect when the controller refused the request.
func (r *Registry) RevertDisconnect(handle uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[handle]; ok && c.State == Disconnecting {
		c.State = Connected
	}
}

func (r *Registry) SetMTU(handle uint16, mtu int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	c.MTU = mtu
	return nil
}

func (r *Registry) SetSecurity(handle uint16, lvl blecore.SecurityLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "connection %04X", handle)
	}
	c.Security = lvl
	return nil
}

// Remove drops the link, returning it to Idle.
func (r *Registry) Remove(handle uint16) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return Conn{}, false
	}
	delete(r.conns, handle)
	return *c, true
}

// Handles returns the active handles in ascending order.
func (r *Registry) Handles() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hh := make([]uint16, 0, len(r.conns))
	for h := range r.conns {
		hh = append(hh, h)
	}
	sort.Slice(hh, func(i, j int) bool { return hh[i] < hh[j] })
	return hh
}

// Reset drops every link and the outgoing attempt.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[uint16]*Conn)
	r.dialing = nil
}

// HasAnyConnection reports whether any link is Connected.
func (r *Registry) HasAnyConnection() bool {
	return r.HasCentralConnection() || r.HasPeripheralConnection()
}

// HasCentralConnection reports whether a central-role link is Connected.
func (r *Registry) HasCentralConnection() bool {
	return r.hasConnected(blecore.RoleCentral)
}

// HasPeripheralConnection reports whether a peripheral-role link is Connected.
func (r *Registry) HasPeripheralConnection() bool {
	return r.hasConnected(blecore.RolePeripheral)
}

// PeripheralHandle returns the handle of the peripheral-role link.
func (r *Registry) PeripheralHandle() (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for h, c := range r.conns {
		if c.Role == blecore.RolePeripheral {
			return h, true
		}
	}
	return blecore.NoHandle, false
}

func (r *Registry) hasConnected(role blecore.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.Role == role && c.State == Connected {
			return true
		}
	}
	return false
}

// count includes links in any state plus the outgoing attempt; callers hold mu.
func (r *Registry) count(role blecore.Role) int {
	n := 0
	for _, c := range r.conns {
		if c.Role == role {
			n++
		}
	}
	if role == blecore.RoleCentral && r.dialing != nil {
		n++
	}
	return n
}
