// Package gatt holds attribute handle tables for remote and local GATT databases.
package gatt

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// Entry is one characteristic with its cached value.
type Entry struct {
	Char       blecore.Characteristic
	Value      []byte
	Subscribed bool
	Indicate   bool
}

// Table maps attribute handles to descriptor records. A table is filled
// incrementally during discovery, or all at once for a local database.
type Table struct {
	mu       sync.RWMutex
	services []blecore.Service
	chars    map[uint16]*Entry // by value handle
	cccds    map[uint16]uint16 // cccd handle -> value handle
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		chars: make(map[uint16]*Entry),
		cccds: make(map[uint16]uint16),
	}
}

// AddService records a service, replacing one with the same start handle.
func (t *Table) AddService(s blecore.Service) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.services {
		if t.services[i].Handle == s.Handle {
			t.services[i] = s
			return
		}
	}
	t.services = append(t.services, s)
	sort.Slice(t.services, func(i, j int) bool { return t.services[i].Handle < t.services[j].Handle })
}

// AddCharacteristic records a characteristic keyed by its value handle.
func (t *Table) AddCharacteristic(c blecore.Characteristic) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.chars[c.ValueHandle]
	if !ok {
		e = &Entry{}
		t.chars[c.ValueHandle] = e
	}
	e.Char = c
	if c.CCCD != 0 {
		t.cccds[c.CCCD] = c.ValueHandle
	}
}

// Services returns the services ordered by handle.
func (t *Table) Services() []blecore.Service {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]blecore.Service, len(t.services))
	copy(out, t.services)
	return out
}

// Service finds a service by UUID.
func (t *Table) Service(u blecore.UUID) (blecore.Service, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.services {
		if s.UUID.Equal(u) {
			return s, nil
		}
	}
	return blecore.Service{}, errors.Wrapf(blecore.ErrNotFound, "service %v", u)
}

// ServiceAt finds the service whose range starts at handle.
func (t *Table) ServiceAt(handle uint16) (blecore.Service, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.services {
		if s.Handle == handle {
			return s, nil
		}
	}
	return blecore.Service{}, errors.Wrapf(blecore.ErrNotFound, "service at %04X", handle)
}

// Characteristic finds a characteristic by value handle.
func (t *Table) Characteristic(valueHandle uint16) (blecore.Characteristic, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.chars[valueHandle]
	if !ok {
		return blecore.Characteristic{}, errors.Wrapf(blecore.ErrNotFound, "characteristic %04X", valueHandle)
	}
	return e.Char, nil
}

// Find looks a characteristic up by service and characteristic UUID. When a
// service holds the UUID more than once the lowest value handle wins.
func (t *Table) Find(svc, chr blecore.UUID) (blecore.Characteristic, error) {
	for _, c := range t.Characteristics() {
		if c.Service.Equal(svc) && c.UUID.Equal(chr) {
			return c, nil
		}
	}
	return blecore.Characteristic{}, errors.Wrapf(blecore.ErrNotFound, "characteristic %v/%v", svc, chr)
}

// ByCCCD maps a client configuration descriptor handle to its characteristic.
func (t *Table) ByCCCD(cccd uint16) (blecore.Characteristic, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vh, ok := t.cccds[cccd]
	if !ok {
		return blecore.Characteristic{}, errors.Wrapf(blecore.ErrNotFound, "cccd %04X", cccd)
	}
	return t.chars[vh].Char, nil
}

// Characteristics returns all characteristics ordered by value handle.
func (t *Table) Characteristics() []blecore.Characteristic {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]blecore.Characteristic, 0, len(t.chars))
	for _, e := range t.chars {
		out = append(out, e.Char)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValueHandle < out[j].ValueHandle })
	return out
}

// Value returns a copy of the cached value.
func (t *Table) Value(valueHandle uint16) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.chars[valueHandle]
	if !ok {
		return nil, errors.Wrapf(blecore.ErrNotFound, "characteristic %04X", valueHandle)
	}
	return append([]byte(nil), e.Value...), nil
}

// SetValue replaces the cached value.
func (t *Table) SetValue(valueHandle uint16, v []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.chars[valueHandle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "characteristic %04X", valueHandle)
	}
	e.Value = append([]byte(nil), v...)
	return nil
}

// SetSubscribed records the CCCD state of a characteristic.
func (t *Table) SetSubscribed(valueHandle uint16, on, indicate bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.chars[valueHandle]
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "characteristic %04X", valueHandle)
	}
	e.Subscribed = on
	e.Indicate = on && indicate
	return nil
}

// Entry returns a copy of the full record.
func (t *Table) Entry(valueHandle uint16) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.chars[valueHandle]
	if !ok {
		return Entry{}, false
	}
	cp := *e
	cp.Value = append([]byte(nil), e.Value...)
	return cp, true
}

// Clear empties the table.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services = nil
	t.chars = make(map[uint16]*Entry)
	t.cccds = make(map[uint16]uint16)
}

// Profile exports the layout for caching.
func (t *Table) Profile() blecore.Profile {
	return blecore.Profile{
		Services:        t.Services(),
		Characteristics: t.Characteristics(),
	}
}

// Load replaces the table contents with a cached profile.
func (t *Table) Load(p blecore.Profile) {
	t.Clear()
	for _, s := range p.Services {
		t.AddService(s)
	}
	for _, c := range p.Characteristics {
		t.AddCharacteristic(c)
	}
}
