package gatt

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// maximum attribute handle
const maxHandle = 0xFFFE

// BuildLocal lays out a local database. Handles start at 1: the service
// declaration, then per characteristic its declaration, value and, when it
// can notify or indicate, a client configuration descriptor.
func BuildLocal(defs []blecore.ServiceDef) (*Table, error) {
	t := NewTable()
	next := uint16(1)
	alloc := func() (uint16, error) {
		if next > maxHandle {
			return 0, errors.Wrap(blecore.ErrInvalidArgument, "attribute handles exhausted")
		}
		h := next
		next++
		return h, nil
	}

	for _, sd := range defs {
		if sd.UUID.IsZero() {
			return nil, errors.Wrap(blecore.ErrInvalidArgument, "service without uuid")
		}
		start, err := alloc()
		if err != nil {
			return nil, err
		}
		for _, cd := range sd.Characteristics {
			if cd.UUID.IsZero() {
				return nil, errors.Wrapf(blecore.ErrInvalidArgument, "characteristic without uuid in %v", sd.UUID)
			}
			decl, err := alloc()
			if err != nil {
				return nil, err
			}
			val, err := alloc()
			if err != nil {
				return nil, err
			}
			c := blecore.Characteristic{
				UUID:        cd.UUID,
				Service:     sd.UUID,
				Handle:      decl,
				ValueHandle: val,
				Property:    cd.Property,
			}
			if cd.Property.CanSubscribe() {
				if c.CCCD, err = alloc(); err != nil {
					return nil, err
				}
			}
			t.AddCharacteristic(c)
			if len(cd.Value) > 0 {
				_ = t.SetValue(val, cd.Value)
			}
		}
		t.AddService(blecore.Service{UUID: sd.UUID, Handle: start, End: next - 1})
	}
	return t, nil
}
