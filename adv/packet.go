// Package adv builds advertising payloads and decodes scan reports.
// Refer to Supplement to Bluetooth Core Specification | CSSv6, Part A.
package adv

import (
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// MaxEIRPacketLength is the maximum allowed AdvertisingPacket and ScanResponsePacket length.
const MaxEIRPacketLength = 31

var (
	// ErrNotFit indicates the field does not fit into the packet.
	ErrNotFit = errors.New("field does not fit in packet")
	// ErrInvalid indicates a malformed field.
	ErrInvalid = errors.New("invalid field")
)

// Advertising flags.
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagLEOnly              = 0x04
)

// Packet is an advertising payload or scan response under construction.
type Packet struct {
	b []byte
}

// NewPacket returns a packet built from fields.
func NewPacket(fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, MaxEIRPacketLength)}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Bytes returns the encoded packet.
func (p *Packet) Bytes() []byte {
	return p.b
}

// Len returns the encoded length.
func (p *Packet) Len() int {
	return len(p.b)
}

// Field is an advertising field which can be appended to a packet.
type Field func(p *Packet) error

// Append appends a field to the packet. It returns ErrNotFit if the field
// doesn't fit into the packet, and leaves the packet intact.
func (p *Packet) Append(f Field) error {
	return f(p)
}

func (p *Packet) append(typ byte, b []byte) error {
	if p.Len()+1+1+len(b) > MaxEIRPacketLength {
		return ErrNotFit
	}
	p.b = append(p.b, byte(len(b)+1), typ)
	p.b = append(p.b, b...)
	return nil
}

// Raw appends pre-encoded records.
func Raw(b []byte) Field {
	return func(p *Packet) error {
		if p.Len()+len(b) > MaxEIRPacketLength {
			return ErrNotFit
		}
		p.b = append(p.b, b...)
		return nil
	}
}

// Flags is the advertising flags record.
func Flags(f byte) Field {
	return func(p *Packet) error {
		return p.append(types.flags, []byte{f})
	}
}

// ShortName is a shortened local name.
func ShortName(n string) Field {
	return func(p *Packet) error {
		return p.append(types.nameshort, []byte(n))
	}
}

// CompleteName is a complete local name.
func CompleteName(n string) Field {
	return func(p *Packet) error {
		return p.append(types.namecomp, []byte(n))
	}
}

// ManufacturerData is manufacturer specific data prefixed with the company id.
func ManufacturerData(id uint16, b []byte) Field {
	return func(p *Packet) error {
		d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
		return p.append(types.mfgdata, d)
	}
}

// TxPower is the advertised transmit power level.
func TxPower(dbm int8) Field {
	return func(p *Packet) error {
		return p.append(types.txpwr, []byte{byte(dbm)})
	}
}

// AllUUID lists complete service UUIDs. All of them must have the same width.
func AllUUID(uu ...blecore.UUID) Field {
	return func(p *Packet) error {
		return p.appendUUIDs(uu, types.uuid16comp, types.uuid32comp, types.uuid128comp)
	}
}

// SomeUUID lists incomplete service UUIDs. All of them must have the same width.
func SomeUUID(uu ...blecore.UUID) Field {
	return func(p *Packet) error {
		return p.appendUUIDs(uu, types.uuid16inc, types.uuid32inc, types.uuid128inc)
	}
}

// ServiceData16 is service data for a 16 bit service uuid.
func ServiceData16(id uint16, b []byte) Field {
	return func(p *Packet) error {
		d := append(blecore.UUID16(id).Bytes(), b...)
		return p.append(types.svc16, d)
	}
}

func (p *Packet) appendUUIDs(uu []blecore.UUID, t16, t32, t128 byte) error {
	if len(uu) == 0 {
		return nil
	}
	w := uu[0].Len()
	var b []byte
	for _, u := range uu {
		if u.Len() != w {
			return errors.Wrap(ErrInvalid, "mixed uuid widths")
		}
		b = append(b, u.Bytes()...)
	}
	switch w {
	case 2:
		return p.append(t16, b)
	case 4:
		return p.append(t32, b)
	default:
		return p.append(t128, b)
	}
}

// Payloads builds the advertising data and scan response used by the host:
// flags, service UUIDs and manufacturer data go in the advertisement, the
// complete name goes in the scan response, shortened when it does not fit.
func Payloads(name string, uuids []blecore.UUID, mfgID uint16, mfg []byte) (ad, sr []byte, err error) {
	a, err := NewPacket(Flags(FlagGeneralDiscoverable | FlagLEOnly))
	if err != nil {
		return nil, nil, err
	}
	if len(uuids) > 0 {
		if err := a.Append(AllUUID(uuids...)); err != nil {
			return nil, nil, errors.Wrap(err, "service uuids")
		}
	}
	if len(mfg) > 0 {
		if err := a.Append(ManufacturerData(mfgID, mfg)); err != nil {
			return nil, nil, errors.Wrap(err, "manufacturer data")
		}
	}

	s, _ := NewPacket()
	if name != "" {
		if err := s.Append(CompleteName(name)); err == ErrNotFit {
			short := name[:MaxEIRPacketLength-2]
			if err := s.Append(ShortName(short)); err != nil {
				return nil, nil, errors.Wrap(err, "local name")
			}
		}
	}
	return a.Bytes(), s.Bytes(), nil
}
