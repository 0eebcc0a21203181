package blecore

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UUID is a Bluetooth UUID held in its 128-bit canonical (big endian) form.
// 16 and 32-bit UUIDs are expanded against the Bluetooth base UUID.
// The zero value means "no UUID", which discovery treats as "match all".
type UUID uuid.UUID

var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

// UUID16 expands a 16-bit assigned number.
func UUID16(v uint16) UUID {
	u := baseUUID
	binary.BigEndian.PutUint16(u[2:], v)
	return UUID(u)
}

// UUID32 expands a 32-bit assigned number.
func UUID32(v uint32) UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[0:], v)
	return UUID(u)
}

// ParseUUID accepts "180d", "0x180d", "0000180d" or the dashed 128-bit form.
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return UUID{}, errors.Wrapf(ErrInvalidArgument, "uuid %q", s)
		}
		return UUID16(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return UUID{}, errors.Wrapf(ErrInvalidArgument, "uuid %q", s)
		}
		return UUID32(uint32(v)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, errors.Wrapf(ErrInvalidArgument, "uuid %q: %v", s, err)
	}
	return UUID(u), nil
}

// MustParseUUID is ParseUUID that panics on error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UUIDFromBytes decodes a little endian UUID as carried in ATT PDUs and AD structures.
func UUIDFromBytes(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return UUID32(binary.LittleEndian.Uint32(b)), nil
	case 16:
		var u UUID
		for i := range b {
			u[15-i] = b[i]
		}
		return u, nil
	}
	return UUID{}, errors.Wrapf(ErrInvalidArgument, "uuid length %d", len(b))
}

// IsZero reports whether u is unset.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// Is16Bit reports whether u is a 16-bit assigned number.
func (u UUID) Is16Bit() bool {
	return u[0] == 0 && u[1] == 0 && [12]byte(u[4:]) == [12]byte(baseUUID[4:])
}

// Equal reports whether two UUIDs are the same.
func (u UUID) Equal(o UUID) bool {
	return u == o
}

// Len is the number of bytes used on the air.
func (u UUID) Len() int {
	if u.Is16Bit() {
		return 2
	}
	return 16
}

// Bytes returns the little endian air representation.
func (u UUID) Bytes() []byte {
	if u.Is16Bit() {
		return []byte{u[3], u[2]}
	}
	b := make([]byte, 16)
	for i := range b {
		b[i] = u[15-i]
	}
	return b
}

func (u UUID) String() string {
	if u.Is16Bit() {
		return fmt.Sprintf("%04x", binary.BigEndian.Uint16(u[2:]))
	}
	return uuid.UUID(u).String()
}

func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UUID) UnmarshalText(b []byte) error {
	v, err := ParseUUID(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
