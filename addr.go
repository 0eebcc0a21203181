package blecore

import (
	"encoding/hex"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// Addr is a 48-bit device address in its colon separated form.
type Addr string

// ParseAddr validates s and normalises it to lower case.
func ParseAddr(s string) (Addr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", errors.Wrapf(ErrInvalidArgument, "address %q", s)
	}
	return Addr(strings.ToLower(hw.String())), nil
}

func (a Addr) String() string {
	return string(a)
}

// Bytes returns the six address octets, most significant first.
func (a Addr) Bytes() []byte {
	out, err := hex.DecodeString(strings.Replace(a.String(), ":", "", -1))
	if err != nil {
		return nil
	}
	return out
}

// Key is the 12 character form used by the bond store.
func (a Addr) Key() string {
	return hex.EncodeToString(a.Bytes())
}
