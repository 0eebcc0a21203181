package smp

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

// btle key id and f5 salt [Vol 3, Part H, 2.2.7]
var (
	keyIDBtle = []byte{0x65, 0x6c, 0x74, 0x62}
	f5Salt    = []byte{0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c}
)

// F4 is the confirm value generation function.
func F4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, errors.New("f4: length error")
	}

	m := []byte{z}
	m = append(m, v...)
	m = append(m, u...)
	return aesCMAC(x, m)
}

// F5 derives the MacKey and LTK from the DHKey w, both nonces and both
// 7 byte typed addresses.
func F5(w, n1, n2, a1, a2 []byte) (macKey, ltk []byte, err error) {
	switch {
	case len(w) != 32:
		return nil, nil, errors.New("f5: length error w")
	case len(n1) != 16:
		return nil, nil, errors.New("f5: length error n1")
	case len(n2) != 16:
		return nil, nil, errors.New("f5: length error n2")
	case len(a1) != 7:
		return nil, nil, errors.New("f5: length error a1")
	case len(a2) != 7:
		return nil, nil, errors.New("f5: length error a2")
	}

	t, err := aesCMAC(f5Salt, w)
	if err != nil {
		return nil, nil, errors.Wrap(err, "f5 key")
	}

	m := []byte{0x00, 0x01} // length, 256 bits
	m = append(m, a2...)
	m = append(m, a1...)
	m = append(m, n2...)
	m = append(m, n1...)
	m = append(m, keyIDBtle...)
	m = append(m, 0x00) // counter

	if macKey, err = aesCMAC(t, m); err != nil {
		return nil, nil, errors.Wrap(err, "f5 mackey")
	}
	m[len(m)-1] = 0x01
	if ltk, err = aesCMAC(t, m); err != nil {
		return nil, nil, errors.Wrap(err, "f5 ltk")
	}
	return macKey, ltk, nil
}

// G2 is the numeric comparison value generation function.
func G2(u, v, x, y []byte) (uint32, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 || len(y) != 16 {
		return 0, errors.New("g2: length error")
	}

	m := append([]byte(nil), y...)
	m = append(m, v...)
	m = append(m, u...)

	h, err := aesCMAC(x, m)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(h[:4]) % 1000000, nil
}

// AddrLE builds the 7 byte typed address used by f5 and f6.
func AddrLE(addr []byte, random bool) []byte {
	out := SwapBuf(addr)
	if random {
		return append(out, 0x01)
	}
	return append(out, 0x00)
}

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(SwapBuf(key))
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}

	mMac.Write(SwapBuf(msg))
	return SwapBuf(mMac.Sum(nil)), nil
}

// SwapBuf returns a reversed copy of in.
func SwapBuf(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}
	return a
}
