// Package smp implements the LE Secure Connections key agreement used when
// bonding: P-256 ECDH and the AES-CMAC based f4, f5 and g2 functions.
//
// Values are little endian, as carried in SMP PDUs.
package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/wsddn/go-ecdh"
)

// ECDHKeys is a P-256 key pair.
type ECDHKeys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

// GenerateKeys returns a fresh key pair.
func GenerateKeys() (*ECDHKeys, error) {
	var err error
	kp := ECDHKeys{}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	kp.private, kp.public, err = e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate p256 keys")
	}
	return &kp, nil
}

// Public returns the public half.
func (k *ECDHKeys) Public() crypto.PublicKey {
	return k.public
}

// UnmarshalPublicKey decodes the 64 byte X||Y form of a pairing public key PDU.
func UnmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != 64 {
		return nil, false
	}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	r := append([]byte{0x04}, SwapBuf(b[:32])...)
	r = append(r, SwapBuf(b[32:])...)
	return e.Unmarshal(r)
}

// MarshalPublicKeyXY encodes k as X||Y.
func MarshalPublicKeyXY(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	ba = ba[1:] // uncompressed point header
	out := SwapBuf(ba[:32])
	return append(out, SwapBuf(ba[32:])...)
}

// MarshalPublicKeyX encodes the X coordinate of k.
func MarshalPublicKeyX(k crypto.PublicKey) []byte {
	return MarshalPublicKeyXY(k)[:32]
}

// GenerateSecret computes the DHKey shared by prv's owner and pub's owner.
func GenerateSecret(prv *ECDHKeys, pub crypto.PublicKey) ([]byte, error) {
	e := ecdh.NewEllipticECDH(elliptic.P256())
	b, err := e.GenerateSharedSecret(prv.private, pub)
	if err != nil {
		return nil, errors.Wrap(err, "dhkey")
	}
	return SwapBuf(b), nil
}
