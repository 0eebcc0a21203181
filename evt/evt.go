// Package evt defines the asynchronous event feed raised by a controller.
package evt

import (
	"fmt"

	"github.com/rigado/blecore"
)

// Kind tags an Event.
type Kind uint8

const (
	Connected Kind = iota + 1
	Disconnected
	ServiceDiscovered
	CharacteristicDiscovered
	DiscoveryComplete
	ReadComplete
	WriteComplete
	SubscribeComplete
	NotificationReceived
	SecurityChanged
	PasskeyRequest
	AdvertisingStateChanged
	ScanStateChanged
	AdvertisingReport
	PeerRead
	PeerWrite
	MTUChanged
	ControllerError
)

var kindNames = map[Kind]string{
	Connected:                "connected",
	Disconnected:             "disconnected",
	ServiceDiscovered:        "serviceDiscovered",
	CharacteristicDiscovered: "characteristicDiscovered",
	DiscoveryComplete:        "discoveryComplete",
	ReadComplete:             "readComplete",
	WriteComplete:            "writeComplete",
	SubscribeComplete:        "subscribeComplete",
	NotificationReceived:     "notificationReceived",
	SecurityChanged:          "securityChanged",
	PasskeyRequest:           "passkeyRequest",
	AdvertisingStateChanged:  "advertisingStateChanged",
	ScanStateChanged:         "scanStateChanged",
	AdvertisingReport:        "advertisingReport",
	PeerRead:                 "peerRead",
	PeerWrite:                "peerWrite",
	MTUChanged:               "mtuChanged",
	ControllerError:          "controllerError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kk, name := range kindNames {
		if name == string(b) {
			*k = kk
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", string(b))
}

// Status and reason codes referenced by the host.
const (
	StatusSuccess         = 0x00
	StatusAttrNotFound    = 0x0A // ATT: attribute not found, ends a discovery procedure
	StatusConfirmFailed   = 0x04 // SMP: confirm value failed
	ReasonRemoteUser      = 0x13
	ReasonLocalHost       = 0x16
	ReasonConnTimeout     = 0x08
	ReasonCommandDisallow = 0x0C
)

// Event is one controller notification. Which fields are meaningful depends on Kind.
type Event struct {
	Kind   Kind           `json:"kind"`
	Handle uint16         `json:"handle"`
	Status uint32         `json:"status,omitempty"`
	Token  string         `json:"token,omitempty"`
	Op     blecore.OpKind `json:"op,omitempty"`

	Role   blecore.Role `json:"role,omitempty"`
	Addr   blecore.Addr `json:"addr,omitempty"`
	MTU    int          `json:"mtu,omitempty"`
	Reason uint8        `json:"reason,omitempty"`

	Service        blecore.Service        `json:"service,omitempty"`
	Characteristic blecore.Characteristic `json:"characteristic,omitempty"`
	Attr           uint16                 `json:"attr,omitempty"`
	Value          []byte                 `json:"value,omitempty"`
	Indication     bool                   `json:"indication,omitempty"`

	Enabled bool                  `json:"enabled,omitempty"`
	Active  bool                  `json:"active,omitempty"`
	Bonded  bool                  `json:"bonded,omitempty"`
	Level   blecore.SecurityLevel `json:"level,omitempty"`
	RSSI    int8                  `json:"rssi,omitempty"`

	// Err is filled by the host before runtime delivery.
	Err error `json:"-"`
}

// Failed reports whether the event carries a non-zero status.
func (e Event) Failed() bool {
	return e.Status != StatusSuccess
}

func (e Event) String() string {
	return fmt.Sprintf("%v handle %04X status 0x%02X", e.Kind, e.Handle, e.Status)
}
