// Package controller is the boundary to the BLE controller stack.
//
// Request methods only hand the request to the stack; outcomes arrive later
// through the Sink registered with RegisterCallbacks. A non-nil error return
// means the stack refused the request and no event will follow for it.
package controller

import (
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/evt"
)

// Sink receives controller events. It may be called from any goroutine.
type Sink func(evt.Event)

// Controller is the narrow interface consumed by the host.
type Controller interface {
	InitController() error
	InitStack() error
	RegisterCallbacks(Sink) error
	SetMTU(mtu int) error
	Deinit() error

	Connect(addr blecore.Addr) error
	Disconnect(handle uint16) error

	DiscoverServices(handle uint16, filter blecore.UUID) error
	DiscoverCharacteristics(handle uint16, svc blecore.Service, filter blecore.UUID) error
	Read(handle, attr uint16) error
	Write(handle, attr uint16, value []byte) error
	Subscribe(handle, cccd uint16, enable bool) error

	StartBonding(handle uint16, forceRepair bool) error
	SendPasskey(handle uint16, passkey string) error

	SetAdvertisingData(ad, sr []byte) error
	SetAdvertising(enable bool, interval uint16) error
	SetScanning(enable, active bool) error

	PublishServices(svcs []blecore.Service, chars []blecore.Characteristic) error
	RespondRead(handle, attr uint16, value []byte) error
	Notify(handle, attr uint16, value []byte, indicate bool) error
}
