package uart

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/evt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame types. Requests flow to the device; acks and events flow back.
const (
	frameRequest = "req"
	frameAck     = "ack"
	frameEvent   = "evt"
)

// Request methods.
const (
	mInitController  = "initController"
	mInitStack       = "initStack"
	mSetMTU          = "setMtu"
	mDeinit          = "deinit"
	mConnect         = "connect"
	mDisconnect      = "disconnect"
	mDiscoverSvcs    = "discoverServices"
	mDiscoverChars   = "discoverCharacteristics"
	mRead            = "read"
	mWrite           = "write"
	mSubscribe       = "subscribe"
	mStartBonding    = "startBonding"
	mSendPasskey     = "sendPasskey"
	mSetAdvData      = "setAdvertisingData"
	mSetAdvertising  = "setAdvertising"
	mSetScanning     = "setScanning"
	mPublishServices = "publishServices"
	mRespondRead     = "respondRead"
	mNotify          = "notify"
)

// frame is one newline terminated JSON object on the wire.
type frame struct {
	Type string `json:"type"`
	Seq  uint32 `json:"seq,omitempty"`

	// ack
	Status uint32 `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	Req   *request   `json:"req,omitempty"`
	Event *evt.Event `json:"evt,omitempty"`
}

type request struct {
	Method string `json:"method"`
	Handle uint16 `json:"handle"`
	Attr   uint16 `json:"attr,omitempty"`

	Addr     blecore.Addr     `json:"addr,omitempty"`
	Filter   blecore.UUID     `json:"filter,omitempty"`
	Service  *blecore.Service `json:"service,omitempty"`
	Value    []byte           `json:"value,omitempty"`
	ScanResp []byte           `json:"scanResp,omitempty"`
	Enable   bool             `json:"enable,omitempty"`
	Active   bool             `json:"active,omitempty"`
	Force    bool             `json:"force,omitempty"`
	Interval uint16           `json:"interval,omitempty"`
	MTU      int              `json:"mtu,omitempty"`
	Passkey  string           `json:"passkey,omitempty"`

	Services        []blecore.Service        `json:"services,omitempty"`
	Characteristics []blecore.Characteristic `json:"characteristics,omitempty"`
}

func encode(f frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decode(line []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(line, &f)
	return f, err
}
