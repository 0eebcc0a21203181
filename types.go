package blecore

// NoHandle keys connection-less operations such as scan and advertise toggles.
const NoHandle uint16 = 0xFFFF

// Role of the local device on a link.
type Role uint8

const (
	RolePeripheral Role = iota
	RoleCentral
)

func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "peripheral"
	case RoleCentral:
		return "central"
	default:
		return "unknown"
	}
}

// OpKind tags a pending asynchronous operation.
type OpKind uint8

const (
	OpConnect OpKind = iota + 1
	OpServiceDiscovery
	OpCharacteristicDiscovery
	OpRead
	OpWrite
	OpSubscribe
	OpBond
	OpDisconnect
	OpScanToggle
	OpAdvertiseToggle
)

var opKindNames = map[OpKind]string{
	OpConnect:                 "connect",
	OpServiceDiscovery:        "service-discovery",
	OpCharacteristicDiscovery: "characteristic-discovery",
	OpRead:                    "read",
	OpWrite:                   "write",
	OpSubscribe:               "subscribe",
	OpBond:                    "bond",
	OpDisconnect:              "disconnect",
	OpScanToggle:              "scan-toggle",
	OpAdvertiseToggle:         "advertise-toggle",
}

func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Connectionless reports whether the kind is keyed by NoHandle.
func (k OpKind) Connectionless() bool {
	return k == OpConnect || k == OpScanToggle || k == OpAdvertiseToggle
}

// SecurityLevel follows the LE security mode 1 levels.
type SecurityLevel uint8

const (
	SecurityNone          SecurityLevel = 1 // no authentication, no encryption
	SecurityEncrypted     SecurityLevel = 2 // unauthenticated pairing with encryption
	SecurityAuthenticated SecurityLevel = 3 // authenticated pairing with encryption
	SecuritySecureConn    SecurityLevel = 4 // authenticated LE secure connections
)

// Property is the characteristic properties bitmask.
type Property uint8

// Characteristic property flags [Vol 3, Part G, 3.3.1.1].
const (
	CharBroadcast   Property = 0x01
	CharRead        Property = 0x02
	CharWriteNR     Property = 0x04
	CharWrite       Property = 0x08
	CharNotify      Property = 0x10
	CharIndicate    Property = 0x20
	CharSignedWrite Property = 0x40
	CharExtended    Property = 0x80
)

// CanSubscribe reports whether notifications or indications are supported.
func (p Property) CanSubscribe() bool {
	return p&(CharNotify|CharIndicate) != 0
}

// Service is a discovered or published primary service.
type Service struct {
	UUID   UUID   `json:"uuid"`
	Handle uint16 `json:"handle"`
	End    uint16 `json:"endHandle"`
}

// Characteristic is a discovered or published characteristic.
type Characteristic struct {
	UUID        UUID     `json:"uuid"`
	Service     UUID     `json:"service"`
	Handle      uint16   `json:"handle"`
	ValueHandle uint16   `json:"valueHandle"`
	CCCD        uint16   `json:"cccdHandle,omitempty"`
	Property    Property `json:"property"`
}

// ServiceDef declares a local service for the GATT server.
type ServiceDef struct {
	UUID            UUID                `yaml:"uuid"`
	Characteristics []CharacteristicDef `yaml:"characteristics"`
}

// CharacteristicDef declares a local characteristic and its initial value.
type CharacteristicDef struct {
	UUID     UUID     `yaml:"uuid"`
	Property Property `yaml:"property"`
	Value    []byte   `yaml:"value"`
}
