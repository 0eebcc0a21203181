package blecore

// Profile is the discovered attribute layout of a remote device.
type Profile struct {
	Services        []Service        `json:"services"`
	Characteristics []Characteristic `json:"characteristics"`
}

// GattCache stores discovered profiles keyed by peer address.
type GattCache interface {
	Store(Addr, Profile, bool) error
	Load(Addr) (Profile, error)
	Clear() error
}
