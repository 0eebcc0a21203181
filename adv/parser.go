package adv

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// ErrEmptyPdu is returned for a nil or empty payload.
var ErrEmptyPdu = errors.New("nil/empty pdu")

// https://www.bluetooth.org/en-us/specification/assigned-numbers/generic-access-profile
var types = struct {
	flags       byte
	uuid16inc   byte
	uuid16comp  byte
	uuid32inc   byte
	uuid32comp  byte
	uuid128inc  byte
	uuid128comp byte
	sol16       byte
	sol32       byte
	sol128      byte
	svc16       byte
	svc32       byte
	svc128      byte
	nameshort   byte
	namecomp    byte
	txpwr       byte
	mfgdata     byte
}{
	flags:       0x01,
	uuid16inc:   0x02,
	uuid16comp:  0x03,
	uuid32inc:   0x04,
	uuid32comp:  0x05,
	uuid128inc:  0x06,
	uuid128comp: 0x07,
	sol16:       0x14,
	sol32:       0x1f,
	sol128:      0x15,
	svc16:       0x16,
	svc32:       0x20,
	svc128:      0x21,
	nameshort:   0x08,
	namecomp:    0x09,
	txpwr:       0x0a,
	mfgdata:     0xff,
}

type field uint8

const (
	fieldServices field = iota
	fieldSolicited
	fieldServiceData
	fieldName
	fieldTxPower
	fieldMfg
	fieldFlags
)

type pduRecord struct {
	arrayElementSz int
	minSz          int
	svcDataUUIDSz  int
	field          field
}

var pduDecodeMap = map[byte]pduRecord{
	types.uuid16inc:   {2, 2, 0, fieldServices},
	types.uuid16comp:  {2, 2, 0, fieldServices},
	types.uuid32inc:   {4, 4, 0, fieldServices},
	types.uuid32comp:  {4, 4, 0, fieldServices},
	types.uuid128inc:  {16, 16, 0, fieldServices},
	types.uuid128comp: {16, 16, 0, fieldServices},
	types.sol16:       {2, 2, 0, fieldSolicited},
	types.sol32:       {4, 4, 0, fieldSolicited},
	types.sol128:      {16, 16, 0, fieldSolicited},
	types.svc16:       {0, 2, 2, fieldServiceData},
	types.svc32:       {0, 4, 4, fieldServiceData},
	types.svc128:      {0, 16, 16, fieldServiceData},
	types.namecomp:    {0, 1, 0, fieldName},
	types.nameshort:   {0, 1, 0, fieldName},
	types.txpwr:       {0, 1, 0, fieldTxPower},
	types.mfgdata:     {0, 1, 0, fieldMfg},
	types.flags:       {0, 1, 0, fieldFlags},
}

// ServiceData is one service data record.
type ServiceData struct {
	UUID blecore.UUID `json:"uuid"`
	Data []byte       `json:"data"`
}

// Report is a decoded advertisement, optionally merged with its scan response.
type Report struct {
	Flags            byte           `json:"flags,omitempty"`
	LocalName        string         `json:"name,omitempty"`
	Services         []blecore.UUID `json:"services,omitempty"`
	Solicited        []blecore.UUID `json:"solicited,omitempty"`
	ServiceData      []ServiceData  `json:"serviceData,omitempty"`
	TxPower          int            `json:"txPower,omitempty"`
	HasTxPower       bool           `json:"-"`
	ManufacturerData []byte         `json:"mfg,omitempty"`
}

func getArray(size int, b []byte) ([]blecore.UUID, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size")
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("nil/empty bytes")
	}

	count := len(b) / size
	if len(b)%size != 0 || count == 0 {
		return nil, fmt.Errorf("incorrect size")
	}

	arr := make([]blecore.UUID, 0, count)
	for j := 0; j < len(b); j += size {
		u, err := blecore.UUIDFromBytes(b[j : j+size])
		if err != nil {
			return nil, err
		}
		arr = append(arr, u)
	}
	return arr, nil
}

// Parse decodes one or more concatenated AD structures, typically the
// advertisement followed by the scan response.
func Parse(pdus ...[]byte) (Report, error) {
	var r Report
	empty := true
	for _, pdu := range pdus {
		if len(pdu) == 0 {
			continue
		}
		empty = false
		if err := r.decode(pdu); err != nil {
			return r, err
		}
	}
	if empty {
		return r, ErrEmptyPdu
	}
	return r, nil
}

func (r *Report) decode(pdu []byte) error {
	seenMfg := len(r.ManufacturerData) > 0
	for i := 0; (i + 1) < len(pdu); {
		// length @ 0, type @ 1, data @ 2..length
		length := int(pdu[i])
		typ := pdu[i+1]

		if length < 1 {
			return fmt.Errorf("invalid record length %v, idx %v", length, i)
		}
		if (i + length) >= len(pdu) {
			return fmt.Errorf("buffer overflow: want %v, have %v, idx %v", i+length, len(pdu), i)
		}

		start := i + 2
		end := start + length - 1
		b := make([]byte, end-start)
		copy(b, pdu[start:end])

		dec, ok := pduDecodeMap[typ]
		if ok && len(b) != 0 {
			if dec.minSz > len(b) {
				return fmt.Errorf("adv type %v: min length %v, have %v, idx %v", typ, dec.minSz, len(b), i)
			}

			switch {
			case dec.arrayElementSz > 0:
				arr, err := getArray(dec.arrayElementSz, b)
				if err != nil {
					return errors.Wrapf(err, "adv type %v, idx %v", typ, i)
				}
				if dec.field == fieldSolicited {
					r.Solicited = append(r.Solicited, arr...)
				} else {
					r.Services = append(r.Services, arr...)
				}

			case dec.svcDataUUIDSz > 0:
				u, err := blecore.UUIDFromBytes(b[:dec.svcDataUUIDSz])
				if err != nil {
					return errors.Wrapf(err, "adv type %v, idx %v", typ, i)
				}
				r.ServiceData = append(r.ServiceData, ServiceData{UUID: u, Data: b[dec.svcDataUUIDSz:]})

			default:
				switch dec.field {
				case fieldName:
					r.LocalName = string(b)
				case fieldTxPower:
					r.TxPower = int(int8(b[0]))
					r.HasTxPower = true
				case fieldFlags:
					r.Flags = b[0]
				case fieldMfg:
					if seenMfg && len(b) >= 2 {
						// the scan response repeats the company id
						b = b[2:]
					}
					r.ManufacturerData = append(r.ManufacturerData, b...)
				}
			}
		}

		i += length + 1
	}
	return nil
}
