package adv

import (
	"testing"

	"github.com/rigado/blecore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPdu struct {
	b []byte
}

func (t *testPdu) addBad(recTyp byte, badRecLen byte, recBytes []byte) {
	t.b = append(t.b, badRecLen, recTyp)
	t.b = append(t.b, recBytes...)
}

func (t *testPdu) add(recTyp byte, recBytes []byte) {
	lb := byte(len(recBytes) + 1)
	t.b = append(t.b, lb, recTyp)
	t.b = append(t.b, recBytes...)
}

func (t *testPdu) bytes() []byte {
	return t.b
}

func elements(sz, n int) []byte {
	var b []byte
	for i := 0; i < n; i++ {
		for j := 0; j < sz; j++ {
			b = append(b, byte(i*sz+j+1))
		}
	}
	return b
}

func TestParserArrays(t *testing.T) {
	for _, typ := range []byte{
		types.uuid16inc, types.uuid16comp,
		types.uuid32inc, types.uuid32comp,
		types.uuid128inc, types.uuid128comp,
		types.sol16, types.sol32, types.sol128,
	} {
		dec := pduDecodeMap[typ]

		p := testPdu{}
		p.add(typ, elements(dec.arrayElementSz, 3))
		r, err := Parse(p.bytes())
		require.NoError(t, err, "type %x", typ)

		got := r.Services
		if dec.field == fieldSolicited {
			got = r.Solicited
		}
		require.Len(t, got, 3, "type %x", typ)
		first, err := blecore.UUIDFromBytes(elements(dec.arrayElementSz, 1))
		require.NoError(t, err)
		assert.Equal(t, first, got[0])

		// len % size != 0
		p = testPdu{}
		p.add(typ, append(elements(dec.arrayElementSz, 2), 0xbb))
		_, err = Parse(p.bytes())
		assert.Error(t, err, "type %x remainder", typ)

		// corrupt length
		p = testPdu{}
		p.addBad(typ, byte(2*dec.arrayElementSz+32), elements(dec.arrayElementSz, 2))
		_, err = Parse(p.bytes())
		assert.Error(t, err, "type %x bad length", typ)

		p = testPdu{}
		p.addBad(typ, 255, elements(dec.arrayElementSz, 2))
		_, err = Parse(p.bytes())
		assert.Error(t, err, "type %x length 255", typ)
	}
}

func TestParserNonArrays(t *testing.T) {
	p := testPdu{}
	p.add(types.flags, []byte{0x06})
	p.add(types.namecomp, []byte("hrm"))
	p.add(types.txpwr, []byte{0xf4})
	p.add(types.mfgdata, []byte{0x59, 0x00, 0xaa})
	p.add(types.svc16, []byte{0x0d, 0x18, 0x01, 0x02})

	r, err := Parse(p.bytes())
	require.NoError(t, err)
	assert.Equal(t, byte(0x06), r.Flags)
	assert.Equal(t, "hrm", r.LocalName)
	assert.True(t, r.HasTxPower)
	assert.Equal(t, -12, r.TxPower)
	assert.Equal(t, []byte{0x59, 0x00, 0xaa}, r.ManufacturerData)
	require.Len(t, r.ServiceData, 1)
	assert.Equal(t, blecore.UUID16(0x180d), r.ServiceData[0].UUID)
	assert.Equal(t, []byte{0x01, 0x02}, r.ServiceData[0].Data)

	// service data shorter than its uuid
	p = testPdu{}
	p.add(types.svc128, []byte{1, 2, 3})
	_, err = Parse(p.bytes())
	assert.Error(t, err)
}

func TestParserScanResponseMerge(t *testing.T) {
	a := testPdu{}
	a.add(types.mfgdata, []byte{0x59, 0x00, 0x01})
	s := testPdu{}
	s.add(types.mfgdata, []byte{0x59, 0x00, 0x02})
	s.add(types.nameshort, []byte("x"))

	r, err := Parse(a.bytes(), s.bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x59, 0x00, 0x01, 0x02}, r.ManufacturerData)
	assert.Equal(t, "x", r.LocalName)
}

func TestParserEmpty(t *testing.T) {
	_, err := Parse(nil)
	assert.Equal(t, ErrEmptyPdu, err)
	_, err = Parse([]byte{}, nil)
	assert.Equal(t, ErrEmptyPdu, err)
}

func TestPayloads(t *testing.T) {
	hrs := blecore.UUID16(0x180d)
	ad, sr, err := Payloads("sensor", []blecore.UUID{hrs}, 0x0059, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, 0x01, 0x06,
		0x03, 0x03, 0x0d, 0x18,
		0x04, 0xff, 0x59, 0x00, 0x01,
	}, ad)
	assert.Equal(t, append([]byte{0x07, 0x09}, "sensor"...), sr)

	r, err := Parse(ad, sr)
	require.NoError(t, err)
	assert.Equal(t, []blecore.UUID{hrs}, r.Services)
	assert.Equal(t, "sensor", r.LocalName)

	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	_, sr, err = Payloads(long, nil, 0, nil)
	require.NoError(t, err)
	assert.Len(t, sr, MaxEIRPacketLength)
	assert.Equal(t, types.nameshort, sr[1])

	_, _, err = Payloads("", nil, 0x0059, make([]byte, 30))
	assert.Error(t, err)
}

func TestPacketNotFit(t *testing.T) {
	p, err := NewPacket(Raw(make([]byte, 29)))
	require.NoError(t, err)
	assert.Equal(t, ErrNotFit, p.Append(CompleteName("ab")))
	assert.Equal(t, 29, p.Len())

	_, err = NewPacket(AllUUID(blecore.UUID16(1), blecore.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")))
	assert.Error(t, err)
}
