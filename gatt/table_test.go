package gatt

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hrs = blecore.UUID16(0x180D)
	hrm = blecore.UUID16(0x2A37)
	bsl = blecore.UUID16(0x2A38)
	dis = blecore.UUID16(0x180A)
)

func TestTableDiscovery(t *testing.T) {
	tb := NewTable()
	tb.AddService(blecore.Service{UUID: dis, Handle: 10, End: 14})
	tb.AddService(blecore.Service{UUID: hrs, Handle: 1, End: 9})

	ss := tb.Services()
	require.Len(t, ss, 2)
	assert.Equal(t, uint16(1), ss[0].Handle)

	s, err := tb.Service(dis)
	require.NoError(t, err)
	assert.Equal(t, uint16(14), s.End)

	_, err = tb.Service(blecore.UUID16(0x1234))
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))

	tb.AddCharacteristic(blecore.Characteristic{UUID: hrm, Service: hrs, Handle: 2, ValueHandle: 3, CCCD: 4, Property: blecore.CharNotify})
	c, err := tb.ByCCCD(4)
	require.NoError(t, err)
	assert.Equal(t, hrm, c.UUID)

	c, err = tb.Find(hrs, hrm)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), c.ValueHandle)

	_, err = tb.Characteristic(0x99)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))

	tb.Clear()
	assert.Empty(t, tb.Services())
	assert.Empty(t, tb.Characteristics())
}

func TestTableValues(t *testing.T) {
	tb := NewTable()
	tb.AddCharacteristic(blecore.Characteristic{UUID: bsl, Service: hrs, Handle: 5, ValueHandle: 6, Property: blecore.CharRead})

	in := []byte{1, 2}
	require.NoError(t, tb.SetValue(6, in))
	in[0] = 9
	v, err := tb.Value(6)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, v)

	assert.Error(t, tb.SetValue(7, nil))

	require.NoError(t, tb.SetSubscribed(6, true, true))
	e, ok := tb.Entry(6)
	require.True(t, ok)
	assert.True(t, e.Subscribed)
	assert.True(t, e.Indicate)
}

func TestTableProfileLoad(t *testing.T) {
	tb := NewTable()
	tb.AddService(blecore.Service{UUID: hrs, Handle: 1, End: 4})
	tb.AddCharacteristic(blecore.Characteristic{UUID: hrm, Service: hrs, Handle: 2, ValueHandle: 3, CCCD: 4})

	other := NewTable()
	other.AddService(blecore.Service{UUID: dis, Handle: 20, End: 22})
	other.Load(tb.Profile())
	assert.Equal(t, tb.Profile(), other.Profile())
}

func TestBuildLocal(t *testing.T) {
	tb, err := BuildLocal([]blecore.ServiceDef{
		{UUID: hrs, Characteristics: []blecore.CharacteristicDef{
			{UUID: hrm, Property: blecore.CharNotify},
			{UUID: bsl, Property: blecore.CharRead, Value: []byte{0x01}},
		}},
		{UUID: dis},
	})
	require.NoError(t, err)

	ss := tb.Services()
	require.Len(t, ss, 2)
	assert.Equal(t, blecore.Service{UUID: hrs, Handle: 1, End: 6}, ss[0])
	assert.Equal(t, blecore.Service{UUID: dis, Handle: 7, End: 7}, ss[1])

	cc := tb.Characteristics()
	require.Len(t, cc, 2)
	assert.Equal(t, blecore.Characteristic{UUID: hrm, Service: hrs, Handle: 2, ValueHandle: 3, CCCD: 4, Property: blecore.CharNotify}, cc[0])
	assert.Equal(t, uint16(6), cc[1].ValueHandle)
	assert.Zero(t, cc[1].CCCD)

	v, err := tb.Value(6)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, v)

	_, err = BuildLocal([]blecore.ServiceDef{{}})
	assert.Equal(t, blecore.ErrInvalidArgument, errors.Cause(err))
}

func TestFindLowestValueHandle(t *testing.T) {
	tb := NewTable()
	tb.AddService(blecore.Service{UUID: hrs, Handle: 1, End: 20})
	for _, vh := range []uint16{15, 3, 9} {
		tb.AddCharacteristic(blecore.Characteristic{UUID: hrm, Service: hrs, Handle: vh - 1, ValueHandle: vh, Property: blecore.CharRead})
	}
	for i := 0; i < 20; i++ {
		c, err := tb.Find(hrs, hrm)
		require.NoError(t, err)
		assert.Equal(t, uint16(3), c.ValueHandle)
	}
}
