package cache

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() blecore.Profile {
	hrs := blecore.MustParseUUID("180d")
	return blecore.Profile{
		Services: []blecore.Service{{UUID: hrs, Handle: 1, End: 4}},
		Characteristics: []blecore.Characteristic{
			{UUID: blecore.MustParseUUID("2a37"), Service: hrs, Handle: 2, ValueHandle: 3, CCCD: 4, Property: blecore.CharNotify},
		},
	}
}

func TestGattCache_Store(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "test.cache")
	mac := blecore.Addr("12:34:56:78:90:ab")
	p := testProfile()

	c := New(fn)
	require.NoError(t, c.Store(mac, p, false))

	loaded, err := New(fn).Load(mac)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)

	assert.Error(t, c.Store(mac, blecore.Profile{}, false))
	require.NoError(t, c.Store(mac, blecore.Profile{}, true))
	loaded, err = c.Load(mac)
	require.NoError(t, err)
	assert.Empty(t, loaded.Services)
}

func TestGattCache_Clear(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "test.cache")
	c := New(fn)
	require.NoError(t, c.Clear())

	mac := blecore.Addr("12:34:56:78:90:ab")
	require.NoError(t, c.Store(mac, testProfile(), false))
	require.NoError(t, c.Clear())

	_, err := c.Load(mac)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
}
