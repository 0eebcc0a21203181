// Package cache keeps discovered GATT profiles in a JSON file keyed by peer address.
package cache

import (
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

type gattCache struct {
	filename string
	lock     sync.RWMutex
}

// New returns a cache stored in filename.
func New(filename string) blecore.GattCache {
	return &gattCache{filename: filename}
}

// Store saves the profile of mac. An existing entry is kept unless replace is set.
func (gc *gattCache) Store(mac blecore.Addr, profile blecore.Profile, replace bool) error {
	gc.lock.Lock()
	defer gc.lock.Unlock()

	cache, err := gc.loadExisting()
	if err != nil {
		return err
	}

	if _, ok := cache[mac.String()]; ok && !replace {
		return errors.Errorf("cache already contains gatt db for %s", mac)
	}
	cache[mac.String()] = profile

	return gc.storeCache(cache)
}

func (gc *gattCache) Load(mac blecore.Addr) (blecore.Profile, error) {
	gc.lock.RLock()
	defer gc.lock.RUnlock()

	cache, err := gc.loadExisting()
	if err != nil {
		return blecore.Profile{}, err
	}

	p, ok := cache[mac.String()]
	if !ok {
		return blecore.Profile{}, errors.Wrapf(blecore.ErrNotFound, "gatt db for %s", mac)
	}
	return p, nil
}

func (gc *gattCache) Clear() error {
	gc.lock.Lock()
	defer gc.lock.Unlock()

	err := os.Remove(gc.filename)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (gc *gattCache) loadExisting() (map[string]blecore.Profile, error) {
	in, err := os.ReadFile(gc.filename)
	if os.IsNotExist(err) {
		return map[string]blecore.Profile{}, nil
	}
	if err != nil {
		return nil, err
	}

	cache := map[string]blecore.Profile{}
	if len(in) == 0 {
		return cache, nil
	}
	if err := jsoniter.Unmarshal(in, &cache); err != nil {
		return nil, errors.Wrap(err, "gatt cache")
	}
	return cache, nil
}

func (gc *gattCache) storeCache(cache map[string]blecore.Profile) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}
	return os.WriteFile(gc.filename, out, 0644)
}
