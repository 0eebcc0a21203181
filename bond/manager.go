// Package bond keeps pairing keys in a JSON file.
package bond

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
)

// DefaultFilename is used when the manager is given a directory.
const DefaultFilename = "bonds.json"

type manager struct {
	lock     sync.RWMutex
	filename string
	log      blecore.Logger
}

type bondFile struct {
	Bonds []remoteKeyInfo `json:"bonds"`
}

type remoteKeyInfo struct {
	Address               string `json:"address"`
	LongTermKey           string `json:"longTermKey"`
	EncryptionDiversifier string `json:"encryptionDiversifier"`
	RandomValue           string `json:"randomValue"`
	Legacy                bool   `json:"legacy"`
}

// NewBondManager returns a store backed by path. A directory path gets
// DefaultFilename appended.
func NewBondManager(path string) blecore.BondStore {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, DefaultFilename)
	}
	return &manager{
		filename: path,
		log:      blecore.PkgLogger("bond"),
	}
}

func validAddr(addr string) error {
	if len(addr) != 12 {
		return errors.Wrapf(blecore.ErrInvalidArgument, "bond address %q", addr)
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return errors.Wrapf(blecore.ErrInvalidArgument, "bond address %q", addr)
	}
	return nil
}

func (m *manager) Exists(addr string) bool {
	if validAddr(addr) != nil {
		return false
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	bonds, err := m.load()
	if err != nil {
		m.log.Warnf("exists %v: %v", addr, err)
		return false
	}
	return bonds.index(addr) >= 0
}

func (m *manager) Find(addr string) (blecore.BondInfo, error) {
	if err := validAddr(addr); err != nil {
		return nil, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	bonds, err := m.load()
	if err != nil {
		return nil, err
	}
	i := bonds.index(addr)
	if i < 0 {
		return nil, errors.Wrapf(blecore.ErrNotFound, "bond information for %s", addr)
	}
	b := bonds.Bonds[i]

	ltk, err := hex.DecodeString(b.LongTermKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode long term key")
	}
	eDiv, err := hex.DecodeString(b.EncryptionDiversifier)
	if err != nil || len(eDiv) != 2 {
		return nil, errors.New("invalid ediv in bond file")
	}
	randVal, err := hex.DecodeString(b.RandomValue)
	if err != nil || len(randVal) != 8 {
		return nil, errors.New("invalid random value in bond file")
	}

	return blecore.NewBondInfo(ltk, binary.LittleEndian.Uint16(eDiv), binary.LittleEndian.Uint64(randVal), b.Legacy), nil
}

// Save stores the keys for addr, replacing an earlier bond.
func (m *manager) Save(addr string, bond blecore.BondInfo) error {
	if err := validAddr(addr); err != nil {
		return err
	}
	if bond == nil {
		return errors.Wrap(blecore.ErrInvalidArgument, "empty bond information")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	bonds, err := m.load()
	if err != nil {
		return err
	}

	rki := createRemoteKeyInfo(bond)
	rki.Address = addr
	if i := bonds.index(addr); i >= 0 {
		bonds.Bonds[i] = rki
	} else {
		bonds.Bonds = append(bonds.Bonds, rki)
	}
	return m.store(bonds)
}

func (m *manager) Delete(addr string) error {
	if err := validAddr(addr); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	bonds, err := m.load()
	if err != nil {
		return err
	}
	i := bonds.index(addr)
	if i < 0 {
		return errors.Wrapf(blecore.ErrNotFound, "bond information for %s", addr)
	}
	bonds.Bonds = append(bonds.Bonds[:i], bonds.Bonds[i+1:]...)
	return m.store(bonds)
}

func (b *bondFile) index(addr string) int {
	for i, rk := range b.Bonds {
		if rk.Address == addr {
			return i
		}
	}
	return -1
}

func createRemoteKeyInfo(bond blecore.BondInfo) remoteKeyInfo {
	eDiv := make([]byte, 2)
	binary.LittleEndian.PutUint16(eDiv, bond.EDiv())

	randVal := make([]byte, 8)
	binary.LittleEndian.PutUint64(randVal, bond.Random())

	return remoteKeyInfo{
		LongTermKey:           hex.EncodeToString(bond.LongTermKey()),
		EncryptionDiversifier: hex.EncodeToString(eDiv),
		RandomValue:           hex.EncodeToString(randVal),
		Legacy:                bond.Legacy(),
	}
}

func (m *manager) load() (*bondFile, error) {
	data, err := os.ReadFile(m.filename)
	if os.IsNotExist(err) {
		return &bondFile{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bond file")
	}

	var bonds bondFile
	if len(data) > 0 {
		if err := jsoniter.Unmarshal(data, &bonds); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal bond file")
		}
	}
	return &bonds, nil
}

func (m *manager) store(bonds *bondFile) error {
	out, err := jsoniter.MarshalIndent(bonds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds")
	}
	if err := os.WriteFile(m.filename, out, 0600); err != nil {
		return errors.Wrap(err, "failed to update bond file")
	}
	return nil
}
