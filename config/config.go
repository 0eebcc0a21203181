// Package config reads the YAML configuration of a BLE host process.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/bond"
	"github.com/rigado/blecore/cache"
	"github.com/rigado/blecore/host"
	"github.com/rigado/blecore/sim"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Controller kinds.
const (
	ControllerSim  = "sim"
	ControllerUART = "uart"
)

// Config is the top level document.
type Config struct {
	LogLevel   string           `yaml:"logLevel"`
	Controller ControllerConfig `yaml:"controller"`
	Host       HostConfig       `yaml:"host"`
	BondFile   string           `yaml:"bondFile"`
	CacheFile  string           `yaml:"cacheFile"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Server     ServerConfig     `yaml:"server"`
	Sim        SimConfig        `yaml:"sim"`
}

// ServerConfig declares what the local device advertises and serves.
type ServerConfig struct {
	Name     string          `yaml:"name"`
	Services []ServiceConfig `yaml:"services"`
}

// ControllerConfig selects the controller implementation.
type ControllerConfig struct {
	Type    string        `yaml:"type"`
	Port    string        `yaml:"port"`
	Baud    uint          `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
}

// HostConfig holds the host parameters. Zero values keep the host defaults.
type HostConfig struct {
	CentralLinks int           `yaml:"centralLinks"`
	MTU          int           `yaml:"mtu"`
	AdvInterval  time.Duration `yaml:"advInterval"`
	ActiveScan   bool          `yaml:"activeScan"`
	MaxPending   int           `yaml:"maxPending"`
	Disabled     bool          `yaml:"disabled"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// SimConfig describes the simulated neighbourhood.
type SimConfig struct {
	Addr    string        `yaml:"addr"`
	Latency time.Duration `yaml:"latency"`
	Peers   []PeerConfig  `yaml:"peers"`
}

type PeerConfig struct {
	Addr     string          `yaml:"addr"`
	Name     string          `yaml:"name"`
	RSSI     int8            `yaml:"rssi"`
	MTU      int             `yaml:"mtu"`
	Passkey  string          `yaml:"passkey"`
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	UUID            string       `yaml:"uuid"`
	Characteristics []CharConfig `yaml:"characteristics"`
}

// CharConfig declares a characteristic. Value is hex encoded.
type CharConfig struct {
	UUID       string   `yaml:"uuid"`
	Properties []string `yaml:"properties"`
	Value      string   `yaml:"value"`
}

var propertyNames = map[string]blecore.Property{
	"broadcast":     blecore.CharBroadcast,
	"read":          blecore.CharRead,
	"writeNoResp":   blecore.CharWriteNR,
	"write":         blecore.CharWrite,
	"notify":        blecore.CharNotify,
	"indicate":      blecore.CharIndicate,
	"signedWrite":   blecore.CharSignedWrite,
	"extendedProps": blecore.CharExtended,
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		LogLevel:   "info",
		Controller: ControllerConfig{Type: ControllerSim, Baud: 115200},
		Host:       HostConfig{CentralLinks: 1},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field that Options and SimPeers rely on.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(blecore.ErrInvalidArgument, "log level %q", c.LogLevel)
	}
	switch c.Controller.Type {
	case ControllerSim:
	case ControllerUART:
		if c.Controller.Port == "" {
			return errors.Wrap(blecore.ErrInvalidArgument, "uart controller without port")
		}
	default:
		return errors.Wrapf(blecore.ErrInvalidArgument, "controller type %q", c.Controller.Type)
	}

	hc := c.Host
	switch {
	case hc.CentralLinks < 0:
		return errors.Wrapf(blecore.ErrInvalidArgument, "central links %d", hc.CentralLinks)
	case hc.MTU != 0 && (hc.MTU < host.MTUMin || hc.MTU > host.MTUMax):
		return errors.Wrapf(blecore.ErrInvalidArgument, "mtu %d", hc.MTU)
	case hc.MaxPending < 0:
		return errors.Wrapf(blecore.ErrInvalidArgument, "max pending %d", hc.MaxPending)
	}
	if hc.AdvInterval != 0 {
		if err := host.ValidateAdvInterval(advUnits(hc.AdvInterval)); err != nil {
			return err
		}
	}

	switch c.Tracing.Exporter {
	case "", "stdout", "noop":
	default:
		return errors.Wrapf(blecore.ErrInvalidArgument, "trace exporter %q", c.Tracing.Exporter)
	}

	if c.Sim.Addr != "" {
		if _, err := blecore.ParseAddr(c.Sim.Addr); err != nil {
			return err
		}
	}
	if _, err := c.ServerServices(); err != nil {
		return err
	}
	_, err := c.SimPeers()
	return err
}

func advUnits(d time.Duration) uint16 {
	u := d / (625 * time.Microsecond)
	if u > 0xFFFF {
		return 0xFFFF
	}
	return uint16(u)
}

// Options converts the host section, bond file and cache file into host options.
func (c *Config) Options() []blecore.Option {
	hc := c.Host
	opts := []blecore.Option{
		blecore.OptActiveScan(hc.ActiveScan),
		blecore.OptDisabled(hc.Disabled),
	}
	if hc.CentralLinks > 0 {
		opts = append(opts, blecore.OptCentralLinks(hc.CentralLinks))
	}
	if hc.MTU > 0 {
		opts = append(opts, blecore.OptMTU(hc.MTU))
	}
	if hc.AdvInterval > 0 {
		opts = append(opts, blecore.OptAdvIntervalDuration(hc.AdvInterval))
	}
	if hc.MaxPending > 0 {
		opts = append(opts, blecore.OptMaxPending(hc.MaxPending))
	}
	if c.BondFile != "" {
		opts = append(opts, blecore.OptEnableSecurity(bond.NewBondManager(c.BondFile)))
	}
	if c.CacheFile != "" {
		opts = append(opts, blecore.OptGattCache(cache.New(c.CacheFile)))
	}
	return opts
}

// SimPeers decodes the simulated peers.
func (c *Config) SimPeers() ([]sim.Peer, error) {
	var out []sim.Peer
	for i, pc := range c.Sim.Peers {
		a, err := blecore.ParseAddr(pc.Addr)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %d", i)
		}
		p := sim.Peer{Addr: a, Name: pc.Name, RSSI: pc.RSSI, MTU: pc.MTU, Passkey: pc.Passkey}
		for _, sc := range pc.Services {
			sd, err := sc.def()
			if err != nil {
				return nil, errors.Wrapf(err, "peer %v", a)
			}
			p.Services = append(p.Services, sd)
		}
		out = append(out, p)
	}
	return out, nil
}

// SimConfig returns the simulator settings.
func (c *Config) SimConfig() (sim.Config, error) {
	peers, err := c.SimPeers()
	if err != nil {
		return sim.Config{}, err
	}
	sc := sim.Config{Peers: peers, Latency: c.Sim.Latency}
	if c.Sim.Addr != "" {
		if sc.Addr, err = blecore.ParseAddr(c.Sim.Addr); err != nil {
			return sim.Config{}, err
		}
	}
	return sc, nil
}

// ServerServices decodes the local GATT server declaration.
func (c *Config) ServerServices() ([]blecore.ServiceDef, error) {
	var out []blecore.ServiceDef
	for _, sc := range c.Server.Services {
		sd, err := sc.def()
		if err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, nil
}

func (sc ServiceConfig) def() (blecore.ServiceDef, error) {
	u, err := blecore.ParseUUID(sc.UUID)
	if err != nil {
		return blecore.ServiceDef{}, err
	}
	sd := blecore.ServiceDef{UUID: u}
	for _, cc := range sc.Characteristics {
		cd, err := cc.def()
		if err != nil {
			return blecore.ServiceDef{}, errors.Wrapf(err, "service %v", u)
		}
		sd.Characteristics = append(sd.Characteristics, cd)
	}
	return sd, nil
}

func (cc CharConfig) def() (blecore.CharacteristicDef, error) {
	u, err := blecore.ParseUUID(cc.UUID)
	if err != nil {
		return blecore.CharacteristicDef{}, err
	}
	cd := blecore.CharacteristicDef{UUID: u}
	for _, n := range cc.Properties {
		p, ok := propertyNames[n]
		if !ok {
			return blecore.CharacteristicDef{}, errors.Wrapf(blecore.ErrInvalidArgument, "property %q", n)
		}
		cd.Property |= p
	}
	if cc.Value != "" {
		if cd.Value, err = hex.DecodeString(cc.Value); err != nil {
			return blecore.CharacteristicDef{}, errors.Wrapf(blecore.ErrInvalidArgument, "value of %v", u)
		}
	}
	return cd, nil
}
