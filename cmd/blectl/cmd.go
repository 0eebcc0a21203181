package main

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/adv"
	"github.com/rigado/blecore/cache"
	"github.com/rigado/blecore/evt"
	"github.com/urfave/cli"
)

func cmdScan(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	seen := map[blecore.Addr]bool{}
	s.h.OnAdvertisement(func(e evt.Event, r adv.Report) {
		if seen[e.Addr] {
			return
		}
		seen[e.Addr] = true
		var uu []string
		for _, u := range r.Services {
			uu = append(uu, u.String())
		}
		s.printf("%v rssi %d name %q services [%s]\n", e.Addr, e.RSSI, r.LocalName, strings.Join(uu, " "))
	})

	if _, err := s.wait(s.h.StartScanning(c.Bool("active"), nil)); err != nil {
		return errors.Wrap(err, "start scanning")
	}
	s.sleep(c.Duration("duration"))
	_, err = s.wait(s.h.StopScanning(nil))
	return errors.Wrap(err, "stop scanning")
}

func cmdExplore(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	handle, err := s.connect(c.String("addr"))
	if err != nil {
		return err
	}
	defer s.disconnect(handle)

	if c.Bool("bond") {
		if err := s.bond(handle, false, c.String("passkey")); err != nil {
			return err
		}
	}

	if c.Bool("cached") {
		if err := s.h.LoadCachedProfile(handle); err != nil {
			return errors.Wrap(err, "load cached profile")
		}
	} else if err := s.discover(handle); err != nil {
		return err
	}

	if err := s.explore(handle); err != nil {
		return err
	}

	if d := c.Duration("sub"); d > 0 {
		return s.subscribeAll(handle, d)
	}
	return nil
}

// discover finds every service and its characteristics.
func (s *session) discover(handle uint16) error {
	res, err := s.wait(s.h.DiscoverServices(handle, blecore.UUID{}, nil))
	if err != nil {
		return errors.Wrap(err, "discover services")
	}
	for _, svc := range res.Services {
		if _, err := s.wait(s.h.DiscoverCharacteristics(handle, svc.UUID, blecore.UUID{}, nil)); err != nil {
			return errors.Wrapf(err, "discover characteristics of %v", svc.UUID)
		}
	}
	return nil
}

func (s *session) explore(handle uint16) error {
	svcs, err := s.h.Services(handle)
	if err != nil {
		return err
	}
	chars, err := s.h.Characteristics(handle)
	if err != nil {
		return err
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i].Handle < chars[j].Handle })

	for _, svc := range svcs {
		s.printf("    Service: %v, Handle (0x%02X)\n", svc.UUID, svc.Handle)
		for _, ch := range chars {
			if ch.Handle < svc.Handle || ch.Handle > svc.End {
				continue
			}
			s.printf("      Characteristic: %v, Property: 0x%02X (%s), Handle(0x%02X), VHandle(0x%02X)\n",
				ch.UUID, uint8(ch.Property), propString(ch.Property), ch.Handle, ch.ValueHandle)
			if ch.Property&blecore.CharRead == 0 {
				continue
			}
			res, err := s.wait(s.h.Read(handle, ch.ValueHandle, nil))
			if err != nil {
				s.printf("        Failed to read characteristic: %v\n", err)
				continue
			}
			s.printf("        Value         %x | %q\n", res.Value, res.Value)
		}
	}
	return nil
}

func (s *session) subscribeAll(handle uint16, d time.Duration) error {
	chars, err := s.h.Characteristics(handle)
	if err != nil {
		return err
	}
	s.handle(func(e evt.Event) {
		if e.Kind == evt.NotificationReceived && e.Handle == handle {
			s.printf("Notified: handle 0x%02X [ % X ]\n", e.Attr, e.Value)
		}
	})
	defer s.handle(nil)

	var subbed []uint16
	for _, ch := range chars {
		if !ch.Property.CanSubscribe() {
			continue
		}
		if _, err := s.wait(s.h.Subscribe(handle, ch.ValueHandle, true, nil)); err != nil {
			s.printf("subscribe %v: %v\n", ch.UUID, err)
			continue
		}
		subbed = append(subbed, ch.ValueHandle)
	}
	s.sleep(d)
	for _, vh := range subbed {
		if _, err := s.wait(s.h.Subscribe(handle, vh, false, nil)); err != nil {
			s.printf("unsubscribe 0x%02X: %v\n", vh, err)
		}
	}
	return nil
}

var propLetters = []struct {
	p blecore.Property
	c string
}{
	{blecore.CharBroadcast, "B"},
	{blecore.CharRead, "R"},
	{blecore.CharWriteNR, "w"},
	{blecore.CharWrite, "W"},
	{blecore.CharNotify, "N"},
	{blecore.CharIndicate, "I"},
	{blecore.CharSignedWrite, "S"},
	{blecore.CharExtended, "E"},
}

func propString(p blecore.Property) string {
	var s string
	for _, l := range propLetters {
		if p&l.p != 0 {
			s += l.c
		}
	}
	return s
}

// target discovers the named service and finds the characteristic.
func (s *session) target(c *cli.Context, handle uint16) (blecore.Characteristic, error) {
	svc, err := blecore.ParseUUID(c.String("service"))
	if err != nil {
		return blecore.Characteristic{}, err
	}
	chr, err := blecore.ParseUUID(c.String("char"))
	if err != nil {
		return blecore.Characteristic{}, err
	}
	if _, err := s.wait(s.h.DiscoverServices(handle, svc, nil)); err != nil {
		return blecore.Characteristic{}, errors.Wrap(err, "discover services")
	}
	if _, err := s.wait(s.h.DiscoverCharacteristics(handle, svc, chr, nil)); err != nil {
		return blecore.Characteristic{}, errors.Wrap(err, "discover characteristics")
	}
	return s.h.FindCharacteristic(handle, svc, chr)
}

func cmdRead(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	handle, err := s.connect(c.String("addr"))
	if err != nil {
		return err
	}
	defer s.disconnect(handle)
	ch, err := s.target(c, handle)
	if err != nil {
		return err
	}
	res, err := s.wait(s.h.Read(handle, ch.ValueHandle, nil))
	if err != nil {
		return errors.Wrap(err, "read")
	}
	s.printf("%x\n", res.Value)
	return nil
}

func cmdWrite(c *cli.Context) error {
	value, err := hex.DecodeString(c.String("value"))
	if err != nil {
		return errors.Wrap(blecore.ErrInvalidArgument, "value must be hex")
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	handle, err := s.connect(c.String("addr"))
	if err != nil {
		return err
	}
	defer s.disconnect(handle)
	ch, err := s.target(c, handle)
	if err != nil {
		return err
	}
	if _, err := s.wait(s.h.Write(handle, ch.ValueHandle, value, nil)); err != nil {
		return errors.Wrap(err, "write")
	}
	s.printf("wrote %d bytes to %v\n", len(value), ch.UUID)
	return nil
}

func cmdBond(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	handle, err := s.connect(c.String("addr"))
	if err != nil {
		return err
	}
	defer s.disconnect(handle)
	return s.bond(handle, c.Bool("force"), c.String("passkey"))
}

func cmdServe(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.close()

	defs, err := s.cfg.ServerServices()
	if err != nil {
		return err
	}
	if err := s.h.SetServices(defs); err != nil {
		return errors.Wrap(err, "set services")
	}
	var uuids []blecore.UUID
	for _, d := range defs {
		uuids = append(uuids, d.UUID)
	}
	if err := s.h.SetAdvertisingData(s.cfg.Server.Name, uuids, 0, nil); err != nil {
		return errors.Wrap(err, "advertising data")
	}

	s.handle(func(e evt.Event) {
		switch e.Kind {
		case evt.Connected:
			s.printf("central %v connected, handle %04X\n", e.Addr, e.Handle)
		case evt.Disconnected:
			s.printf("handle %04X disconnected, reason 0x%02X\n", e.Handle, e.Reason)
		case evt.PeerWrite:
			s.printf("write 0x%02X [ % X ]\n", e.Attr, e.Value)
		}
	})
	defer s.handle(nil)

	if _, err := s.wait(s.h.StartAdvertising(nil)); err != nil {
		return errors.Wrap(err, "start advertising")
	}
	s.printf("advertising %q\n", s.cfg.Server.Name)

	if a := c.String("accept"); a != "" {
		if s.sim == nil {
			return errors.Wrap(blecore.ErrInvalidArgument, "accept needs the simulator")
		}
		addr, err := blecore.ParseAddr(a)
		if err != nil {
			return err
		}
		if _, err := s.sim.Accept(addr); err != nil {
			return err
		}
	}

	s.sleep(c.Duration("duration"))
	if s.h.IsAdvertising() {
		_, err = s.wait(s.h.StopAdvertising(nil))
	}
	return errors.Wrap(err, "stop advertising")
}

func cmdClearCache(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.CacheFile == "" {
		return errors.Wrap(blecore.ErrInvalidArgument, "no cacheFile configured")
	}
	return cache.New(cfg.CacheFile).Clear()
}
