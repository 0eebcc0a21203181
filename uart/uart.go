// Package uart bridges the host to a controller running on another MCU.
// Requests and events travel as newline delimited JSON frames; every request
// is acknowledged with a status before its outcome arrives as an event.
package uart

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/controller"
)

// DefaultTimeout bounds the wait for a request acknowledgement.
const DefaultTimeout = 3 * time.Second

const maxFrame = 64 * 1024

// Options configure the serial device.
type Options struct {
	Port    string
	Baud    uint
	Timeout time.Duration
}

var _ controller.Controller = (*Controller)(nil)

// Controller implements controller.Controller over a byte stream.
type Controller struct {
	log     blecore.Logger
	rw      io.ReadWriteCloser
	timeout time.Duration

	wmu sync.Mutex

	mu   sync.Mutex
	seq  uint32
	sent map[uint32]chan frame
	sink controller.Sink
	err  error

	done chan struct{}
}

// Open opens the serial port and starts reading frames from it.
func Open(o Options) (*Controller, error) {
	if o.Baud == 0 {
		o.Baud = 115200
	}
	sp, err := serial.Open(serial.OpenOptions{
		PortName:        o.Port,
		BaudRate:        o.Baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %v", o.Port)
	}
	return New(sp, o.Timeout), nil
}

// New runs the protocol over rw. A zero timeout selects DefaultTimeout.
func New(rw io.ReadWriteCloser, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Controller{
		log:     blecore.PkgLogger("uart"),
		rw:      rw,
		timeout: timeout,
		sent:    make(map[uint32]chan frame),
		done:    make(chan struct{}),
	}
	go c.rxLoop()
	return c
}

// Close stops the bridge and closes the device. Waiting requests fail
// with blecore.ErrClosed.
func (c *Controller) Close() error {
	return c.close(blecore.ErrClosed)
}

func (c *Controller) close(reason error) error {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil
	default:
	}
	c.err = reason
	close(c.done)
	c.mu.Unlock()
	return errors.Wrap(c.rw.Close(), "close uart")
}

func (c *Controller) isOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Controller) rxLoop() {
	sc := bufio.NewScanner(c.rw)
	sc.Buffer(make([]byte, 4096), maxFrame)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := decode(line)
		if err != nil {
			c.log.Warnf("bad frame %q: %v", string(line), err)
			continue
		}
		c.handle(f)
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	if c.isOpen() {
		c.log.Errorf("rx loop stopped: %v", err)
	}
	_ = c.close(errors.Wrap(blecore.ErrClosed, err.Error()))
}

func (c *Controller) handle(f frame) {
	switch f.Type {
	case frameAck:
		c.mu.Lock()
		ch, ok := c.sent[f.Seq]
		delete(c.sent, f.Seq)
		c.mu.Unlock()
		if !ok {
			c.log.Debugf("ack %d without request", f.Seq)
			return
		}
		ch <- f

	case frameEvent:
		if f.Event == nil {
			c.log.Warnf("event frame without event")
			return
		}
		c.mu.Lock()
		sink := c.sink
		c.mu.Unlock()
		if sink == nil {
			c.log.Debugf("dropping %v, no callbacks registered", f.Event)
			return
		}
		sink(*f.Event)

	default:
		c.log.Warnf("unexpected frame type %q", f.Type)
	}
}

// send writes r and waits for its acknowledgement.
func (c *Controller) send(r request) error {
	c.mu.Lock()
	if !c.isOpen() {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.seq++
	seq := c.seq
	ch := make(chan frame, 1)
	c.sent[seq] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.sent, seq)
		c.mu.Unlock()
	}()

	b, err := encode(frame{Type: frameRequest, Seq: seq, Req: &r})
	if err != nil {
		return errors.Wrapf(err, "encode %v", r.Method)
	}
	c.wmu.Lock()
	_, err = c.rw.Write(b)
	c.wmu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "write %v", r.Method)
	}

	select {
	case f := <-ch:
		if f.Status != 0 {
			return errors.Wrapf(blecore.ControllerError(f.Status), "%v", r.Method)
		}
		if f.Error != "" {
			return errors.Errorf("%v: %v", r.Method, f.Error)
		}
		return nil
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return errors.Wrapf(err, "%v", r.Method)
	case <-time.After(c.timeout):
		return errors.Errorf("uart: no response to %v", r.Method)
	}
}

func (c *Controller) InitController() error {
	return c.send(request{Method: mInitController})
}

func (c *Controller) InitStack() error {
	return c.send(request{Method: mInitStack})
}

func (c *Controller) RegisterCallbacks(s controller.Sink) error {
	if s == nil {
		return errors.Wrap(blecore.ErrInvalidArgument, "nil sink")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = s
	return nil
}

func (c *Controller) SetMTU(mtu int) error {
	return c.send(request{Method: mSetMTU, MTU: mtu})
}

// Deinit resets the remote stack. The port stays open for a later init.
func (c *Controller) Deinit() error {
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
	return c.send(request{Method: mDeinit})
}

func (c *Controller) Connect(addr blecore.Addr) error {
	return c.send(request{Method: mConnect, Handle: blecore.NoHandle, Addr: addr})
}

func (c *Controller) Disconnect(handle uint16) error {
	return c.send(request{Method: mDisconnect, Handle: handle})
}

func (c *Controller) DiscoverServices(handle uint16, filter blecore.UUID) error {
	return c.send(request{Method: mDiscoverSvcs, Handle: handle, Filter: filter})
}

func (c *Controller) DiscoverCharacteristics(handle uint16, svc blecore.Service, filter blecore.UUID) error {
	return c.send(request{Method: mDiscoverChars, Handle: handle, Service: &svc, Filter: filter})
}

func (c *Controller) Read(handle, attr uint16) error {
	return c.send(request{Method: mRead, Handle: handle, Attr: attr})
}

func (c *Controller) Write(handle, attr uint16, value []byte) error {
	return c.send(request{Method: mWrite, Handle: handle, Attr: attr, Value: value})
}

func (c *Controller) Subscribe(handle, cccd uint16, enable bool) error {
	return c.send(request{Method: mSubscribe, Handle: handle, Attr: cccd, Enable: enable})
}

func (c *Controller) StartBonding(handle uint16, forceRepair bool) error {
	return c.send(request{Method: mStartBonding, Handle: handle, Force: forceRepair})
}

func (c *Controller) SendPasskey(handle uint16, passkey string) error {
	return c.send(request{Method: mSendPasskey, Handle: handle, Passkey: passkey})
}

func (c *Controller) SetAdvertisingData(ad, sr []byte) error {
	return c.send(request{Method: mSetAdvData, Handle: blecore.NoHandle, Value: ad, ScanResp: sr})
}

func (c *Controller) SetAdvertising(enable bool, interval uint16) error {
	return c.send(request{Method: mSetAdvertising, Handle: blecore.NoHandle, Enable: enable, Interval: interval})
}

func (c *Controller) SetScanning(enable, active bool) error {
	return c.send(request{Method: mSetScanning, Handle: blecore.NoHandle, Enable: enable, Active: active})
}

func (c *Controller) PublishServices(svcs []blecore.Service, chars []blecore.Characteristic) error {
	return c.send(request{Method: mPublishServices, Handle: blecore.NoHandle, Services: svcs, Characteristics: chars})
}

func (c *Controller) RespondRead(handle, attr uint16, value []byte) error {
	return c.send(request{Method: mRespondRead, Handle: handle, Attr: attr, Value: value})
}

func (c *Controller) Notify(handle, attr uint16, value []byte, indicate bool) error {
	return c.send(request{Method: mNotify, Handle: handle, Attr: attr, Value: value, Enable: indicate})
}
