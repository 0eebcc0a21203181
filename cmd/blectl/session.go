package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/config"
	"github.com/rigado/blecore/controller"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/host"
	"github.com/rigado/blecore/pending"
	"github.com/rigado/blecore/sim"
	"github.com/rigado/blecore/tracing"
	"github.com/rigado/blecore/uart"
	"github.com/urfave/cli"
)

// session is an initialised host with its event loop running.
type session struct {
	cfg     *config.Config
	h       *host.Host
	sim     *sim.Controller
	timeout time.Duration

	ctx    context.Context
	stop   context.CancelFunc
	done   chan struct{}
	closer io.Closer
	trace  tracing.Shutdown

	out   io.Writer
	outMu sync.Mutex

	evMu    sync.Mutex
	onEvent func(evt.Event)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.GlobalString("log"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := blecore.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func open(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		timeout: c.GlobalDuration("timeout"),
		out:     c.App.Writer,
		done:    make(chan struct{}),
	}
	if s.trace, err = tracing.Setup(cfg.Tracing, nil); err != nil {
		return nil, err
	}

	var ctl controller.Controller
	switch cfg.Controller.Type {
	case config.ControllerUART:
		u, err := uart.Open(uart.Options{Port: cfg.Controller.Port, Baud: cfg.Controller.Baud, Timeout: cfg.Controller.Timeout})
		if err != nil {
			return nil, err
		}
		ctl, s.closer = u, u
	default:
		sc, err := cfg.SimConfig()
		if err != nil {
			return nil, err
		}
		if s.sim, err = sim.New(sc); err != nil {
			return nil, err
		}
		ctl = s.sim
	}

	opts := append(cfg.Options(), blecore.OptErrorHandler(func(err error) {
		s.printf("error: %v\n", err)
	}))
	if s.h, err = host.New(ctl, opts...); err != nil {
		s.release()
		return nil, err
	}
	s.h.OnEvent(func(e evt.Event) {
		s.evMu.Lock()
		fn := s.onEvent
		s.evMu.Unlock()
		if fn != nil {
			fn(e)
		}
	})
	if err := s.h.Init(); err != nil {
		s.release()
		return nil, err
	}

	s.ctx, s.stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer close(s.done)
		_ = s.h.Run(s.ctx)
	}()
	return s, nil
}

func (s *session) close() {
	s.stop()
	<-s.done
	if err := s.h.Kill(); err != nil {
		s.printf("kill: %v\n", err)
	}
	s.release()
}

func (s *session) release() {
	if s.closer != nil {
		_ = s.closer.Close()
	}
	if s.trace != nil {
		_ = s.trace(context.Background())
	}
}

// handle routes unsolicited events to fn.
func (s *session) handle(fn func(evt.Event)) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	s.onEvent = fn
}

func (s *session) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// wait blocks for an accepted operation, bounded by the operation timeout.
func (s *session) wait(t *pending.Task, err error) (pending.Result, error) {
	if err != nil {
		return pending.Result{}, err
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	res, err := t.Wait(ctx)
	if err == context.DeadlineExceeded {
		return res, errors.Wrapf(err, "%v", t.Kind())
	}
	return res, err
}

// sleep waits for d or until the session is interrupted. Zero waits for the interrupt.
func (s *session) sleep(d time.Duration) {
	if d <= 0 {
		<-s.ctx.Done()
		return
	}
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}

func (s *session) connect(addr string) (uint16, error) {
	a, err := blecore.ParseAddr(addr)
	if err != nil {
		return 0, err
	}
	res, err := s.wait(s.h.Connect(a, nil))
	if err != nil {
		return 0, errors.Wrapf(err, "connect %v", a)
	}
	s.printf("connected to %v, handle %04X\n", a, res.Conn)
	return res.Conn, nil
}

func (s *session) disconnect(handle uint16) {
	if _, err := s.wait(s.h.Disconnect(handle, nil)); err != nil {
		s.printf("disconnect: %v\n", err)
	}
}

// bond pairs on handle and answers a passkey request with passkey.
func (s *session) bond(handle uint16, force bool, passkey string) error {
	s.handle(func(e evt.Event) {
		if e.Kind != evt.PasskeyRequest || e.Handle != handle {
			return
		}
		if passkey == "" {
			s.printf("passkey requested, none given\n")
			return
		}
		if err := s.h.SendPasskey(handle, passkey); err != nil {
			s.printf("passkey: %v\n", err)
		}
	})
	defer s.handle(nil)

	res, err := s.wait(s.h.StartBonding(handle, force, nil))
	if err != nil {
		return errors.Wrap(err, "bond")
	}
	s.printf("bonded %v, security level %d\n", res.Bonded, res.Level)
	return nil
}
