// Package host bridges a single-threaded runtime and an asynchronous BLE
// controller.
//
// Requests are validated synchronously and either fail at the call site or
// return a pending.Task. Controller events are queued by the Sink and handled
// on the runtime thread by ExecPending, which resolves the matching operation
// and runs its completion callback, or hands unsolicited events to the
// registered event handler.
package host

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/rigado/blecore/adv"
	"github.com/rigado/blecore/conn"
	"github.com/rigado/blecore/controller"
	"github.com/rigado/blecore/evt"
	"github.com/rigado/blecore/gatt"
	"github.com/rigado/blecore/pending"
)

type handlerFn func(e evt.Event) error

// EventHandler receives events not tied to an outstanding request.
type EventHandler func(e evt.Event)

// ReportHandler receives decoded advertising reports.
type ReportHandler func(e evt.Event, r adv.Report)

// Host owns every piece of BLE state of one controller session.
type Host struct {
	mu  sync.Mutex
	ctl controller.Controller
	log blecore.Logger

	params params

	errorHandler func(error)
	bonds        blecore.BondStore
	cache        blecore.GattCache

	reg    *conn.Registry
	ops    *pending.Queue
	remote map[uint16]*gatt.Table
	sec    map[uint16]*security
	local  *gatt.Table

	initialized bool
	servicesSet bool
	advertising bool
	scanning    bool
	scanActive  bool
	scanWant    bool // mode requested by the outstanding scan toggle
	adData      []byte
	srData      []byte

	evth map[evt.Kind]handlerFn

	// controller events, appended by the sink
	muIn  sync.Mutex
	in    []evt.Event
	ready chan struct{}

	// runtime notifications waiting for the next drain
	muOut sync.Mutex
	out   []func()

	onEvent  EventHandler
	onReport ReportHandler
}

// New returns a host driving ctl. The controller is not touched until Init.
func New(ctl controller.Controller, opts ...blecore.Option) (*Host, error) {
	if ctl == nil {
		return nil, errors.Wrap(blecore.ErrInvalidArgument, "nil controller")
	}
	h := &Host{
		ctl:    ctl,
		log:    blecore.PkgLogger("host"),
		remote: make(map[uint16]*gatt.Table),
		sec:    make(map[uint16]*security),
		ready:  make(chan struct{}, 1),
	}
	h.params.init()
	if err := h.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	if err := h.params.validate(); err != nil {
		return nil, err
	}
	h.reg = conn.NewRegistry(h.params.centralLinks)
	h.ops = pending.New(h.params.maxPending)
	h.initHandlers()
	return h, nil
}

// Option applies opts, stopping at the first failure.
func (h *Host) Option(opts ...blecore.Option) error {
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return err
		}
	}
	return nil
}

// OnEvent registers the handler for unsolicited events.
func (h *Host) OnEvent(fn EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = fn
}

// OnAdvertisement registers the handler for scan reports.
func (h *Host) OnAdvertisement(fn ReportHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReport = fn
}

// Init brings the controller session up: controller, stack, callbacks, MTU.
// A disabled host logs a warning and stays uninitialised.
func (h *Host) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.init()
}

func (h *Host) init() error {
	if h.params.disabled {
		h.log.Warn("ble disabled, not initialising")
		return nil
	}
	if h.initialized {
		return nil
	}

	h.log.Info("init controller")
	if err := h.ctl.InitController(); err != nil {
		return errors.Wrap(err, "init controller")
	}
	if err := h.ctl.InitStack(); err != nil {
		return errors.Wrap(err, "init stack")
	}
	if err := h.ctl.RegisterCallbacks(h.sink); err != nil {
		return errors.Wrap(err, "register callbacks")
	}
	if err := h.ctl.SetMTU(h.params.mtu); err != nil {
		return errors.Wrap(err, "set mtu")
	}
	if h.adData != nil || h.srData != nil {
		if err := h.ctl.SetAdvertisingData(h.adData, h.srData); err != nil {
			return errors.Wrap(err, "set advertising data")
		}
	}
	h.initialized = true
	return nil
}

// Initialized reports whether a controller session is up.
func (h *Host) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// Kill fails every outstanding operation, forgets all links and shuts the
// controller session down.
func (h *Host) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.teardown()
}

func (h *Host) teardown() error {
	dd := h.ops.CancelEverything(errors.Wrap(blecore.ErrClosed, "ble stack torn down"))
	h.post(dd...)

	h.reg.Reset()
	h.remote = make(map[uint16]*gatt.Table)
	h.sec = make(map[uint16]*security)
	h.advertising = false
	h.scanning = false
	h.scanActive = false

	if !h.initialized {
		h.dropInbound()
		return nil
	}
	h.initialized = false
	h.log.Info("deinit controller")
	err := h.ctl.Deinit()

	// the controller may deliver until Deinit returns
	h.dropInbound()
	return errors.Wrap(err, "deinit")
}

func (h *Host) dropInbound() {
	h.muIn.Lock()
	h.in = nil
	h.muIn.Unlock()
}

// Restart tears the session down and brings it back up. onReset runs in
// between, while no services are published, so the caller can redeclare them.
func (h *Host) Restart(onReset func()) error {
	h.mu.Lock()
	if h.initialized && h.scanning {
		if err := h.ctl.SetScanning(false, false); err != nil {
			h.log.Warnf("stop scanning: %v", err)
		}
	}
	err := h.teardown()
	h.servicesSet = false
	h.local = nil
	h.mu.Unlock()

	if err != nil {
		h.log.Warnf("restart: %v", err)
	}
	if onReset != nil {
		onReset()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.init()
}

// sink is registered with the controller. It may run on any goroutine.
func (h *Host) sink(e evt.Event) {
	h.muIn.Lock()
	h.in = append(h.in, e)
	h.muIn.Unlock()
	h.wake()
}

func (h *Host) wake() {
	select {
	case h.ready <- struct{}{}:
	default:
	}
}

// Ready signals that ExecPending has work.
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

// ExecPending handles queued controller events and runs the resulting
// notifications on the calling goroutine. It returns the number of
// controller events handled.
func (h *Host) ExecPending() int {
	n := 0
	for {
		h.muIn.Lock()
		in := h.in
		h.in = nil
		h.muIn.Unlock()

		for _, e := range in {
			h.dispatch(e)
			n++
		}

		h.muOut.Lock()
		out := h.out
		h.out = nil
		h.muOut.Unlock()

		for _, fn := range out {
			fn()
		}

		if len(in) == 0 && len(out) == 0 {
			return n
		}
	}
}

// Run drains events until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	for {
		h.ExecPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ready:
		}
	}
}

// post schedules completions for the next drain.
func (h *Host) post(dd ...pending.Delivery) {
	if len(dd) == 0 {
		return
	}
	h.muOut.Lock()
	for _, d := range dd {
		h.out = append(h.out, d.Run)
	}
	h.muOut.Unlock()
	h.wake()
}

// emit schedules an unsolicited event for the runtime; callers hold mu.
func (h *Host) emit(e evt.Event) {
	fn := h.onEvent
	if fn == nil {
		h.log.Debugf("unhandled event %v", e)
		return
	}
	h.muOut.Lock()
	h.out = append(h.out, func() { fn(e) })
	h.muOut.Unlock()
	h.wake()
}

func (h *Host) dispatch(e evt.Event) {
	f, ok := h.evth[e.Kind]
	if !ok {
		h.dispatchError(errors.Errorf("unsupported event %v", e))
		return
	}

	h.mu.Lock()
	err := f(e)
	h.mu.Unlock()

	if err != nil {
		h.dispatchError(errors.Wrapf(err, "%v", e.Kind))
	}
}

func (h *Host) dispatchError(e error) {
	if h.errorHandler == nil {
		h.log.Error(e)
		return
	}
	h.errorHandler(e)
}

// requireInit fails when no controller session is up; callers hold mu.
func (h *Host) requireInit() error {
	if !h.initialized {
		return blecore.ErrClosed
	}
	return nil
}

// submit enqueues an operation then hands the request to the controller.
// A refused request leaves no operation behind. Callers hold mu.
func (h *Host) submit(kind blecore.OpKind, handle uint16, cb pending.Callback, call func() error) (*pending.Op, *pending.Task, error) {
	op, t, err := h.ops.Enqueue(kind, handle, cb)
	if err != nil {
		return nil, nil, err
	}
	if err := call(); err != nil {
		h.ops.Withdraw(op)
		return nil, nil, errors.Wrapf(err, "%v", kind)
	}
	return op, t, nil
}

// Outstanding lists the pending operations, oldest first.
func (h *Host) Outstanding() []pending.Info {
	return h.ops.Outstanding()
}

// Supersede fails an abandoned operation with ErrSuperseded so that a new
// request of the same kind can be issued.
func (h *Host) Supersede(kind blecore.OpKind, handle uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if kind.Connectionless() {
		handle = blecore.NoHandle
	}
	dd, ok := h.ops.Supersede(kind, handle)
	if !ok {
		return errors.Wrapf(blecore.ErrNotFound, "no %v pending on %04X", kind, handle)
	}
	h.afterFailure(kind, handle)
	h.post(dd...)
	return nil
}
