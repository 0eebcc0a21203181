// Package pending tracks in-flight controller requests.
//
// At most one operation of a given kind may be outstanding per connection
// handle; a second request is refused with blecore.ErrBusy rather than queued.
// Operations leave the queue only when resolved, cancelled or superseded.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rigado/blecore/pending"

// DefaultMax bounds the queue when no size is configured.
const DefaultMax = 32

// Op is one outstanding request.
type Op struct {
	Kind    blecore.OpKind
	Handle  uint16
	Token   string
	Created time.Time

	// Target is the requested state for scan and advertise toggles.
	Target bool
	// Partial collects results reported before the completing event.
	Partial Result

	tasks []*Task
	span  trace.Span
}

// Info describes an outstanding operation for diagnostics.
type Info struct {
	Kind   blecore.OpKind
	Handle uint16
	Token  string
	Age    time.Duration
}

// Queue is the bounded set of outstanding operations, kept in submission order.
type Queue struct {
	mu  sync.Mutex
	ops []*Op
	max int
	now func() time.Time
	log blecore.Logger
}

// New returns a queue holding at most max operations.
func New(max int) *Queue {
	if max <= 0 {
		max = DefaultMax
	}
	return &Queue{
		max: max,
		now: time.Now,
		log: blecore.PkgLogger("pending"),
	}
}

// Enqueue registers a new operation. It fails with ErrBusy when an operation
// of the same kind is outstanding on handle, or when the queue is full.
func (q *Queue) Enqueue(kind blecore.OpKind, handle uint16, cb Callback) (*Op, *Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op := q.find(kind, handle); op != nil {
		return nil, nil, errors.Wrapf(blecore.ErrBusy, "%v pending on %04X", kind, handle)
	}
	if len(q.ops) >= q.max {
		return nil, nil, errors.Wrapf(blecore.ErrBusy, "%d operations pending", len(q.ops))
	}

	token := ulid.Make().String()
	_, span := otel.Tracer(tracerName).Start(context.Background(), "ble."+kind.String(),
		trace.WithAttributes(
			attribute.String("ble.op", kind.String()),
			attribute.Int("ble.handle", int(handle)),
			attribute.String("ble.token", token),
		))

	op := &Op{
		Kind:    kind,
		Handle:  handle,
		Token:   token,
		Created: q.now(),
		span:    span,
	}
	t := newTask(kind, handle, token, cb)
	op.tasks = append(op.tasks, t)
	q.ops = append(q.ops, op)

	q.log.Debugf("enqueue %v on %04X token %v", kind, handle, token)
	return op, t, nil
}

// Join attaches another waiter to the outstanding operation of kind on handle.
func (q *Queue) Join(kind blecore.OpKind, handle uint16, cb Callback) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.find(kind, handle)
	if op == nil {
		return nil, errors.Wrapf(blecore.ErrNotFound, "%v pending on %04X", kind, handle)
	}
	t := newTask(kind, handle, op.Token, cb)
	op.tasks = append(op.tasks, t)
	return t, nil
}

// Peek returns a copy of the outstanding operation of kind on handle.
func (q *Queue) Peek(kind blecore.OpKind, handle uint16) (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op := q.find(kind, handle)
	if op == nil {
		return Op{}, false
	}
	return *op, true
}

// Update runs fn on the outstanding operation of kind on handle.
func (q *Queue) Update(kind blecore.OpKind, handle uint16, fn func(*Op)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	op := q.find(kind, handle)
	if op == nil {
		return false
	}
	fn(op)
	return true
}

// Withdraw removes an operation without notifying anyone. It is used when the
// controller refuses a request right after it was enqueued.
func (q *Queue) Withdraw(op *Op) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, o := range q.ops {
		if o == op {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			endSpan(op, errors.New("withdrawn"))
			return
		}
	}
}

// Resolve completes the operation of kind on handle. Results accumulated in
// Partial are merged into res. It returns false when nothing was pending.
func (q *Queue) Resolve(kind blecore.OpKind, handle uint16, res Result) ([]Delivery, bool) {
	q.mu.Lock()
	op := q.find(kind, handle)
	if op != nil {
		q.remove(op)
	}
	q.mu.Unlock()

	if op == nil {
		return nil, false
	}
	return q.finish(op, res), true
}

// ResolveToken completes the operation carrying token.
func (q *Queue) ResolveToken(token string, res Result) ([]Delivery, bool) {
	q.mu.Lock()
	var op *Op
	for _, o := range q.ops {
		if o.Token == token {
			op = o
			break
		}
	}
	if op != nil {
		q.remove(op)
	}
	q.mu.Unlock()

	if op == nil {
		return nil, false
	}
	return q.finish(op, res), true
}

// CancelAll fails every operation on handle with err, in submission order.
func (q *Queue) CancelAll(handle uint16, err error) []Delivery {
	return q.cancelWhere(func(op *Op) bool { return op.Handle == handle }, err)
}

// CancelEverything fails every outstanding operation with err.
func (q *Queue) CancelEverything(err error) []Delivery {
	return q.cancelWhere(func(*Op) bool { return true }, err)
}

// Supersede fails an abandoned operation with ErrSuperseded so a new request
// of the same kind can be issued.
func (q *Queue) Supersede(kind blecore.OpKind, handle uint16) ([]Delivery, bool) {
	return q.Resolve(kind, handle, Result{Err: errors.Wrapf(blecore.ErrSuperseded, "%v on %04X", kind, handle)})
}

// Outstanding lists the pending operations, oldest first.
func (q *Queue) Outstanding() []Info {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := make([]Info, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, Info{Kind: op.Kind, Handle: op.Handle, Token: op.Token, Age: now.Sub(op.Created)})
	}
	return out
}

// Len is the number of outstanding operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *Queue) cancelWhere(match func(*Op) bool, err error) []Delivery {
	q.mu.Lock()
	var victims []*Op
	kept := q.ops[:0]
	for _, op := range q.ops {
		if match(op) {
			victims = append(victims, op)
		} else {
			kept = append(kept, op)
		}
	}
	q.ops = kept
	q.mu.Unlock()

	var dd []Delivery
	for _, op := range victims {
		dd = append(dd, q.finish(op, Result{Err: err})...)
	}
	return dd
}

func (q *Queue) finish(op *Op, res Result) []Delivery {
	if res.Services == nil {
		res.Services = op.Partial.Services
	}
	if res.Characteristics == nil {
		res.Characteristics = op.Partial.Characteristics
	}
	endSpan(op, res.Err)
	q.log.Debugf("resolve %v on %04X token %v err %v", op.Kind, op.Handle, op.Token, res.Err)

	dd := make([]Delivery, 0, len(op.tasks))
	for _, t := range op.tasks {
		if d, ok := t.complete(res); ok {
			dd = append(dd, d)
		}
	}
	return dd
}

// callers hold mu
func (q *Queue) find(kind blecore.OpKind, handle uint16) *Op {
	for _, op := range q.ops {
		if op.Kind == kind && op.Handle == handle {
			return op
		}
	}
	return nil
}

// callers hold mu
func (q *Queue) remove(op *Op) {
	for i, o := range q.ops {
		if o == op {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

func endSpan(op *Op, err error) {
	if op.span == nil {
		return
	}
	if err != nil {
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, err.Error())
	}
	op.span.End()
}
