package pending

import (
	"context"
	"sync"

	"github.com/rigado/blecore"
)

// Result is the outcome of one operation.
type Result struct {
	Kind   blecore.OpKind
	Handle uint16
	Token  string
	Err    error

	// Conn is the handle of the link created by a connect.
	Conn uint16

	Value           []byte
	Services        []blecore.Service
	Characteristics []blecore.Characteristic
	Bonded          bool
	Level           blecore.SecurityLevel
}

// Callback is the runtime completion notification.
type Callback func(Result)

// Task is the caller's handle on an accepted operation. It completes exactly once.
type Task struct {
	kind   blecore.OpKind
	handle uint16
	token  string
	cb     Callback

	once sync.Once
	done chan struct{}
	res  Result
}

func newTask(kind blecore.OpKind, handle uint16, token string, cb Callback) *Task {
	return &Task{
		kind:   kind,
		handle: handle,
		token:  token,
		cb:     cb,
		done:   make(chan struct{}),
	}
}

// Completed returns a task that has already succeeded with res.
// The returned Delivery still has to be run to notify the callback.
func Completed(kind blecore.OpKind, handle uint16, cb Callback, res Result) (*Task, Delivery) {
	t := newTask(kind, handle, "", cb)
	d, _ := t.complete(res)
	return t, d
}

func (t *Task) Kind() blecore.OpKind { return t.kind }
func (t *Task) Handle() uint16        { return t.handle }
func (t *Task) Token() string         { return t.token }

// Done is closed once the task has a result.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome if the task completed.
func (t *Task) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until completion or ctx is done. Abandoning a wait does not
// cancel the operation.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *Task) complete(res Result) (Delivery, bool) {
	fired := false
	t.once.Do(func() {
		res.Kind = t.kind
		res.Handle = t.handle
		res.Token = t.token
		t.res = res
		close(t.done)
		fired = true
	})
	if !fired {
		return Delivery{}, false
	}
	return Delivery{cb: t.cb, res: t.res}, true
}

// Delivery is a completion notification waiting to run on the runtime thread.
type Delivery struct {
	cb  Callback
	res Result
}

// Run invokes the callback, if any.
func (d Delivery) Run() {
	if d.cb != nil {
		d.cb(d.res)
	}
}

// Result is the outcome being delivered.
func (d Delivery) Result() Result {
	return d.res
}
