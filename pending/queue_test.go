package pending

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blecore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAll(dd []Delivery) {
	for _, d := range dd {
		d.Run()
	}
}

func TestEnqueueBusy(t *testing.T) {
	q := New(4)

	var got []Result
	op, task, err := q.Enqueue(blecore.OpRead, 1, func(r Result) { got = append(got, r) })
	require.NoError(t, err)
	require.NotEmpty(t, op.Token)
	assert.Equal(t, op.Token, task.Token())

	_, _, err = q.Enqueue(blecore.OpRead, 1, nil)
	assert.Equal(t, blecore.ErrBusy, errors.Cause(err))

	// same kind on another handle is fine
	_, _, err = q.Enqueue(blecore.OpRead, 2, nil)
	assert.NoError(t, err)

	dd, ok := q.Resolve(blecore.OpRead, 1, Result{Value: []byte{0x42}})
	require.True(t, ok)
	runAll(dd)

	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x42}, got[0].Value)
	assert.Equal(t, blecore.OpRead, got[0].Kind)
	assert.Equal(t, uint16(1), got[0].Handle)

	_, ok = q.Resolve(blecore.OpRead, 1, Result{})
	assert.False(t, ok)
}

func TestQueueBound(t *testing.T) {
	q := New(2)
	_, _, err := q.Enqueue(blecore.OpRead, 1, nil)
	require.NoError(t, err)
	_, _, err = q.Enqueue(blecore.OpWrite, 1, nil)
	require.NoError(t, err)
	_, _, err = q.Enqueue(blecore.OpSubscribe, 1, nil)
	assert.Equal(t, blecore.ErrBusy, errors.Cause(err))
	assert.Equal(t, 2, q.Len())
}

func TestCancelAllOnce(t *testing.T) {
	q := New(8)
	calls := map[blecore.OpKind]int{}
	cb := func(r Result) {
		calls[r.Kind]++
		assert.Equal(t, blecore.ErrConnectionLost, errors.Cause(r.Err))
	}

	for _, k := range []blecore.OpKind{blecore.OpRead, blecore.OpWrite, blecore.OpServiceDiscovery} {
		_, _, err := q.Enqueue(k, 7, cb)
		require.NoError(t, err)
	}
	_, other, err := q.Enqueue(blecore.OpRead, 8, nil)
	require.NoError(t, err)

	dd := q.CancelAll(7, blecore.ErrConnectionLost)
	require.Len(t, dd, 3)
	assert.Equal(t, blecore.OpRead, dd[0].Result().Kind)
	assert.Equal(t, blecore.OpServiceDiscovery, dd[2].Result().Kind)
	runAll(dd)

	assert.Len(t, calls, 3)
	for k, n := range calls {
		assert.Equal(t, 1, n, k.String())
	}

	// a late completion finds nothing
	_, ok := q.Resolve(blecore.OpWrite, 7, Result{})
	assert.False(t, ok)

	_, done := other.Result()
	assert.False(t, done)
	assert.Equal(t, 1, q.Len())
}

func TestJoin(t *testing.T) {
	q := New(4)
	n := 0
	_, first, err := q.Enqueue(blecore.OpScanToggle, blecore.NoHandle, func(Result) { n++ })
	require.NoError(t, err)
	second, err := q.Join(blecore.OpScanToggle, blecore.NoHandle, func(Result) { n++ })
	require.NoError(t, err)
	assert.Equal(t, first.Token(), second.Token())

	dd, ok := q.Resolve(blecore.OpScanToggle, blecore.NoHandle, Result{})
	require.True(t, ok)
	runAll(dd)
	assert.Equal(t, 2, n)

	_, err = q.Join(blecore.OpScanToggle, blecore.NoHandle, nil)
	assert.Equal(t, blecore.ErrNotFound, errors.Cause(err))
}

func TestResolveToken(t *testing.T) {
	q := New(4)
	op, task, err := q.Enqueue(blecore.OpWrite, 3, nil)
	require.NoError(t, err)

	_, ok := q.ResolveToken("nope", Result{})
	assert.False(t, ok)

	_, ok = q.ResolveToken(op.Token, Result{Err: blecore.StatusError(0x0E)})
	require.True(t, ok)

	_, err = task.Wait(context.Background())
	code, isCtl := blecore.IsControllerError(err)
	require.True(t, isCtl)
	assert.Equal(t, blecore.ControllerError(0x0E), code)
}

func TestPartialMerged(t *testing.T) {
	q := New(4)
	_, task, err := q.Enqueue(blecore.OpServiceDiscovery, 1, nil)
	require.NoError(t, err)

	svc := blecore.Service{UUID: blecore.UUID16(0x180D), Handle: 1, End: 5}
	ok := q.Update(blecore.OpServiceDiscovery, 1, func(op *Op) {
		op.Partial.Services = append(op.Partial.Services, svc)
	})
	require.True(t, ok)

	_, ok = q.Resolve(blecore.OpServiceDiscovery, 1, Result{})
	require.True(t, ok)
	res, done := task.Result()
	require.True(t, done)
	assert.Equal(t, []blecore.Service{svc}, res.Services)
}

func TestSupersede(t *testing.T) {
	q := New(4)
	_, old, err := q.Enqueue(blecore.OpRead, 1, nil)
	require.NoError(t, err)

	_, ok := q.Supersede(blecore.OpRead, 1)
	require.True(t, ok)
	res, _ := old.Result()
	assert.Equal(t, blecore.ErrSuperseded, errors.Cause(res.Err))

	_, _, err = q.Enqueue(blecore.OpRead, 1, nil)
	assert.NoError(t, err)
}

func TestOutstandingAndWithdraw(t *testing.T) {
	q := New(4)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	op, _, err := q.Enqueue(blecore.OpConnect, blecore.NoHandle, nil)
	require.NoError(t, err)
	q.now = func() time.Time { return base.Add(time.Second) }

	out := q.Outstanding()
	require.Len(t, out, 1)
	assert.Equal(t, blecore.OpConnect, out[0].Kind)
	assert.Equal(t, time.Second, out[0].Age)

	q.Withdraw(op)
	assert.Equal(t, 0, q.Len())
}

func TestWaitContext(t *testing.T) {
	q := New(1)
	_, task, err := q.Enqueue(blecore.OpRead, 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = task.Wait(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
	// abandoning a wait leaves the op in place
	assert.Equal(t, 1, q.Len())
}

func TestCompleted(t *testing.T) {
	n := 0
	task, d := Completed(blecore.OpAdvertiseToggle, blecore.NoHandle, func(Result) { n++ }, Result{})
	_, done := task.Result()
	assert.True(t, done)
	assert.Equal(t, 0, n)
	d.Run()
	assert.Equal(t, 1, n)
}
