package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rigado/blecore"
	"github.com/rigado/blecore/config"
	"github.com/rigado/blecore/pending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(config.TracingConfig{Enabled: true, Exporter: "stdout"}, &buf)
	require.NoError(t, err)
	defer Setup(config.TracingConfig{}, nil)

	q := pending.New(0)
	_, _, err = q.Enqueue(blecore.OpRead, 0x40, nil)
	require.NoError(t, err)
	q.Resolve(blecore.OpRead, 0x40, pending.Result{Err: blecore.ErrConnectionLost})

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "ble.read")
	assert.Contains(t, out, blecore.ErrConnectionLost.Error())
}

func TestDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(config.TracingConfig{Enabled: false, Exporter: "stdout"}, &buf)
	require.NoError(t, err)

	q := pending.New(0)
	_, _, err = q.Enqueue(blecore.OpWrite, 0x40, nil)
	require.NoError(t, err)
	q.Resolve(blecore.OpWrite, 0x40, pending.Result{})

	require.NoError(t, shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := Setup(config.TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	assert.Error(t, err)
}
