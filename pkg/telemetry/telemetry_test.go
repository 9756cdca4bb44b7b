package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ksharma-417/yureidb/core/buffer/flushio"
	"github.com/ksharma-417/yureidb/core/buffer/pool"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.Tracer)
	require.NoError(t, shutdown(context.Background()))
}

func TestUnknownExporterRejected(t *testing.T) {
	_, _, err := New(Config{Enabled: true, Exporter: "statsd"})
	require.Error(t, err)
}

func TestInstrumentEngine(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	// The "none" exporter gives a real SDK meter without binding a port.
	tel, shutdown, err := New(Config{Enabled: true, Exporter: "none"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	cfg := pool.Config{
		TotalPoolBytes:  16 * 512,
		InstanceCount:   1,
		PageSize:        512,
		FlushIntervalMS: 3_600_000,
	}
	e, err := pool.Open(cfg, logger, flushio.NewMemManager(512), pool.Options{})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, tel.InstrumentEngine(e))
}
