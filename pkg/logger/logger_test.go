package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsLoggerForEachFormat(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := New(Config{Level: "debug", Format: format, OutputFile: "stdout"})
		require.NoError(t, err, "format %q", format)
		l.Debug("hello")
	}
}

func TestNewRejectsUnwritableFile(t *testing.T) {
	_, err := New(Config{OutputFile: "/nonexistent-dir/x/y.log"})
	require.Error(t, err)
}

func TestSamplingConfigAccepted(t *testing.T) {
	l, err := New(Config{
		Level:      "debug",
		OutputFile: "stderr",
		Sampling:   Sampling{Enabled: true, Initial: 2, Thereafter: 10},
	})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		l.Debug("page get")
	}
}

func TestSamplingDefaultsFilledWhenUnset(t *testing.T) {
	// Zero Initial/Thereafter must not panic or divide by zero inside the
	// sampler; defaults apply.
	l, err := New(Config{
		Level:      "debug",
		OutputFile: "stderr",
		Sampling:   Sampling{Enabled: true},
	})
	require.NoError(t, err)
	l.Debug("page get")
}

func TestForEngineAttachesIdentity(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ForEngine(base, "engine-123").Info("opened")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "bufpool", entry.LoggerName)
	require.Equal(t, "engine-123", entry.ContextMap()[FieldEngineID])
}

func TestForInstanceAttachesShard(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ForInstance(ForEngine(base, "e"), 3).Info("shard up")
	m := logs.All()[0].ContextMap()
	require.Equal(t, int64(3), m[FieldPoolInstance])
	require.Equal(t, "e", m[FieldEngineID])
}
