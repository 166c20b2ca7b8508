package logging

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"

	"opti-lambda-go/config"
)

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LogConfig{Level: "warn", Format: "logfmt"})

	level.Info(logger).Log("msg", "dropped")
	require.Empty(t, buf.String())

	level.Warn(logger).Log("msg", "kept")
	require.Contains(t, buf.String(), "msg=kept")
	require.Contains(t, buf.String(), "level=warn")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "json"})

	level.Debug(logger).Log("msg", "hello", "rows", 3)
	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"rows":3`)
}
