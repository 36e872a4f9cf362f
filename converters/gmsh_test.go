package converters_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshconv/config"
	"meshconv/converters"
	"meshconv/models"
)

// findStagingDir locates the host side of the bind mount in the argv the
// converter passes to the runner, mirroring what docker would see.
const findStagingDir = `dir=""
for a in "$@"; do
  case "$a" in
    *:/work) dir="${a%%:*}" ;;
  esac
done`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testConfig(runner string) config.Config {
	cfg := config.Default()
	cfg.Runner = runner
	cfg.Image = "gmsh-test"
	cfg.Timeout = 5 * time.Second
	return cfg
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func errKind(t *testing.T, err error) models.Kind {
	t.Helper()
	require.Error(t, err)
	return models.AsError(err).Kind
}

func TestConvertSuccess(t *testing.T) {
	script := writeScript(t, findStagingDir+"\nprintf 'o converted-mesh\\n' > \"$dir/output.obj\"")
	conv := converters.NewGmshConverter(testConfig(script), testLogger())
	staging := t.TempDir()

	out, err := conv.Convert(context.Background(), staging, strings.NewReader("iges bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(staging, converters.OutputName), out)

	mesh, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "o converted-mesh\n", string(mesh))

	input, err := os.ReadFile(filepath.Join(staging, converters.InputName))
	require.NoError(t, err)
	assert.Equal(t, "iges bytes", string(input))
}

func TestConvertToolFailureUsesStderr(t *testing.T) {
	script := writeScript(t, `echo "Error: degenerate geometry" >&2`+"\nexit 1")
	conv := converters.NewGmshConverter(testConfig(script), testLogger())

	_, err := conv.Convert(context.Background(), t.TempDir(), strings.NewReader("x"))
	assert.Equal(t, models.KindConversion, errKind(t, err))
	assert.Contains(t, err.Error(), "Error: degenerate geometry")
}

func TestConvertToolFailureFallsBackToStdout(t *testing.T) {
	script := writeScript(t, `echo "mesh statistics unavailable"`+"\nexit 2")
	conv := converters.NewGmshConverter(testConfig(script), testLogger())

	_, err := conv.Convert(context.Background(), t.TempDir(), strings.NewReader("x"))
	assert.Equal(t, models.KindConversion, errKind(t, err))
	assert.Contains(t, err.Error(), "mesh statistics unavailable")
}

func TestConvertNoOutputFile(t *testing.T) {
	// Exit zero without producing output.obj.
	script := writeScript(t, "exit 0")
	conv := converters.NewGmshConverter(testConfig(script), testLogger())

	_, err := conv.Convert(context.Background(), t.TempDir(), strings.NewReader("x"))
	assert.Equal(t, models.KindConversion, errKind(t, err))
	assert.Contains(t, err.Error(), "output file not created")
}

func TestConvertTimeoutKillsProcess(t *testing.T) {
	script := writeScript(t, "exec sleep 5")
	cfg := testConfig(script)
	cfg.Timeout = 100 * time.Millisecond
	conv := converters.NewGmshConverter(cfg, testLogger())

	start := time.Now()
	_, err := conv.Convert(context.Background(), t.TempDir(), strings.NewReader("x"))
	assert.Equal(t, models.KindTimeout, errKind(t, err))
	// Convert must have killed and joined the process, not waited it out.
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestConvertRuntimeMissing(t *testing.T) {
	conv := converters.NewGmshConverter(testConfig("no-such-container-runtime"), testLogger())

	_, err := conv.Convert(context.Background(), t.TempDir(), strings.NewReader("x"))
	assert.Equal(t, models.KindEnvironment, errKind(t, err))
}

func TestConvertEmptyRunner(t *testing.T) {
	conv := converters.NewGmshConverter(testConfig(""), testLogger())

	_, err := conv.Convert(context.Background(), t.TempDir(), strings.NewReader("x"))
	assert.Equal(t, models.KindEnvironment, errKind(t, err))
}

func TestConvertStagingWriteFailure(t *testing.T) {
	script := writeScript(t, "exit 0")
	conv := converters.NewGmshConverter(testConfig(script), testLogger())
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := conv.Convert(context.Background(), missing, strings.NewReader("x"))
	assert.Equal(t, models.KindIO, errKind(t, err))
}
