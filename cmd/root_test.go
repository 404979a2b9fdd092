package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/radar-snapshot/internal/config"
	"github.com/JakeFAU/radar-snapshot/internal/server"
	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

type fakeApp struct {
	mu         sync.Mutex
	cfg        config.Config
	opts       int
	captureErr error
	ran        bool
	closed     bool
}

func (f *fakeApp) Run(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = true
	return nil
}

func (f *fakeApp) Capture(context.Context) (snapshot.Result, error) {
	if f.captureErr != nil {
		return snapshot.Result{}, f.captureErr
	}
	return snapshot.Result{
		RunID:   "run-1",
		Label:   "01/07/2024, 12:00",
		Bytes:   42,
		Width:   640,
		Height:  480,
		Consent: snapshot.ConsentSuppressed,
	}, nil
}

func (f *fakeApp) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger {
	return zap.NewNop()
}

func (f *fakeApp) factory() appFactory {
	return func(_ context.Context, cfg config.Config, opts ...server.Option) (App, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cfg = cfg
		f.opts = len(opts)
		return f, nil
	}
}

func execute(t *testing.T, factory appFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCaptureCommandPrintsSummary(t *testing.T) {
	t.Parallel()

	app := &fakeApp{}
	out, err := execute(t, app.factory(), "capture")
	require.NoError(t, err)

	var summary captureSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "01/07/2024, 12:00", summary.Label)
	assert.Equal(t, "suppressed", summary.Consent)
	assert.Equal(t, 0, app.opts)
	assert.True(t, app.closed)
}

func TestCaptureCommandAtAndOutput(t *testing.T) {
	t.Parallel()

	app := &fakeApp{}
	_, err := execute(t, app.factory(), "capture", "--at", "2024-07-01T09:00:00Z", "-o", "/tmp/radar.png")
	require.NoError(t, err)

	assert.Equal(t, 1, app.opts)
	assert.Equal(t, "local", app.cfg.Storage.Backend)
	assert.Equal(t, "/tmp/radar.png", app.cfg.Storage.Local.Path)
}

func TestCaptureCommandRejectsBadTime(t *testing.T) {
	t.Parallel()

	app := &fakeApp{}
	_, err := execute(t, app.factory(), "capture", "--at", "yesterday")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--at")
}

func TestCaptureCommandFailsWhenRunFails(t *testing.T) {
	t.Parallel()

	app := &fakeApp{captureErr: snapshot.ErrCapture}
	_, err := execute(t, app.factory(), "capture")
	require.Error(t, err)
	require.True(t, errors.Is(err, snapshot.ErrCapture))
	require.True(t, app.closed)
}

func TestServeCommandRunsApp(t *testing.T) {
	t.Parallel()

	app := &fakeApp{}
	_, err := execute(t, app.factory(), "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.Equal(t, time.Duration(300)*time.Second, app.cfg.Period())
}

func TestMissingConfigFile(t *testing.T) {
	t.Parallel()

	app := &fakeApp{}
	_, err := execute(t, app.factory(), "--config", "/does/not/exist.yaml", "serve")
	require.Error(t, err)
	require.False(t, app.ran)
}
