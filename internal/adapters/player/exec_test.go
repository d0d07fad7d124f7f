package player

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTool(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return path
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("playback never finished")
		return nil
	}
}

func TestPlaysClipOnStdin(t *testing.T) {
	requireTool(t, "sh")
	out := filepath.Join(t.TempDir(), "clip")
	p := New(Config{Command: "sh", Args: []string{"-c", "cat > " + out}})

	done := make(chan error, 1)
	_, err := p.Start(context.Background(), []byte("mp3 bytes"), func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, wait(t, done))
	assert.FileExists(t, out)
}

func TestStopKillsPlayback(t *testing.T) {
	requireTool(t, "sleep")
	p := New(Config{Command: "sleep", Args: []string{"30"}})

	done := make(chan error, 1)
	stop, err := p.Start(context.Background(), nil, func(err error) { done <- err })
	require.NoError(t, err)
	stop()
	stop()
	assert.Error(t, wait(t, done))
}

func TestFailingPlayerReportsError(t *testing.T) {
	requireTool(t, "sh")
	p := New(Config{Command: "sh", Args: []string{"-c", "cat >/dev/null; echo broken >&2; exit 3"}})

	done := make(chan error, 1)
	_, err := p.Start(context.Background(), []byte("x"), func(err error) { done <- err })
	require.NoError(t, err)
	err = wait(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestMissingCommand(t *testing.T) {
	p := New(Config{Command: "speakcall-no-such-player"})
	_, err := p.Start(context.Background(), []byte("x"), func(error) {})
	assert.Error(t, err)
}
