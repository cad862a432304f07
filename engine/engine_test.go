package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharunyogenthra/bitleech/tracker"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, tracker.DefaultListenPort, cfg.ListenPort)
	assert.Equal(t, tracker.DefaultDHTTimeout, cfg.DHTTimeout)
	assert.Equal(t, "tmp_torrent", cfg.OutDir)
}

func TestWriteCreatesDirAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	path, err := write(dir, "payload.bin", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "payload.bin"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}
