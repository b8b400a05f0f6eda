package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 8*1024, cfg.PageSize)
	require.True(t, cfg.PanicOnCorruption)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
page_size: 4096
data_dir: /tmp/data
wal_dir: /tmp/wal
buffer_pool_frames: 64
index_schema_file: schema.json
panic_on_corruption: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.PageSize)
	require.Equal(t, "/tmp/data", cfg.DataDir)
	require.Equal(t, "/tmp/wal", cfg.WALDir)
	require.Equal(t, 64, cfg.BufferPoolFrames)
	require.Equal(t, "schema.json", cfg.IndexSchemaFile)
	require.False(t, cfg.PanicOnCorruption)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
