package assets

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedBridge(t *testing.T) {
	raw, err := fs.ReadFile(Lib(), BridgeEntry)
	require.NoError(t, err)

	script := string(raw)
	for _, want := range []string{`"INIT"`, `"ID_ATTRIBUTION"`, `"NETWORK_IDLE"`, `"BRIDGE_LOG"`, "originHref"} {
		assert.Contains(t, script, want)
	}
}

func TestFileSystemPrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, BridgeEntry), []byte("// local build"), 0o644))

	f, err := FileSystem(dir).Open("/" + BridgeEntry)
	require.NoError(t, err)
	defer f.Close()
	raw, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "// local build", string(raw))

	f, err = FileSystem("").Open("/" + BridgeEntry)
	require.NoError(t, err)
	defer f.Close()
	raw, err = io.ReadAll(f)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "ID_ATTRIBUTION"))
}
