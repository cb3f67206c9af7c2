package checksum_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/installforge/core/internal/checksum"
)

func TestFromReader(t *testing.T) {
	t.Parallel()
	digest, err := checksum.FromReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", hexOf(digest))
}

func TestFileAndVerify(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload-bytes"), 0o644))

	digest, err := checksum.File(path)
	require.NoError(t, err)

	assert.NoError(t, checksum.Verify(path, digest))

	bad := make([]byte, len(digest))
	copy(bad, digest)
	bad[0] ^= 0xFF
	assert.Error(t, checksum.Verify(path, bad))
}

func TestRunningAccumulator(t *testing.T) {
	t.Parallel()
	r := checksum.NewRunning()
	_, err := r.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = r.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", r.HexSum())
}

func TestParseHex(t *testing.T) {
	t.Parallel()
	_, err := checksum.ParseHex("not-hex")
	assert.Error(t, err)

	_, err = checksum.ParseHex("deadbeef")
	assert.Error(t, err, "wrong length for sha1 should fail")

	good, err := checksum.ParseHex("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed")
	require.NoError(t, err)
	assert.Len(t, good, 20)
}

func hexOf(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
