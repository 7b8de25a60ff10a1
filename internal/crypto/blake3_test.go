package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlake3HashFileMatchesInMemoryHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	content := []byte("hello fem")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	hash, size, err := Blake3HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	assert.Equal(t, Blake3Hash(content), hash)
	assert.Len(t, hash, 32)
}

func TestBlake3HashFileMissing(t *testing.T) {
	_, _, err := Blake3HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestSameContent(t *testing.T) {
	a := Blake3Hash([]byte("a"))
	assert.True(t, SameContent(a, Blake3Hash([]byte("a"))))
	assert.False(t, SameContent(a, Blake3Hash([]byte("b"))))
	assert.False(t, SameContent(nil, nil))
}
