package hasher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHashKnownValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hello.txt", "hello")

	h, err := New(SHA256, 0)
	require.NoError(t, err)
	fp, err := h.Hash(path)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"), fp)
	assert.True(t, fp.Valid())

	h, err = New(BLAKE3, 0)
	require.NoError(t, err)
	fp, err = h.Hash(path)
	require.NoError(t, err)
	assert.True(t, fp.Valid())
	assert.NotEqual(t, Fingerprint("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"), fp)
	assert.Equal(t, BLAKE3, h.Algorithm())
}

func TestHashStability(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("0123456789abcdef", 10000)
	a := writeFile(t, dir, "a", content)
	b := writeFile(t, dir, "b", content)
	c := writeFile(t, dir, "c", content[:len(content)-1]+"X")

	for _, algorithm := range []Algorithm{SHA256, BLAKE3} {
		t.Run(string(algorithm), func(t *testing.T) {
			// small chunks force many reads per file
			h, err := New(algorithm, 7)
			require.NoError(t, err)

			first, err := h.Hash(a)
			require.NoError(t, err)
			again, err := h.Hash(a)
			require.NoError(t, err)
			other, err := h.Hash(b)
			require.NoError(t, err)
			changed, err := h.Hash(c)
			require.NoError(t, err)

			assert.Equal(t, first, again)
			assert.Equal(t, first, other)
			assert.NotEqual(t, first, changed)
		})
	}
}

func TestChunkSizeDoesNotChangeFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data", strings.Repeat("x", 100000))

	small, err := New(SHA256, 3)
	require.NoError(t, err)
	large, err := New(SHA256, 1<<20)
	require.NoError(t, err)

	fpSmall, err := small.Hash(path)
	require.NoError(t, err)
	fpLarge, err := large.Hash(path)
	require.NoError(t, err)
	assert.Equal(t, fpSmall, fpLarge)
}

func TestHashEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty", "")

	h, err := New(SHA256, 0)
	require.NoError(t, err)
	fp, err := h.Hash(path)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"), fp)
}

func TestHashUnreadable(t *testing.T) {
	h, err := New(SHA256, 0)
	require.NoError(t, err)

	fp, err := h.Hash(filepath.Join(t.TempDir(), "missing"))
	assert.Empty(t, fp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadable))
	assert.False(t, errors.Is(err, ErrIOFailure))

	var hashErr *HashError
	require.True(t, errors.As(err, &hashErr))
	assert.Equal(t, Unreadable, hashErr.Kind)
}

func TestHashDirectoryIsIOFailure(t *testing.T) {
	h, err := New(SHA256, 0)
	require.NoError(t, err)

	// opening a directory succeeds on unix, reading it does not
	fp, err := h.Hash(t.TempDir())
	assert.Empty(t, fp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIOFailure))
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := New("md5", 0)
	assert.ErrorIs(t, err, ErrAlgorithm)
}

func TestFingerprintValid(t *testing.T) {
	tests := []struct {
		fp    Fingerprint
		valid bool
	}{
		{"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", true},
		{"2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824", false},
		{"2cf24dba", false},
		{"", false},
		{"zcf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.fp.Valid(), string(tt.fp))
	}
}

func TestHashThroughFilesystem(t *testing.T) {
	memory := fsys.NewMemory()
	require.NoError(t, util.WriteFile(memory.Raw(), "/data/hello.txt", []byte("hello"), 0644))

	h, err := New(SHA256, 0, WithFS(memory))
	require.NoError(t, err)
	fp, err := h.Hash("/data/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"), fp)

	_, err = h.Hash("/data/missing.txt")
	assert.True(t, errors.Is(err, ErrUnreadable))
}

func TestDigestMatchesHashReader(t *testing.T) {
	h, err := New(BLAKE3, 0)
	require.NoError(t, err)

	digest := h.NewDigest()
	digest.Write([]byte("hel"))
	digest.Write([]byte("lo"))

	fp, err := h.HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, fp, Sum(digest))
}
