package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fpA = hasher.Fingerprint("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	fpB = hasher.Fingerprint("486ea46224d1bb4fb680f34f7c9ad96a8f24ec88be73ea8e5a6c65260e9cb8a7")
)

func TestLoadMissing(t *testing.T) {
	m := ForDestination(t.TempDir(), FormatFull)
	found, err := m.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, m.Count())
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatFull, FormatIndex} {
		t.Run(format.FileName(), func(t *testing.T) {
			dir := t.TempDir()
			m := ForDestination(dir, format)
			_, _, err := m.Put("b.txt", Entry{Fingerprint: fpA, Size: 5, ModTime: 1700000000})
			require.NoError(t, err)
			_, _, err = m.Put("a.txt", Entry{Fingerprint: fpA, Size: 5, ModTime: 1700000001})
			require.NoError(t, err)
			_, _, err = m.Put("sub/dir|odd.txt", Entry{Fingerprint: fpB, Size: 12, ModTime: 1})
			require.NoError(t, err)
			require.NoError(t, m.Save())

			reloaded := ForDestination(dir, format)
			found, err := reloaded.Load()
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, 3, reloaded.Count())
			assert.Equal(t, []string{"a.txt", "b.txt", "sub/dir|odd.txt"}, reloaded.Paths())
			assert.ElementsMatch(t, m.Fingerprints(), reloaded.Fingerprints())

			for _, path := range m.Paths() {
				want, _ := m.Get(path)
				got, ok := reloaded.Get(path)
				require.True(t, ok)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestSaveFormat(t *testing.T) {
	dir := t.TempDir()
	full := ForDestination(dir, FormatFull)
	full.Put("z", Entry{Fingerprint: fpB, Size: 3, ModTime: 9})
	full.Put("a", Entry{Fingerprint: fpA, Size: 5, ModTime: 7})
	require.NoError(t, full.Save())

	data, err := os.ReadFile(filepath.Join(dir, ".backup_manifest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a|"+string(fpA)+"|5|7\nz|"+string(fpB)+"|3|9\n", string(data))

	index := ForDestination(dir, FormatIndex)
	index.Put("a", Entry{Fingerprint: fpA, Size: 5, ModTime: 7})
	require.NoError(t, index.Save())

	data, err = os.ReadFile(filepath.Join(dir, ".dedup_index.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a|"+string(fpA)+"\n", string(data))
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	m := ForDestination(dir, FormatFull)
	for _, p := range []string{"c", "a", "b/x", "b/a"} {
		m.Put(p, Entry{Fingerprint: fpA, Size: 1, ModTime: 2})
	}
	require.NoError(t, m.Save())
	first, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	reloaded := ForDestination(dir, FormatFull)
	_, err = reloaded.Load()
	require.NoError(t, err)
	require.NoError(t, reloaded.Save())
	second, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoadToleratesMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := "\n" +
		"good.txt|" + string(fpA) + "|5|7\n" +
		"no-delimiters\n" +
		"short|" + string(fpA) + "|5\n" +
		"badsize|" + string(fpA) + "|five|7\n" +
		"badfp|nothex|5|7\n" +
		"\r\n" +
		"windows\\path.txt|" + string(fpB) + "|1|2\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FullFileName), []byte(content), 0644))

	m := ForDestination(dir, FormatFull)
	found, err := m.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 4, m.Skipped())

	entry, ok := m.Get("good.txt")
	require.True(t, ok)
	assert.Equal(t, Entry{Fingerprint: fpA, Size: 5, ModTime: 7}, entry)

	_, ok = m.Get("windows\\path.txt")
	assert.True(t, ok)
}

func TestPutReturnsPrevious(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "m"), FormatFull)

	_, replaced, err := m.Put("a", Entry{Fingerprint: fpA})
	require.NoError(t, err)
	assert.False(t, replaced)

	previous, replaced, err := m.Put("a", Entry{Fingerprint: fpB})
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, fpA, previous.Fingerprint)

	_, _, err = m.Put("bad\nname", Entry{Fingerprint: fpA})
	assert.ErrorIs(t, err, ErrUnrepresentable)
	_, _, err = m.Put("", Entry{Fingerprint: fpA})
	assert.ErrorIs(t, err, ErrUnrepresentable)
	assert.Equal(t, 1, m.Count())
}

func TestIndexDropsMetadata(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "m"), FormatIndex)
	m.Put("a", Entry{Fingerprint: fpA, Size: 10, ModTime: 20})

	entry, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, Entry{Fingerprint: fpA}, entry)
}

func TestSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	m := New(filepath.Join(blocker, "manifest.txt"), FormatFull)
	m.Put("a", Entry{Fingerprint: fpA})
	assert.Error(t, m.Save())
}

func TestLoadSkipsOversizedLines(t *testing.T) {
	dir := t.TempDir()
	content := "before.txt|" + string(fpA) + "|5|7\n" +
		strings.Repeat("x", 2*MaxLineLength) + "\n" +
		"after.txt|" + string(fpB) + "|1|2\n" +
		strings.Repeat("y", MaxLineLength+1) + "\n" +
		"last.txt|" + string(fpB) + "|3|4"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FullFileName), []byte(content), 0644))

	m := ForDestination(dir, FormatFull)
	found, err := m.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"after.txt", "before.txt", "last.txt"}, m.Paths())
	assert.Equal(t, 2, m.Skipped())
}

func TestLoadOversizedLastLine(t *testing.T) {
	dir := t.TempDir()
	content := "a.txt|" + string(fpA) + "|5|7\n" + strings.Repeat("z", MaxLineLength+10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FullFileName), []byte(content), 0644))

	m := ForDestination(dir, FormatFull)
	_, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, m.Paths())
	assert.Equal(t, 1, m.Skipped())
}

func TestPersistThroughFilesystem(t *testing.T) {
	memory := fsys.NewMemory()
	require.NoError(t, memory.Raw().MkdirAll("/backup", 0755))

	m := ForDestination("/backup", FormatIndex, WithFS(memory))
	m.Put("a.txt", Entry{Fingerprint: fpA})
	require.NoError(t, m.Save())

	data, err := util.ReadFile(memory.Raw(), "/backup/"+IndexFileName)
	require.NoError(t, err)
	assert.Equal(t, "a.txt|"+string(fpA)+"\n", string(data))

	_, err = os.Stat(filepath.Join("/backup", IndexFileName))
	assert.True(t, os.IsNotExist(err))

	loaded := ForDestination("/backup", FormatIndex, WithFS(memory))
	found, err := loaded.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, loaded.Count())
}
