// Package manifest persists the path to fingerprint mapping of a backup.
//
// One entry per line, fields separated by '|':
//
//	FormatFull:  path|fingerprint|size|mtime
//	FormatIndex: path|fingerprint
//
// Fields are split from the right so a path may itself contain '|'.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/rs/zerolog/log"
)

const (
	FullFileName  = ".backup_manifest.txt"
	IndexFileName = ".dedup_index.txt"
	separator     = "|"

	// MaxLineLength bounds a manifest line. Longer lines are skipped on load.
	MaxLineLength = 1024 * 1024
)

var ErrUnrepresentable = errors.New("path cannot be stored in manifest")

type Format int

const (
	FormatFull Format = iota
	FormatIndex
)

func (f Format) FileName() string {
	if f == FormatIndex {
		return IndexFileName
	}
	return FullFileName
}

// Entry is the last known state of one file. Size and ModTime are zero in
// FormatIndex manifests.
type Entry struct {
	Fingerprint hasher.Fingerprint
	Size        int64
	ModTime     int64
}

type Manifest struct {
	path   string
	format Format
	fs     fsys.FS

	mu      sync.RWMutex
	entries map[string]Entry
	skipped int
}

type Option func(*Manifest)

// WithFS persists the manifest through filesystem instead of the host.
func WithFS(filesystem fsys.FS) Option {
	return func(m *Manifest) {
		m.fs = filesystem
	}
}

// New returns an empty manifest persisted at path.
func New(path string, format Format, opts ...Option) *Manifest {
	m := &Manifest{
		path:    path,
		format:  format,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fs == nil {
		m.fs = fsys.NewOS()
	}
	return m
}

// ForDestination returns the manifest the given format keeps in destRoot.
func ForDestination(destRoot string, format Format, opts ...Option) *Manifest {
	return New(filepath.Join(destRoot, format.FileName()), format, opts...)
}

func (m *Manifest) Path() string {
	return m.path
}

func (m *Manifest) Format() Format {
	return m.format
}

// Load replaces the in-memory state with the file content. It returns false
// without error when no manifest has been written yet.
func (m *Manifest) Load() (bool, error) {
	f, err := m.fs.Open(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	entries := make(map[string]Entry)
	skipped := 0
	r := bufio.NewReaderSize(f, MaxLineLength)
	for lineno := 1; ; lineno++ {
		raw, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			for err == bufio.ErrBufferFull {
				_, err = r.ReadSlice('\n')
			}
			skipped++
			log.Warn().Str("manifest", m.path).Int("line", lineno).Msg("skipping oversized manifest line")
			if err == io.EOF {
				break
			}
			if err != nil {
				return false, err
			}
			continue
		}
		if err != nil && err != io.EOF {
			return false, err
		}

		line := strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r")
		if line != "" {
			path, entry, ok := m.parse(line)
			if ok {
				entries[path] = entry
			} else {
				skipped++
				log.Warn().Str("manifest", m.path).Int("line", lineno).Msg("skipping malformed manifest line")
			}
		}
		if err == io.EOF {
			break
		}
	}

	m.mu.Lock()
	m.entries = entries
	m.skipped = skipped
	m.mu.Unlock()
	return true, nil
}

func (m *Manifest) parse(line string) (path string, entry Entry, ok bool) {
	fields := 2
	if m.format == FormatFull {
		fields = 4
	}

	parts := make([]string, fields)
	rest := line
	for i := fields - 1; i > 0; i-- {
		pos := strings.LastIndex(rest, separator)
		if pos < 0 {
			return "", Entry{}, false
		}
		parts[i] = rest[pos+1:]
		rest = rest[:pos]
	}
	parts[0] = rest

	if parts[0] == "" {
		return "", Entry{}, false
	}
	entry.Fingerprint = hasher.Fingerprint(parts[1])
	if !entry.Fingerprint.Valid() {
		return "", Entry{}, false
	}
	if m.format == FormatFull {
		var err error
		if entry.Size, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
			return "", Entry{}, false
		}
		if entry.ModTime, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
			return "", Entry{}, false
		}
	}
	return parts[0], entry, true
}

// Save overwrites the manifest file with the current entries in path order.
func (m *Manifest) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	tmp := m.path + ".tmp"
	f, err := m.fs.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, path := range paths {
		entry := m.entries[path]
		if m.format == FormatFull {
			fmt.Fprintf(w, "%s|%s|%d|%d\n", path, entry.Fingerprint, entry.Size, entry.ModTime)
		} else {
			fmt.Fprintf(w, "%s|%s\n", path, entry.Fingerprint)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		m.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		m.fs.Remove(tmp)
		return err
	}
	return m.fs.Rename(tmp, m.path)
}

func (m *Manifest) Get(path string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[path]
	return entry, ok
}

// Put records entry for path and returns the entry it replaced, if any.
// Index manifests drop size and mtime.
func (m *Manifest) Put(path string, entry Entry) (previous Entry, replaced bool, err error) {
	if path == "" || strings.ContainsAny(path, "\r\n") {
		return Entry{}, false, fmt.Errorf("%w: %q", ErrUnrepresentable, path)
	}
	if m.format == FormatIndex {
		entry.Size, entry.ModTime = 0, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	previous, replaced = m.entries[path]
	m.entries[path] = entry
	return previous, replaced, nil
}

func (m *Manifest) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Skipped is the number of malformed lines ignored by the last Load.
func (m *Manifest) Skipped() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipped
}

// Fingerprints returns one fingerprint per entry, duplicates included.
func (m *Manifest) Fingerprints() []hasher.Fingerprint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fps := make([]hasher.Fingerprint, 0, len(m.entries))
	for _, entry := range m.entries {
		fps = append(fps, entry.Fingerprint)
	}
	return fps
}

// Paths returns all recorded paths, sorted.
func (m *Manifest) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
