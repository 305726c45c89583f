// Package store keeps file content addressed by its fingerprint under
// <destination>/.dedup_store, one blob per distinct content.
//
// Reference counts live in memory only. They are rebuilt from the
// manifest when a run starts and are never written to disk.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/rs/zerolog/log"
)

const (
	DirName   = ".dedup_store"
	BlobExt   = ".bin"
	tmpSuffix = ".tmp"
)

var (
	ErrCreateFailed = errors.New("cannot create store directory")
	ErrWriteFailed  = errors.New("cannot write blob")
	ErrBlobExists   = errors.New("blob already stored")
	ErrNotFound     = errors.New("blob not found")

	// ErrContentChanged means the bytes copied do not hash to the fingerprint
	// the caller computed, usually because the file changed in between.
	ErrContentChanged = errors.New("content changed while storing")
)

// Outcome reports what Land did with a file.
type Outcome int

const (
	Stored Outcome = iota
	Deduplicated
)

func (o Outcome) String() string {
	if o == Deduplicated {
		return "deduplicated"
	}
	return "stored"
}

type Store struct {
	fs       fsys.FS
	hasher   *hasher.Hasher
	destRoot string
	root     string

	// writers for the same fingerprint are serialised through one stripe
	stripes [256]sync.Mutex

	mu   sync.Mutex
	refs map[hasher.Fingerprint]int
}

type Option func(*Store)

// WithHasher checks written blobs against fingerprints of h's algorithm.
// The default is SHA256.
func WithHasher(h *hasher.Hasher) Option {
	return func(s *Store) {
		s.hasher = h
	}
}

// New returns a store rooted in destRoot/.dedup_store. A nil filesystem
// selects the host.
func New(destRoot string, filesystem fsys.FS, opts ...Option) *Store {
	if filesystem == nil {
		filesystem = fsys.NewOS()
	}
	s := &Store{
		fs:       filesystem,
		destRoot: destRoot,
		root:     filepath.Join(destRoot, DirName),
		refs:     make(map[hasher.Fingerprint]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		// sha256 with the default chunk size cannot fail
		s.hasher, _ = hasher.New(hasher.SHA256, 0, hasher.WithFS(filesystem))
	}
	return s
}

func (s *Store) Root() string {
	return s.root
}

// Initialize creates the destination root and the store directory.
func (s *Store) Initialize() error {
	for _, dir := range []string{s.destRoot, s.root} {
		err := s.fs.Mkdir(dir)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s: %v", ErrCreateFailed, dir, err)
		}
		if err == nil {
			log.Debug().Str("path", dir).Msg("created store directory")
		}
	}
	return nil
}

// BlobPath is the canonical location of the blob for fp.
func (s *Store) BlobPath(fp hasher.Fingerprint) string {
	return filepath.Join(s.root, string(fp)+BlobExt)
}

func (s *Store) Exists(fp hasher.Fingerprint) bool {
	info, err := s.fs.Stat(s.BlobPath(fp))
	return err == nil && info.Mode().IsRegular()
}

// Store copies the file at src into the blob for fp and takes a reference
// on it. It refuses to overwrite a blob that is already present.
func (s *Store) Store(src string, fp hasher.Fingerprint) error {
	lock := s.stripe(fp)
	lock.Lock()
	defer lock.Unlock()

	if s.Exists(fp) {
		return fmt.Errorf("%w: %s", ErrBlobExists, fp)
	}
	return s.write(src, fp)
}

// Land stores src under fp or, if the content is already present, only
// references it. The presence check and the write happen under one lock.
func (s *Store) Land(src string, fp hasher.Fingerprint) (Outcome, error) {
	lock := s.stripe(fp)
	lock.Lock()
	defer lock.Unlock()

	if s.Exists(fp) {
		s.Reference(fp)
		return Deduplicated, nil
	}
	return Stored, s.write(src, fp)
}

func (s *Store) write(src string, fp hasher.Fingerprint) error {
	blob := s.BlobPath(fp)
	tmp := blob + tmpSuffix

	digest := s.hasher.NewDigest()
	written, err := s.fs.Copy(src, tmp, digest)
	if err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, src, err)
	}
	if got := hasher.Sum(digest); got != fp {
		s.fs.Remove(tmp)
		log.Warn().Str("path", src).Str("expected", string(fp)).Str("copied", string(got)).Msg("content changed while storing")
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, src, ErrContentChanged)
	}
	if err := s.fs.Rename(tmp, blob); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, src, err)
	}
	log.Debug().Str("fingerprint", string(fp)).Int64("size", written).Msg("blob written")

	s.Reference(fp)
	return nil
}

func (s *Store) Reference(fp hasher.Fingerprint) {
	s.mu.Lock()
	s.refs[fp]++
	s.mu.Unlock()
}

// Release drops one reference on fp. The blob itself is kept.
func (s *Store) Release(fp hasher.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.refs[fp]; n > 1 {
		s.refs[fp] = n - 1
	} else if n == 1 {
		delete(s.refs, fp)
	}
}

func (s *Store) ReferenceCount(fp hasher.Fingerprint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[fp]
}

// RebuildReferenceCounts replaces all counts with a tally of fingerprints.
func (s *Store) RebuildReferenceCounts(fingerprints []hasher.Fingerprint) {
	refs := make(map[hasher.Fingerprint]int, len(fingerprints))
	for _, fp := range fingerprints {
		refs[fp]++
	}

	s.mu.Lock()
	s.refs = refs
	s.mu.Unlock()
}

// Open returns the content of the blob for fp.
func (s *Store) Open(fp hasher.Fingerprint) (io.ReadCloser, error) {
	r, err := s.fs.Open(s.BlobPath(fp))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}
	return r, err
}

// Blobs lists the fingerprints of every blob on disk.
func (s *Store) Blobs() ([]hasher.Fingerprint, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	blobs := make([]hasher.Fingerprint, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, BlobExt) {
			continue
		}
		fp := hasher.Fingerprint(strings.TrimSuffix(name, BlobExt))
		if !fp.Valid() {
			log.Warn().Str("name", name).Msg("unexpected file in store")
			continue
		}
		blobs = append(blobs, fp)
	}
	return blobs, nil
}

// Remove deletes the blob for fp. Only the explicit reconcile pass calls it.
func (s *Store) Remove(fp hasher.Fingerprint) error {
	lock := s.stripe(fp)
	lock.Lock()
	defer lock.Unlock()

	if err := s.fs.Remove(s.BlobPath(fp)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.refs, fp)
	s.mu.Unlock()
	return nil
}

func (s *Store) stripe(fp hasher.Fingerprint) *sync.Mutex {
	idx := 0
	if len(fp) >= 2 {
		if v, err := strconv.ParseUint(string(fp[:2]), 16, 8); err == nil {
			idx = int(v)
		}
	}
	return &s.stripes[idx]
}
