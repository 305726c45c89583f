package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/zeebo/blake3"
)

// DefaultChunkSize is the read buffer used when streaming a file into the digest.
const DefaultChunkSize = 64 * 1024

// FingerprintLength is the number of hex characters in a Fingerprint.
const FingerprintLength = 64

var (
	ErrUnreadable = errors.New("file unreadable")
	ErrIOFailure  = errors.New("read failed")
	ErrAlgorithm  = errors.New("unknown hash algorithm")
)

// Fingerprint is the lowercase hex rendering of a 256 bit content digest.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Valid reports whether f has the length and alphabet of a rendered digest.
func (f Fingerprint) Valid() bool {
	if len(f) != FingerprintLength {
		return false
	}
	for i := 0; i < len(f); i++ {
		c := f[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Kind classifies why a file could not be fingerprinted.
type Kind int

const (
	Unreadable Kind = iota
	IOFailure
)

func (k Kind) String() string {
	switch k {
	case Unreadable:
		return "unreadable"
	case IOFailure:
		return "io-failure"
	}
	return "unknown"
}

type HashError struct {
	Path string
	Kind Kind
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *HashError) Unwrap() error {
	return e.Err
}

func (e *HashError) Is(target error) bool {
	switch target {
	case ErrUnreadable:
		return e.Kind == Unreadable
	case ErrIOFailure:
		return e.Kind == IOFailure
	}
	return false
}

// Hasher streams files into a fixed size digest.
type Hasher struct {
	algorithm Algorithm
	chunkSize int
	newDigest func() hash.Hash
	fs        fsys.FS
}

type Option func(*Hasher)

// WithFS reads files through filesystem instead of the host.
func WithFS(filesystem fsys.FS) Option {
	return func(h *Hasher) {
		h.fs = filesystem
	}
}

// New returns a Hasher for the given algorithm. A chunkSize <= 0 selects DefaultChunkSize.
func New(algorithm Algorithm, chunkSize int, opts ...Option) (*Hasher, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := &Hasher{algorithm: algorithm, chunkSize: chunkSize}
	for _, opt := range opts {
		opt(h)
	}
	if h.fs == nil {
		h.fs = fsys.NewOS()
	}
	switch algorithm {
	case SHA256, "":
		h.algorithm = SHA256
		h.newDigest = sha256.New
	case BLAKE3:
		h.newDigest = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("%w: %q", ErrAlgorithm, algorithm)
	}
	return h, nil
}

func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Hash fingerprints the content of the file at path.
func (h *Hasher) Hash(path string) (Fingerprint, error) {
	f, err := h.fs.Open(path)
	if err != nil {
		return "", &HashError{Path: path, Kind: Unreadable, Err: err}
	}
	defer f.Close()

	fp, err := h.HashReader(f)
	if err != nil {
		return "", &HashError{Path: path, Kind: IOFailure, Err: err}
	}
	return fp, nil
}

// HashReader fingerprints everything readable from r.
func (h *Hasher) HashReader(r io.Reader) (Fingerprint, error) {
	digest := h.newDigest()
	buffer := make([]byte, h.chunkSize)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			digest.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return Sum(digest), nil
}

// NewDigest returns an empty digest of the Hasher's algorithm, for callers
// that feed content themselves.
func (h *Hasher) NewDigest() hash.Hash {
	return h.newDigest()
}

// Sum renders the current state of digest as a Fingerprint.
func Sum(digest hash.Hash) Fingerprint {
	return Fingerprint(hex.EncodeToString(digest.Sum(nil)))
}
