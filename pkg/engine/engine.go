// Package engine drives an incremental, deduplicating backup of a source
// tree into a destination.
//
// A run validates the source, loads the manifest, rebuilds the store's
// reference counts from it, walks the tree and finally saves the manifest.
// Per-file problems are counted and skipped; only an unusable source (or
// an unusable destination) fails the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gentoomaniac/dedup-backup/pkg/detect"
	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/gentoomaniac/dedup-backup/pkg/manifest"
	"github.com/gentoomaniac/dedup-backup/pkg/store"
	"github.com/rs/zerolog/log"
)

var (
	ErrSourceUnavailable      = errors.New("source unavailable")
	ErrDestinationUnavailable = errors.New("destination unavailable")
)

type Mode int

const (
	// ModeIncremental keeps path|fingerprint|size|mtime and can skip hashing.
	ModeIncremental Mode = iota
	// ModeDedup keeps only path|fingerprint and hashes every file.
	ModeDedup
)

func ParseMode(s string) (Mode, bool) {
	switch s {
	case "incremental", "":
		return ModeIncremental, true
	case "dedup":
		return ModeDedup, true
	}
	return ModeIncremental, false
}

func (m Mode) String() string {
	if m == ModeDedup {
		return "dedup"
	}
	return "incremental"
}

func (m Mode) format() manifest.Format {
	if m == ModeDedup {
		return manifest.FormatIndex
	}
	return manifest.FormatFull
}

type Config struct {
	Source      string
	Destination string
	Mode        Mode
	Policy      detect.Policy
	// Full disables manifest lookups; every file is hashed and treated as new.
	Full      bool
	Workers   int
	Algorithm hasher.Algorithm
	ChunkSize int
}

type Result struct {
	Stats    Stats
	Failures []Failure

	ManifestFound   bool
	ManifestEntries int
	ManifestSaved   bool
	SaveErr         error
	Cancelled       bool

	Started  time.Time
	Finished time.Time
}

type Engine struct {
	config Config
	fs     fsys.FS

	hasher   *hasher.Hasher
	store    *store.Store
	manifest *manifest.Manifest
	detector *detect.Detector
}

type Option func(*Engine)

// WithFS replaces the host filesystem, mostly for fault injection.
func WithFS(filesystem fsys.FS) Option {
	return func(e *Engine) {
		e.fs = filesystem
	}
}

func New(config Config, opts ...Option) *Engine {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	e := &Engine{config: config, fs: fsys.NewOS()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.config
}

// Store is the content store of the last run, nil before Run.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Manifest is the manifest of the last run, nil before Run.
func (e *Engine) Manifest() *manifest.Manifest {
	return e.manifest
}

// Run performs one backup. The returned error is non-nil only when the run
// could not start or was cancelled; per-entry failures are in the Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{Started: time.Now()}

	source, destination, err := e.validatePaths()
	if err != nil {
		return nil, err
	}

	e.hasher, err = hasher.New(e.config.Algorithm, e.config.ChunkSize, hasher.WithFS(e.fs))
	if err != nil {
		return nil, err
	}

	e.store = store.New(destination, e.fs, store.WithHasher(e.hasher))
	if err := e.store.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDestinationUnavailable, err)
	}

	e.manifest = manifest.ForDestination(destination, e.config.Mode.format(), manifest.WithFS(e.fs))
	res.ManifestFound, err = e.manifest.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrDestinationUnavailable, e.manifest.Path(), err)
	}
	e.store.RebuildReferenceCounts(e.manifest.Fingerprints())
	if res.ManifestFound {
		log.Info().Int("files", e.manifest.Count()).Str("manifest", e.manifest.Path()).Msg("loaded existing manifest")
	} else {
		log.Info().Str("manifest", e.manifest.Path()).Msg("no manifest found, first backup")
	}

	policy := e.config.Policy
	if e.config.Mode == ModeDedup {
		policy = detect.PolicyStrict
	}
	e.detector = detect.NewDetector(e.manifest, e.hasher, policy, e.config.Full)

	w := &walker{
		fs:          e.fs,
		source:      source,
		destination: destination,
		workers:     e.config.Workers,
		process:     e.processFile,
	}
	walked := w.run(ctx)
	res.Stats = walked.stats
	res.Failures = walked.failures

	if err := e.manifest.Save(); err != nil {
		res.SaveErr = err
		log.Error().Err(err).Str("manifest", e.manifest.Path()).Msg("failed to save manifest")
	} else {
		res.ManifestSaved = true
	}
	res.ManifestEntries = e.manifest.Count()
	res.Finished = time.Now()

	if err := ctx.Err(); err != nil {
		res.Cancelled = true
		return res, err
	}
	return res, nil
}

// validatePaths resolves source and destination without touching either.
func (e *Engine) validatePaths() (source, destination string, err error) {
	if e.config.Source == "" {
		return "", "", fmt.Errorf("%w: no source given", ErrSourceUnavailable)
	}
	source, err = filepath.Abs(e.config.Source)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	info, err := e.fs.Stat(source)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, source)
	}

	if e.config.Destination == "" {
		return "", "", fmt.Errorf("%w: no destination given", ErrDestinationUnavailable)
	}
	destination, err = filepath.Abs(e.config.Destination)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDestinationUnavailable, err)
	}
	if destination == source {
		return "", "", fmt.Errorf("%w: %s is the source directory", ErrDestinationUnavailable, destination)
	}
	return source, destination, nil
}

func (e *Engine) processFile(j job) outcome {
	o := outcome{path: j.rel, file: true}

	info, err := e.fs.Stat(j.path)
	if err != nil {
		log.Error().Err(err).Str("path", j.path).Msg("cannot stat file")
		o.failure = &Failure{Path: j.rel, Kind: HashUnreadable, Err: err}
		return o
	}
	o.size = info.Size()
	mtime := info.ModTime().Unix()

	if strings.ContainsAny(j.rel, "\r\n") {
		log.Error().Str("path", j.path).Msg("path cannot be recorded in manifest")
		o.failure = &Failure{Path: j.rel, Kind: UnrepresentablePath, Err: manifest.ErrUnrepresentable}
		return o
	}

	decision, err := e.detector.Decide(j.rel, o.size, mtime, j.path)
	if err != nil {
		kind := HashIOFailure
		if errors.Is(err, hasher.ErrUnreadable) {
			kind = HashUnreadable
		}
		log.Error().Err(err).Str("path", j.path).Msg("failed to calculate hash")
		o.failure = &Failure{Path: j.rel, Kind: kind, Err: err}
		return o
	}
	o.classified = true
	o.kind = decision.Kind

	entry := manifest.Entry{Fingerprint: decision.Fingerprint, Size: o.size, ModTime: mtime}

	if decision.Kind == detect.Unchanged {
		e.manifest.Put(j.rel, entry)
		log.Debug().Str("status", "SKIP").Str("path", j.path).Msg("")
		return o
	}

	landed, err := e.store.Land(j.path, decision.Fingerprint)
	if err != nil {
		log.Error().Err(err).Str("path", j.path).Msg("failed to store content")
		o.failure = &Failure{Path: j.rel, Kind: StoreWriteFailed, Err: err}
		return o
	}
	if landed == store.Deduplicated {
		o.deduped = true
	} else {
		o.copied = true
	}

	previous, replaced, err := e.manifest.Put(j.rel, entry)
	if err != nil {
		e.store.Release(decision.Fingerprint)
		o.failure = &Failure{Path: j.rel, Kind: UnrepresentablePath, Err: err}
		return o
	}
	if replaced {
		e.store.Release(previous.Fingerprint)
	}

	log.Debug().
		Str("status", strings.ToUpper(decision.Kind.String())).
		Str("store", landed.String()).
		Str("fingerprint", string(decision.Fingerprint)).
		Str("path", j.path).
		Msg("")
	return o
}
