package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// job is one regular file found by the walker.
type job struct {
	path    string // absolute source path
	rel     string // slash separated, relative to the source root
	destDir string // mirrored destination directory
}

type processFunc func(j job) outcome

// walker mirrors the source directory tree into the destination and hands
// every regular file to process on a bounded pool. Enumeration and
// directory creation stay on the calling goroutine.
type walker struct {
	fs          fsys.FS
	source      string
	destination string
	workers     int
	process     processFunc
}

type walkResult struct {
	stats    Stats
	failures []Failure
}

func (w *walker) run(ctx context.Context) walkResult {
	outcomes := make(chan outcome, w.workers*2)
	collected := make(chan walkResult)
	go func() {
		var res walkResult
		for o := range outcomes {
			res.stats.apply(o)
			if o.failure != nil {
				res.failures = append(res.failures, *o.failure)
			}
		}
		collected <- res
	}()

	group := new(errgroup.Group)
	group.SetLimit(w.workers)

	stack := []string{w.source}
	for len(stack) > 0 && ctx.Err() == nil {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rel := w.relative(dir)
		log.Info().Str("path", dir).Msg("Entering directory")

		entries, err := w.fs.ReadDir(dir)
		if err != nil {
			log.Error().Err(err).Str("path", dir).Msg("cannot access directory")
			outcomes <- failed(rel, DirectoryEnumerationFailed, err)
			continue
		}

		destDir := w.destination
		if rel != "" {
			destDir = filepath.Join(w.destination, filepath.FromSlash(rel))
		}
		created, err := ensureDir(w.fs, destDir)
		if err != nil {
			log.Error().Err(err).Str("path", destDir).Msg("cannot create directory")
			o := failed(rel, DirectoryCreateFailed, err)
			o.dirsCreated = created
			outcomes <- o
			continue
		}
		if created > 0 {
			outcomes <- outcome{path: rel, dirsCreated: created}
		}

		var subdirs []string
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			switch {
			case entry.IsDir():
				if path == w.destination {
					log.Warn().Str("path", path).Msg("skipping destination inside source")
					continue
				}
				subdirs = append(subdirs, path)
			case entry.Type().IsRegular():
				if ctx.Err() != nil {
					continue
				}
				j := job{path: path, rel: w.relative(path), destDir: destDir}
				group.Go(func() error {
					// a cancelled run drops files that have not started yet
					if ctx.Err() != nil {
						return nil
					}
					outcomes <- w.process(j)
					return nil
				})
			default:
				log.Debug().Str("path", path).Str("type", entry.Type().String()).Msg("skipping non-regular file")
			}
		}

		// reversed so the next pop is the first subdirectory
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	group.Wait()
	close(outcomes)
	return <-collected
}

func (w *walker) relative(path string) string {
	rel, err := filepath.Rel(w.source, path)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func failed(path string, kind FailureKind, err error) outcome {
	return outcome{path: path, failure: &Failure{Path: path, Kind: kind, Err: err}}
}

// ensureDir creates path, creating missing parents first. It returns the
// number of directories it created.
func ensureDir(filesystem fsys.FS, path string) (int, error) {
	err := filesystem.Mkdir(path)
	switch {
	case err == nil:
		return 1, nil
	case errors.Is(err, fs.ErrExist):
		info, statErr := filesystem.Stat(path)
		if statErr != nil {
			return 0, statErr
		}
		if !info.IsDir() {
			return 0, fmt.Errorf("%s: exists and is not a directory", path)
		}
		return 0, nil
	case errors.Is(err, fs.ErrNotExist):
		parent := filepath.Dir(path)
		if parent == path {
			return 0, err
		}
		created, err := ensureDir(filesystem, parent)
		if err != nil {
			return created, err
		}
		err = filesystem.Mkdir(path)
		if err == nil {
			return created + 1, nil
		}
		if errors.Is(err, fs.ErrExist) {
			return created, nil
		}
		return created, err
	}
	return 0, err
}
