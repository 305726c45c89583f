package engine

import (
	"context"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/rs/zerolog/log"
)

// Mirror copies every regular file of source into the same place under
// destination. Nothing is remembered between runs, every file is copied.
func Mirror(ctx context.Context, source, destination string, workers int, filesystem fsys.FS) (*Result, error) {
	if filesystem == nil {
		filesystem = fsys.NewOS()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	res := &Result{Started: time.Now()}

	e := &Engine{config: Config{Source: source, Destination: destination}, fs: filesystem}
	src, dst, err := e.validatePaths()
	if err != nil {
		return nil, err
	}

	w := &walker{
		fs:          filesystem,
		source:      src,
		destination: dst,
		workers:     workers,
		process: func(j job) outcome {
			o := outcome{path: j.rel, file: true}
			info, err := filesystem.Stat(j.path)
			if err != nil {
				log.Error().Err(err).Str("path", j.path).Msg("cannot stat file")
				o.failure = &Failure{Path: j.rel, Kind: HashUnreadable, Err: err}
				return o
			}
			o.size = info.Size()

			target := filepath.Join(j.destDir, path.Base(j.rel))
			if _, err := filesystem.Copy(j.path, target, nil); err != nil {
				log.Error().Err(err).Str("path", j.path).Msg("failed to copy file")
				o.failure = &Failure{Path: j.rel, Kind: StoreWriteFailed, Err: err}
				return o
			}
			o.copied = true
			log.Debug().Str("status", "COPY").Str("path", j.path).Msg("")
			return o
		},
	}
	walked := w.run(ctx)
	res.Stats = walked.stats
	res.Failures = walked.failures
	res.Finished = time.Now()

	if err := ctx.Err(); err != nil {
		res.Cancelled = true
		return res, err
	}
	return res, nil
}
