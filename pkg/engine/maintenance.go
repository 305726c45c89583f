package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gentoomaniac/dedup-backup/pkg/fsys"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/gentoomaniac/dedup-backup/pkg/manifest"
	"github.com/gentoomaniac/dedup-backup/pkg/store"
	"github.com/rs/zerolog/log"
)

var ErrNoManifest = errors.New("no manifest in destination")

// loadManifests loads every manifest format present in destRoot.
func loadManifests(destRoot string) ([]*manifest.Manifest, error) {
	var found []*manifest.Manifest
	for _, format := range []manifest.Format{manifest.FormatFull, manifest.FormatIndex} {
		m := manifest.ForDestination(destRoot, format)
		ok, err := m.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			found = append(found, m)
		}
	}
	return found, nil
}

type RestoreResult struct {
	Restored int
	Missing  int
	Errors   int
	Bytes    int64
}

// Restore recreates the files recorded in the manifest of destRoot under
// target. Only paths starting with prefix are restored when prefix is set.
func Restore(ctx context.Context, destRoot, target string, mode Mode, prefix string) (*RestoreResult, error) {
	filesystem := fsys.NewOS()
	m := manifest.ForDestination(destRoot, mode.format(), manifest.WithFS(filesystem))
	found, err := m.Load()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, m.Path())
	}

	target, err = filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	st := store.New(destRoot, filesystem)
	res := &RestoreResult{}

	for _, rel := range m.Paths() {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			continue
		}
		entry, _ := m.Get(rel)

		path := filepath.Join(target, filepath.FromSlash(rel))
		if !strings.HasPrefix(path, target+string(filepath.Separator)) {
			log.Error().Str("path", rel).Msg("refusing to restore outside target")
			res.Errors++
			continue
		}
		if !st.Exists(entry.Fingerprint) {
			log.Error().Str("path", rel).Str("fingerprint", string(entry.Fingerprint)).Msg("blob missing")
			res.Missing++
			continue
		}
		if _, err := ensureDir(filesystem, filepath.Dir(path)); err != nil {
			log.Error().Err(err).Str("path", rel).Msg("cannot create directory")
			res.Errors++
			continue
		}
		written, err := filesystem.Copy(st.BlobPath(entry.Fingerprint), path, nil)
		if err != nil {
			log.Error().Err(err).Str("path", rel).Msg("failed to restore file")
			res.Errors++
			continue
		}
		if entry.ModTime != 0 {
			mtime := time.Unix(entry.ModTime, 0)
			if err := filesystem.Chtimes(path, mtime, mtime); err != nil {
				log.Warn().Err(err).Str("path", rel).Msg("cannot set modification time")
			}
		}
		log.Debug().Str("path", rel).Int64("size", written).Msg("restored")
		res.Restored++
		res.Bytes += written
	}
	return res, nil
}

type VerifyResult struct {
	Blobs   int
	Corrupt []hasher.Fingerprint
	// Missing lists manifest paths whose blob is gone.
	Missing []string
}

func (r *VerifyResult) OK() bool {
	return len(r.Corrupt) == 0 && len(r.Missing) == 0
}

// Verify rehashes every blob and checks that every manifest entry can be restored.
func Verify(ctx context.Context, destRoot string, algorithm hasher.Algorithm) (*VerifyResult, error) {
	h, err := hasher.New(algorithm, 0)
	if err != nil {
		return nil, err
	}
	st := store.New(destRoot, nil)
	blobs, err := st.Blobs()
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Blobs: len(blobs)}
	for _, fp := range blobs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r, err := st.Open(fp)
		if err != nil {
			return res, err
		}
		got, err := h.HashReader(r)
		r.Close()
		if err != nil || got != fp {
			log.Error().Err(err).Str("fingerprint", string(fp)).Str("content", string(got)).Msg("blob corrupt")
			res.Corrupt = append(res.Corrupt, fp)
		}
	}

	manifests, err := loadManifests(destRoot)
	if err != nil {
		return res, err
	}
	for _, m := range manifests {
		for _, rel := range m.Paths() {
			entry, _ := m.Get(rel)
			if !st.Exists(entry.Fingerprint) {
				log.Error().Str("path", rel).Str("manifest", m.Path()).Msg("blob missing")
				res.Missing = append(res.Missing, rel)
			}
		}
	}
	return res, nil
}

type ReconcileResult struct {
	Blobs          int
	Orphaned       []hasher.Fingerprint
	BytesReclaimed int64
}

// Reconcile deletes blobs that no manifest in destRoot references any more.
// With dryRun set it only reports them.
func Reconcile(ctx context.Context, destRoot string, dryRun bool) (*ReconcileResult, error) {
	manifests, err := loadManifests(destRoot)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, destRoot)
	}

	var fingerprints []hasher.Fingerprint
	for _, m := range manifests {
		fingerprints = append(fingerprints, m.Fingerprints()...)
	}
	filesystem := fsys.NewOS()
	st := store.New(destRoot, filesystem)
	st.RebuildReferenceCounts(fingerprints)

	blobs, err := st.Blobs()
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{Blobs: len(blobs)}
	for _, fp := range blobs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if st.ReferenceCount(fp) > 0 {
			continue
		}
		var size int64
		if info, err := filesystem.Stat(st.BlobPath(fp)); err == nil {
			size = info.Size()
		}
		if !dryRun {
			if err := st.Remove(fp); err != nil {
				log.Error().Err(err).Str("fingerprint", string(fp)).Msg("cannot remove blob")
				continue
			}
		}
		log.Info().Str("fingerprint", string(fp)).Bool("dry_run", dryRun).Msg("orphaned blob")
		res.Orphaned = append(res.Orphaned, fp)
		res.BytesReclaimed += size
	}
	return res, nil
}
