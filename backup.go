package main

import (
	"fmt"
	"os"
	"time"

	clitools "github.com/gentoomaniac/dedup-backup/pkg/cli"
	"github.com/gentoomaniac/dedup-backup/pkg/detect"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/rs/zerolog/log"
)

type Backup struct {
	Source      string `arg:"" optional:"" help:"Directory to back up, prompted for when missing" type:"path"`
	Destination string `arg:"" optional:"" help:"Backup destination, prompted for when missing" type:"path"`

	Mode      string `short:"m" help:"Manifest kind: incremental (path, hash, size, mtime) or dedup (path, hash)" enum:"incremental,dedup" default:"incremental"`
	Strict    bool   `help:"Always hash files instead of trusting unchanged size and mtime"`
	Full      bool   `short:"f" help:"Ignore the manifest and rehash every file"`
	Workers   int    `short:"w" help:"Files processed in parallel, 0 for one per CPU" default:"0"`
	Hash      string `help:"Content hash algorithm" enum:"sha256,blake3" default:"sha256"`
	ChunkSize int    `help:"Read buffer size in bytes used while hashing" default:"65536"`
	DBPath    string `short:"d" help:"Run history database, defaults to <destination>/.backup_history.db" type:"path"`
	NoHistory bool   `help:"Do not record the run in the history database"`
}

func (b *Backup) config() (engine.Config, error) {
	mode, ok := engine.ParseMode(b.Mode)
	if !ok {
		return engine.Config{}, fmt.Errorf("unknown mode %q", b.Mode)
	}
	policy := detect.PolicyFast
	if b.Strict {
		policy = detect.PolicyStrict
	}
	return engine.Config{
		Source:      b.Source,
		Destination: b.Destination,
		Mode:        mode,
		Policy:      policy,
		Full:        b.Full,
		Workers:     b.Workers,
		Algorithm:   hasher.Algorithm(b.Hash),
		ChunkSize:   b.ChunkSize,
	}, nil
}

func promptMissing(source, destination *string) (err error) {
	if *source == "" {
		if *source, err = clitools.PromptPath("Source directory", true); err != nil {
			return err
		}
	}
	if *destination == "" {
		if *destination, err = clitools.PromptPath("Destination directory", false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backup) Run(g *Globals) error {
	if err := promptMissing(&b.Source, &b.Destination); err != nil {
		return err
	}
	config, err := b.config()
	if err != nil {
		return err
	}

	log.Info().
		Str("source", b.Source).
		Str("destination", b.Destination).
		Str("mode", config.Mode.String()).
		Str("policy", config.Policy.String()).
		Bool("full", config.Full).
		Msg("starting backup")

	e := engine.New(config)
	res, err := e.Run(g.Ctx)
	if res == nil {
		return err
	}

	clitools.Report(os.Stdout, res.Stats)
	if res.SaveErr != nil {
		log.Warn().Err(res.SaveErr).Msg("manifest was not saved, the next run will redo work")
	}
	log.Info().
		Int("errors", res.Stats.Errors).
		Dur("took", res.Finished.Sub(res.Started).Round(time.Millisecond)).
		Msg("backup complete")

	if !b.NoHistory {
		recordRun(historyPath(b.DBPath, b.Destination), "backup", e.Config(), res, err)
	}
	return err
}
