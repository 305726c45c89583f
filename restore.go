package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
	"github.com/rs/zerolog/log"
)

type Restore struct {
	Destination string `arg:"" help:"Backup destination to restore from" type:"existingdir"`
	Target      string `arg:"" help:"Directory to restore into" type:"path"`
	Mode        string `short:"m" help:"Manifest to restore from" enum:"incremental,dedup" default:"incremental"`
	Prefix      string `short:"p" help:"Only restore paths starting with this prefix"`
}

func (r *Restore) Run(g *Globals) error {
	mode, _ := engine.ParseMode(r.Mode)
	log.Debug().Str("destination", r.Destination).Str("target", r.Target).Str("prefix", r.Prefix).Msg("restore called")

	res, err := engine.Restore(g.Ctx, r.Destination, r.Target, mode, r.Prefix)
	if res == nil {
		return err
	}
	fmt.Printf("Restored %d files (%s), %d missing blobs, %d errors\n",
		res.Restored, humanize.IBytes(uint64(res.Bytes)), res.Missing, res.Errors)
	if err != nil {
		return err
	}
	if res.Missing > 0 || res.Errors > 0 {
		return fmt.Errorf("restore incomplete: %d missing, %d errors", res.Missing, res.Errors)
	}
	return nil
}
