package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
	"github.com/gentoomaniac/dedup-backup/pkg/hasher"
	"github.com/rs/zerolog/log"
)

type Verify struct {
	Destination string `arg:"" help:"Backup destination to check" type:"existingdir"`
	Hash        string `help:"Content hash algorithm the blobs were stored with" enum:"sha256,blake3" default:"sha256"`
}

func (v *Verify) Run(g *Globals) error {
	res, err := engine.Verify(g.Ctx, v.Destination, hasher.Algorithm(v.Hash))
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d blobs: %d corrupt, %d manifest entries without blob\n", res.Blobs, len(res.Corrupt), len(res.Missing))
	if !res.OK() {
		return fmt.Errorf("destination %s failed verification", v.Destination)
	}
	return nil
}

type Reconcile struct {
	Destination string `arg:"" help:"Backup destination to clean up" type:"existingdir"`
	DryRun      bool   `short:"n" help:"Only list orphaned blobs"`
}

func (r *Reconcile) Run(g *Globals) error {
	log.Debug().Str("destination", r.Destination).Bool("dry_run", r.DryRun).Msg("reconcile called")
	res, err := engine.Reconcile(g.Ctx, r.Destination, r.DryRun)
	if res == nil {
		return err
	}
	verb := "Removed"
	if r.DryRun {
		verb = "Would remove"
	}
	fmt.Printf("%s %d of %d blobs (%s)\n", verb, len(res.Orphaned), res.Blobs, humanize.IBytes(uint64(res.BytesReclaimed)))
	return err
}
