package main

import (
	"os"

	clitools "github.com/gentoomaniac/dedup-backup/pkg/cli"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
	"github.com/rs/zerolog/log"
)

type Mirror struct {
	Source      string `arg:"" optional:"" help:"Directory to copy, prompted for when missing" type:"path"`
	Destination string `arg:"" optional:"" help:"Target directory, prompted for when missing" type:"path"`
	Workers     int    `short:"w" help:"Files copied in parallel, 0 for one per CPU" default:"0"`
}

func (m *Mirror) Run(g *Globals) error {
	if err := promptMissing(&m.Source, &m.Destination); err != nil {
		return err
	}
	log.Info().Str("source", m.Source).Str("destination", m.Destination).Msg("starting mirror")

	res, err := engine.Mirror(g.Ctx, m.Source, m.Destination, m.Workers, nil)
	if res == nil {
		return err
	}
	clitools.Report(os.Stdout, res.Stats)
	return err
}
