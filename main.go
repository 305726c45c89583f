package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/gentoomaniac/logging"
	"github.com/rs/zerolog/log"
)

var (
	version = "unset"
	commit  = "unset"
	binName = "dedup-backup"
	builtBy = "manual"
	date    = "unset"
)

// Globals is bound to every command's Run method.
type Globals struct {
	Ctx context.Context
}

var cli struct {
	logging.LoggingConfig

	Backup    Backup    `cmd:"" help:"Run an incremental, deduplicating backup"`
	Mirror    Mirror    `cmd:"" help:"Copy a directory tree without manifest or deduplication"`
	Restore   Restore   `cmd:"" help:"Restore files from a backup destination"`
	Verify    Verify    `cmd:"" help:"Check blobs and manifests of a backup destination"`
	Reconcile Reconcile `cmd:"" help:"Delete blobs that no manifest references any more"`
	History   History   `cmd:"" help:"Show recorded backup runs"`

	Version kong.VersionFlag `help:"Display version."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(binName),
		kong.Description("Incremental, deduplicating directory backups."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "~/.config/dedup-backup/config.json", "./.dedup-backup.json"),
		kong.Vars{
			"version": version,
			"commit":  commit,
			"binName": binName,
			"builtBy": builtBy,
			"date":    date,
		})
	logging.Setup(&cli.LoggingConfig)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug().Str("command", ctx.Command()).Msg("starting")
	err := ctx.Run(&Globals{Ctx: runCtx})
	stop()
	ctx.FatalIfErrorf(err)
	ctx.Exit(0)
}
