package main

import (
	"fmt"
	"os"
	"path/filepath"

	clitools "github.com/gentoomaniac/dedup-backup/pkg/cli"
	"github.com/gentoomaniac/dedup-backup/pkg/db"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
	"github.com/rs/zerolog/log"
)

type History struct {
	Destination string `arg:"" optional:"" help:"Backup destination holding the history database" type:"path"`
	DBPath      string `short:"d" help:"Run history database, defaults to <destination>/.backup_history.db" type:"path"`
	Select      bool   `short:"s" help:"Pick a run interactively and show its failures"`
}

func historyPath(dbPath, destination string) string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(destination, db.FileName)
}

func newRun(command string, config engine.Config, res *engine.Result, runErr error) *db.Run {
	run := &db.Run{
		Started:     res.Started,
		Finished:    res.Finished,
		Command:     command,
		Source:      config.Source,
		Destination: config.Destination,
		Mode:        config.Mode.String(),
		Policy:      config.Policy.String(),
		Algorithm:   string(config.Algorithm),
		Full:        config.Full,
		Workers:     config.Workers,
		Status:      db.StatusSuccess,

		FilesProcessed:     res.Stats.FilesProcessed,
		FilesNew:           res.Stats.FilesNew,
		FilesModified:      res.Stats.FilesModified,
		FilesUnchanged:     res.Stats.FilesUnchanged,
		FilesCopied:        res.Stats.FilesCopied,
		FilesDeduped:       res.Stats.FilesDeduped,
		DirectoriesCreated: res.Stats.DirectoriesCreated,
		Errors:             res.Stats.Errors,
		TotalBytes:         res.Stats.TotalBytes,
		BytesCopied:        res.Stats.BytesCopied,
		BytesDeduplicated:  res.Stats.BytesDeduplicated,

		ManifestEntries: res.ManifestEntries,
		ManifestSaved:   res.ManifestSaved,
	}
	if run.Algorithm == "" {
		run.Algorithm = "sha256"
	}
	switch {
	case res.Cancelled:
		run.Status = db.StatusCancelled
	case runErr != nil || res.SaveErr != nil:
		run.Status = db.StatusFailed
	}
	for _, f := range res.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		run.Failures = append(run.Failures, &db.Failure{Path: f.Path, Kind: f.Kind.String(), Message: msg})
	}
	return run
}

// recordRun stores the run in the history database. Failing to do so is not
// fatal for the backup itself.
func recordRun(dbPath, command string, config engine.Config, res *engine.Result, runErr error) {
	database, err := db.NewSQLLite(dbPath)
	if err != nil {
		log.Warn().Err(err).Str("db", dbPath).Msg("could not open history database")
		return
	}
	defer database.Close()

	if err := database.Init(); err != nil {
		log.Warn().Err(err).Str("db", dbPath).Msg("could not initialise history database")
		return
	}
	id, err := database.AddRun(newRun(command, config, res, runErr))
	if err != nil {
		log.Warn().Err(err).Str("db", dbPath).Msg("could not record run")
		return
	}
	log.Debug().Int64("id", id).Str("db", dbPath).Msg("run recorded")
}

func (h *History) Run(g *Globals) error {
	dbPath := historyPath(h.DBPath, h.Destination)
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no history database: %w", err)
	}
	database, err := db.NewSQLLite(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.GetRuns()
	if err != nil {
		return err
	}
	if !h.Select {
		clitools.ReportRuns(os.Stdout, runs)
		return nil
	}

	run, err := clitools.PromptRuns(runs)
	if err != nil {
		return err
	}
	log.Debug().Int64("id", run.ID).Str("source", run.Source).Msg("run selected")

	clitools.ReportRuns(os.Stdout, []*db.Run{run})
	failures, err := database.GetFailuresForRun(run.ID)
	if err != nil {
		return err
	}
	clitools.ReportFailures(os.Stdout, failures)
	return nil
}
