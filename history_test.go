package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gentoomaniac/dedup-backup/pkg/db"
	"github.com/gentoomaniac/dedup-backup/pkg/detect"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryPath(t *testing.T) {
	assert.Equal(t, "/tmp/h.db", historyPath("/tmp/h.db", "/backup"))
	assert.Equal(t, filepath.Join("/backup", db.FileName), historyPath("", "/backup"))
}

func TestNewRun(t *testing.T) {
	config := engine.Config{Source: "/src", Destination: "/dst", Mode: engine.ModeDedup, Policy: detect.PolicyStrict, Workers: 4}
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res := &engine.Result{
		Stats:    engine.Stats{FilesProcessed: 3, FilesNew: 2, Errors: 1, TotalBytes: 10},
		Failures: []engine.Failure{{Path: "x", Kind: engine.HashUnreadable, Err: errors.New("denied")}},
		Started:  started,
		Finished: started.Add(time.Second),
	}

	run := newRun("backup", config, res, nil)
	assert.Equal(t, "dedup", run.Mode)
	assert.Equal(t, "strict", run.Policy)
	assert.Equal(t, "sha256", run.Algorithm)
	assert.Equal(t, db.StatusSuccess, run.Status)
	assert.Equal(t, 3, run.FilesProcessed)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, engine.HashUnreadable.String(), run.Failures[0].Kind)
	assert.Equal(t, "denied", run.Failures[0].Message)

	res.Cancelled = true
	assert.Equal(t, db.StatusCancelled, newRun("backup", config, res, context.Canceled).Status)

	res.Cancelled = false
	res.SaveErr = errors.New("disk full")
	assert.Equal(t, db.StatusFailed, newRun("backup", config, res, nil).Status)
}

func TestRecordRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), db.FileName)
	res := &engine.Result{Started: time.Now(), Finished: time.Now()}

	recordRun(dbPath, "backup", engine.Config{Source: "/a"}, res, nil)
	recordRun(dbPath, "backup", engine.Config{Source: "/b"}, res, nil)

	database, err := db.NewSQLLite(dbPath)
	require.NoError(t, err)
	defer database.Close()
	runs, err := database.GetRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
