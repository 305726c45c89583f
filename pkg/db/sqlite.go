package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/rs/zerolog/log"
)

const FileName = ".backup_history.db"

var ErrRunNotFound = errors.New("run not found")

func NewSQLLite(dbpath string) (*SQLLiteDB, error) {
	rawDB, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	return &SQLLiteDB{rawDB: rawDB}, nil
}

type SQLLiteDB struct {
	rawDB *sql.DB
}

func (db *SQLLiteDB) runStatement(sql string) (sql.Result, error) {
	statement, err := db.rawDB.Prepare(sql)
	if err != nil {
		return nil, err
	}
	defer statement.Close()
	return statement.Exec()
}

func (db *SQLLiteDB) Init() (err error) {
	_, err = db.runStatement("PRAGMA foreign_keys = ON")
	if err != nil {
		return
	}
	log.Debug().Msg("Enabling foreign keys")

	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS runs (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"started INTEGER, " +
			"finished INTEGER, " +
			"command TEXT, " +
			"source TEXT, " +
			"destination TEXT, " +
			"mode TEXT, " +
			"policy TEXT, " +
			"algorithm TEXT, " +
			"full INTEGER, " +
			"workers INTEGER, " +
			"status TEXT, " +
			"files_processed INTEGER, " +
			"files_new INTEGER, " +
			"files_modified INTEGER, " +
			"files_unchanged INTEGER, " +
			"files_copied INTEGER, " +
			"files_deduped INTEGER, " +
			"directories_created INTEGER, " +
			"errors INTEGER, " +
			"total_bytes INTEGER, " +
			"bytes_copied INTEGER, " +
			"bytes_deduplicated INTEGER, " +
			"manifest_entries INTEGER, " +
			"manifest_saved INTEGER" +
			")")
	if err != nil {
		return err
	}

	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS run_failures (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"run_id INTEGER, " +
			"path TEXT, " +
			"kind TEXT, " +
			"message TEXT, " +
			"FOREIGN KEY(run_id) REFERENCES runs(id)" +
			")")
	return err
}

func (db *SQLLiteDB) Close() error {
	return db.rawDB.Close()
}

// AddRun stores run and its failures and sets run.ID.
func (db *SQLLiteDB) AddRun(run *Run) (int64, error) {
	tx, err := db.rawDB.Begin()
	if err != nil {
		return -1, err
	}
	defer tx.Rollback()

	result, err := tx.Exec("INSERT INTO runs ("+
		"started, finished, command, source, destination, mode, policy, algorithm, full, workers, status, "+
		"files_processed, files_new, files_modified, files_unchanged, files_copied, files_deduped, "+
		"directories_created, errors, total_bytes, bytes_copied, bytes_deduplicated, "+
		"manifest_entries, manifest_saved"+
		") VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.Started.Unix(), run.Finished.Unix(), run.Command, run.Source, run.Destination,
		run.Mode, run.Policy, run.Algorithm, run.Full, run.Workers, run.Status,
		run.FilesProcessed, run.FilesNew, run.FilesModified, run.FilesUnchanged, run.FilesCopied,
		run.FilesDeduped, run.DirectoriesCreated, run.Errors, run.TotalBytes, run.BytesCopied,
		run.BytesDeduplicated, run.ManifestEntries, run.ManifestSaved)
	if err != nil {
		return -1, err
	}
	run.ID, err = result.LastInsertId()
	if err != nil {
		return -1, err
	}

	log.Debug().Int("number", len(run.Failures)).Int64("run", run.ID).Msg("Recording run failures")
	for _, failure := range run.Failures {
		failure.RunID = run.ID
		result, err := tx.Exec("INSERT INTO run_failures (run_id, path, kind, message) VALUES(?, ?, ?, ?)",
			run.ID, failure.Path, failure.Kind, failure.Message)
		if err != nil {
			return -1, err
		}
		failure.ID, _ = result.LastInsertId()
	}

	return run.ID, tx.Commit()
}

const runColumns = "id, started, finished, command, source, destination, mode, policy, algorithm, full, workers, status, " +
	"files_processed, files_new, files_modified, files_unchanged, files_copied, files_deduped, " +
	"directories_created, errors, total_bytes, bytes_copied, bytes_deduplicated, " +
	"manifest_entries, manifest_saved"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var started, finished int64
	err := row.Scan(&run.ID, &started, &finished, &run.Command, &run.Source, &run.Destination,
		&run.Mode, &run.Policy, &run.Algorithm, &run.Full, &run.Workers, &run.Status,
		&run.FilesProcessed, &run.FilesNew, &run.FilesModified, &run.FilesUnchanged, &run.FilesCopied,
		&run.FilesDeduped, &run.DirectoriesCreated, &run.Errors, &run.TotalBytes, &run.BytesCopied,
		&run.BytesDeduplicated, &run.ManifestEntries, &run.ManifestSaved)
	if err != nil {
		return nil, err
	}
	run.Started = time.Unix(started, 0)
	run.Finished = time.Unix(finished, 0)
	return run, nil
}

// GetRuns returns all runs, newest first.
func (db *SQLLiteDB) GetRuns() (runs []*Run, err error) {
	rows, err := db.rawDB.Query("SELECT " + runColumns + " FROM runs ORDER BY started DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Int64("id", run.ID).
			Str("source", run.Source).
			Msg("run found")
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (db *SQLLiteDB) GetRunByID(id int64) (*Run, error) {
	row := db.rawDB.QueryRow("SELECT "+runColumns+" FROM runs WHERE id=?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	run.Failures, err = db.GetFailuresForRun(id)
	return run, err
}

func (db *SQLLiteDB) GetFailuresForRun(id int64) (failures []*Failure, err error) {
	rows, err := db.rawDB.Query("SELECT id, run_id, path, kind, message FROM run_failures WHERE run_id=? ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		failure := &Failure{}
		if err := rows.Scan(&failure.ID, &failure.RunID, &failure.Path, &failure.Kind, &failure.Message); err != nil {
			return nil, err
		}
		failures = append(failures, failure)
	}
	return failures, rows.Err()
}
