package db

import "time"

// Run is the catalog record of one backup invocation.
type Run struct {
	ID          int64
	Started     time.Time
	Finished    time.Time
	Command     string
	Source      string
	Destination string
	Mode        string
	Policy      string
	Algorithm   string
	Full        bool
	Workers     int
	Status      string

	FilesProcessed     int
	FilesNew           int
	FilesModified      int
	FilesUnchanged     int
	FilesCopied        int
	FilesDeduped       int
	DirectoriesCreated int
	Errors             int
	TotalBytes         int64
	BytesCopied        int64
	BytesDeduplicated  int64

	ManifestEntries int
	ManifestSaved   bool

	Failures []*Failure
}

type Failure struct {
	ID      int64
	RunID   int64
	Path    string
	Kind    string
	Message string
}

const (
	StatusSuccess   = "success"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)
