package engine

import (
	"github.com/gentoomaniac/dedup-backup/pkg/detect"
)

// Stats accumulates the outcome of one run.
type Stats struct {
	FilesProcessed     int
	FilesNew           int
	FilesModified      int
	FilesUnchanged     int
	FilesCopied        int
	FilesDeduped       int
	DirectoriesCreated int
	Errors             int

	TotalBytes        int64
	BytesCopied       int64
	BytesDeduplicated int64
}

type FailureKind int

const (
	SourceUnavailable FailureKind = iota
	DirectoryEnumerationFailed
	DirectoryCreateFailed
	HashUnreadable
	HashIOFailure
	StoreWriteFailed
	UnrepresentablePath
)

func (k FailureKind) String() string {
	switch k {
	case SourceUnavailable:
		return "source-unavailable"
	case DirectoryEnumerationFailed:
		return "directory-enumeration-failed"
	case DirectoryCreateFailed:
		return "directory-create-failed"
	case HashUnreadable:
		return "hash-unreadable"
	case HashIOFailure:
		return "hash-io-failure"
	case StoreWriteFailed:
		return "store-write-failed"
	case UnrepresentablePath:
		return "unrepresentable-path"
	}
	return "unknown"
}

// Failure is a per-entry error that was counted and skipped.
type Failure struct {
	Path string
	Kind FailureKind
	Err  error
}

// outcome is what processing one walk item reports back to the collector.
type outcome struct {
	path string
	file bool
	size int64

	// classified is set for files that went through change detection
	classified bool
	kind       detect.Kind

	copied  bool
	deduped bool

	dirsCreated int
	failure     *Failure
}

func (s *Stats) apply(o outcome) {
	s.DirectoriesCreated += o.dirsCreated
	if o.file {
		s.FilesProcessed++
		s.TotalBytes += o.size
	}
	if o.failure != nil {
		s.Errors++
		return
	}

	if o.classified {
		switch o.kind {
		case detect.New:
			s.FilesNew++
		case detect.Modified:
			s.FilesModified++
		case detect.Unchanged:
			s.FilesUnchanged++
		}
	}
	switch {
	case o.copied:
		s.FilesCopied++
		s.BytesCopied += o.size
	case o.deduped:
		s.FilesDeduped++
		s.BytesDeduplicated += o.size
	}
}
