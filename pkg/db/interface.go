package db

type DB interface {
	Init() error
	AddRun(run *Run) (int64, error)
	GetRuns() ([]*Run, error)
	GetRunByID(id int64) (*Run, error)
	GetFailuresForRun(id int64) ([]*Failure, error)
	Close() error
}
