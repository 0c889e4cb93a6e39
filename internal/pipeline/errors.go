package pipeline

import (
	"errors"
	"fmt"

	"github.com/FranksOps/notewatch/internal/storage"
)

// ErrNoKeywords is returned before any external call when there is nothing
// to collect.
var ErrNoKeywords = errors.New("pipeline: keyword list is empty")

// ReadinessError aborts a run before any keyword is processed.
type ReadinessError struct {
	Err error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("pipeline: bridge not ready: %v", e.Err)
}

func (e *ReadinessError) Unwrap() error { return e.Err }

// StageError is a search or detail failure that aborted the run because
// continue-on-error was off.
type StageError struct {
	Stage   storage.Stage
	Keyword string
	FeedID  string
	Err     error
}

func (e *StageError) Error() string {
	if e.FeedID != "" {
		return fmt.Sprintf("pipeline: %s %q (feed %s): %v", e.Stage, e.Keyword, e.FeedID, e.Err)
	}
	return fmt.Sprintf("pipeline: %s %q: %v", e.Stage, e.Keyword, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RunFailedError reports a run that produced no rows and no payloads while
// recording errors. First is the earliest recorded error.
type RunFailedError struct {
	First  storage.ErrorRecord
	Errors int
}

func (e *RunFailedError) Error() string {
	msg := e.First.Error
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("pipeline: run failed: %s", msg)
}
