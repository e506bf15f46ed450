package batch

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewRunID returns a fresh identifier for one batch run.
func NewRunID() string {
	return uuid.NewString()
}

// ErrorLog appends one JSON record per failed case. Records of the same run
// share its run id, so several runs can append to one file.
type ErrorLog struct {
	mu     sync.Mutex
	log    zerolog.Logger
	closer io.Closer
}

// NewErrorLog writes records to w.
func NewErrorLog(w io.Writer, runID string) *ErrorLog {
	return &ErrorLog{
		log: zerolog.New(w).With().Timestamp().Str("run_id", runID).Logger(),
	}
}

// OpenErrorLog appends records to the file at path, creating it if needed.
func OpenErrorLog(path, runID string) (*ErrorLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	el := NewErrorLog(f, runID)
	el.closer = f
	return el, nil
}

// Record writes the failure of one case. kind names the error class.
func (e *ErrorLog) Record(c Case, kind string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Error().
		Str("case", c.Name).
		Str("dir", c.Dir).
		Str("kind", kind).
		Err(err).
		Msg("case failed")
}

// Close closes the underlying file, if any.
func (e *ErrorLog) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}
