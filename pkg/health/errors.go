package health

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound     = errors.New("import job not found")
	ErrAlreadyTerminal = errors.New("import job already reached a terminal status")
	ErrNegativeDelta   = errors.New("records processed delta must not be negative")
)

// FileValidationError marks a problem the user fixes by uploading a
// corrected file. It is never retried.
type FileValidationError struct {
	reason error
}

func NewFileValidationError(format string, args ...interface{}) error {
	return FileValidationError{reason: fmt.Errorf(format, args...)}
}

func (e FileValidationError) Error() string {
	return e.reason.Error()
}

func (e FileValidationError) Unwrap() error {
	return e.reason
}

func IsFileValidationError(err error) bool {
	var fe FileValidationError
	return errors.As(err, &fe)
}

// DataImportError is a processing failure after the upload was accepted.
type DataImportError struct {
	JobID  string
	reason error
}

func NewDataImportError(jobID string, reason error) error {
	return DataImportError{JobID: jobID, reason: reason}
}

func (e DataImportError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("data import failed: %v", e.reason)
	}
	return fmt.Sprintf("data import %s failed: %v", e.JobID, e.reason)
}

func (e DataImportError) Unwrap() error {
	return e.reason
}

func IsDataImportError(err error) bool {
	var de DataImportError
	return errors.As(err, &de)
}
