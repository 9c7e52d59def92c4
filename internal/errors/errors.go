package errors

import (
	"errors"
	"fmt"
)

var (
	ErrJobFailed       = errors.New("job failed")
	ErrJobTimedOut     = errors.New("job timed out")
	ErrEmptyStatus     = errors.New("status response contained no entries")
	ErrMalformedStatus = errors.New("malformed status response")
	ErrMissingJobID    = errors.New("submit response contained no guid element")
	ErrExportFailed    = errors.New("bacpac export failed")
	ErrUploadFailed    = errors.New("upload failed")
	ErrRetentionFailed = errors.New("retention cleanup failed")
)

// TransportError reports an HTTP exchange with the import/export service
// that failed at the network level or returned a non-2xx status.
// StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Status     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(op string, statusCode int, status string, err error) *TransportError {
	return &TransportError{
		Op:         op,
		StatusCode: statusCode,
		Status:     status,
		Err:        err,
	}
}

// IsTransportError reports whether err carries a *TransportError and returns it.
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

type BackupError struct {
	Operation    string
	DatabaseName string
	Err          error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("%s failed for database '%s': %v", e.Operation, e.DatabaseName, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

func NewBackupError(op, dbName string, err error) *BackupError {
	return &BackupError{
		Operation:    op,
		DatabaseName: dbName,
		Err:          err,
	}
}

type StorageError struct {
	Operation string
	Location  string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for '%s', key '%s': %v", e.Operation, e.Location, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op, location, key string, err error) *StorageError {
	return &StorageError{
		Operation: op,
		Location:  location,
		Key:       key,
		Err:       err,
	}
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Field, e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}
