package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrSchemaVersionNotFound = errors.New("schema version not found")
	ErrDatasetNotFound       = errors.New("dataset version not found")
	ErrJobTerminal           = errors.New("job already in terminal state")
	ErrMissingConnection     = errors.New("connection string is required for this operation")
	ErrEnvironmentNotFound   = errors.New("target environment not found")
)
