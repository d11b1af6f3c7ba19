package service

import "errors"

var (
	ErrIDRequired      = errors.New("id is required")
	ErrNotFound        = errors.New("document not found")
	ErrReaderNil       = errors.New("reader is nil")
	ErrAccessDenied    = errors.New("access denied")
	ErrConflict        = errors.New("save already in progress")
	ErrSaveFailed      = errors.New("save failed")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidMode     = errors.New("invalid editor mode")
	ErrArchiveDisabled = errors.New("version archive is disabled")
)
