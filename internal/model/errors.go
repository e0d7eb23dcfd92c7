package model

import (
	"errors"
)

var (
	// ErrScanInProgress rejects a scan request while another one runs.
	ErrScanInProgress = errors.New("scan already in progress")
	ErrScanCanceled   = errors.New("scan canceled")
	ErrScanTimeout    = errors.New("scan timed out")
	ErrShutdown       = errors.New("scan manager closed")

	ErrFileNotFound    = errors.New("file not found")
	ErrInvalidFileName = errors.New("invalid file name")
)
