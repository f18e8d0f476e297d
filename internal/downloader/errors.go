package downloader

import (
	"errors"
	"fmt"
)

// ErrCancelled is reported when a stop was observed mid-transfer. The temp
// file is kept so a later run can resume it.
var ErrCancelled = errors.New("download cancelled")

// StatusError is an unexpected HTTP status from the probe or the transfer.
type StatusError struct {
	Operation  string // "probe" or "transfer"
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Operation, e.StatusCode)
}

// IncompleteError means the transfer ended well short of the declared size.
type IncompleteError struct {
	Written  int64
	Expected int64
	Ratio    float64 // required fraction of Expected
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete transfer: wrote %d of %d bytes (need %.0f%%)", e.Written, e.Expected, e.Ratio*100)
}

// PublishError is a failed rename of the temp file to its final name.
type PublishError struct {
	TempPath  string
	FinalPath string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish %s as %s: %v", e.TempPath, e.FinalPath, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
