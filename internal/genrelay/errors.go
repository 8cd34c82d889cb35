package genrelay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConfigured = errors.New("not configured")
)

// StoreError carries the structured error fields the remote data store
// reports on a failed write.
type StoreError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *StoreError) Error() string {
	if e == nil {
		return "store error"
	}
	if e.Code != "" {
		return fmt.Sprintf("store error %s: %s", e.Code, e.Message)
	}
	return "store error: " + e.Message
}

// StoreFailure is the closed classification of a failed direct write.
type StoreFailure int

const (
	StoreFailureInsert StoreFailure = iota
	StoreFailureMissingDisplayNameColumn
	StoreFailureForbidden
)

const displayNameColumn = "user_display_name"

// classifyStoreError is the one place that sniffs error shapes. The
// signatures are best-effort matches against the remote store's error
// format: a missing optional display-name column, and permission or
// row-level-security denials.
func classifyStoreError(storeErr *StoreError) StoreFailure {
	if storeErr == nil {
		return StoreFailureInsert
	}
	combined := strings.ToLower(storeErr.Message + " " + storeErr.Details + " " + storeErr.Hint)
	if strings.Contains(combined, displayNameColumn) &&
		(strings.Contains(combined, "column") || strings.Contains(combined, "schema")) {
		return StoreFailureMissingDisplayNameColumn
	}
	if storeErr.Code == "42501" ||
		strings.Contains(combined, "permission denied") ||
		strings.Contains(combined, "row-level security") ||
		strings.Contains(combined, "row level security") {
		return StoreFailureForbidden
	}
	return StoreFailureInsert
}
