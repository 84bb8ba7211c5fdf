package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrItemExists is returned when an item with the same URL was created concurrently.
	ErrItemExists = errors.New("item already exists")
	// ErrSearchFinished is returned when finishing a search twice.
	ErrSearchFinished = errors.New("search already finished")
	// ErrUnknownSite is returned for addresses whose site has no parser.
	ErrUnknownSite = errors.New("unknown site")
	// ErrSessionClosed is returned by Get after Close.
	ErrSessionClosed = errors.New("fetch session closed")
	// ErrLockTimeout is returned when item URL locks cannot be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// FetchError reports a failed page retrieval. StatusCode is zero when no
// response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a listing field that could not be extracted.
type ParseError struct {
	Site  SiteKind
	Field string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %s %q: %v", e.Site, e.Field, e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReconciliationError reports a persistence failure for a single item.
type ReconciliationError struct {
	URL string
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.URL, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
