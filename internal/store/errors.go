// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyEnriched is returned by CompleteEnrichment when the article
	// already carries an enrichment.
	ErrAlreadyEnriched = errors.New("article already enriched")
)

// PersistenceError wraps a storage failure. Retryable reports whether the
// same write may succeed if tried again (lock contention, dropped
// connection).
type PersistenceError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable PersistenceError.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Retryable
}

// MaxErrorLen bounds the last_error column.
const MaxErrorLen = 500

// ClipReason makes a failure reason safe to store: invalid UTF-8 is
// replaced and the result is at most MaxErrorLen bytes, cut on a rune
// boundary.
func ClipReason(reason string) string {
	reason = strings.ToValidUTF8(reason, "\uFFFD")
	if len(reason) <= MaxErrorLen {
		return reason
	}
	cut := MaxErrorLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

const dayLayout = "2006-01-02"

// ReadingDays returns the UTC day of at and the day before it.
func ReadingDays(at time.Time) (today, yesterday string) {
	day := at.UTC()
	return day.Format(dayLayout), day.AddDate(0, 0, -1).Format(dayLayout)
}
