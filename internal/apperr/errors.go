// Package apperr holds the sentinel errors shared across markpad packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrStorageWrite is returned when the key-value substrate rejects a write.
	// Prior state is left untouched; callers treat the save as not having happened.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrQuotaExceeded is the substrate-level cause wrapped by ErrStorageWrite.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	ErrDecodeFailure   = errors.New("share token decode failed")
	ErrContentTooLarge = errors.New("content too large for share link")
	ErrCatalogCorrupt  = errors.New("history catalog corrupt")
)
