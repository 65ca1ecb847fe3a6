package app

import (
	"errors"
	"fmt"
	"net/http"

	"flock/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapStoreError translates the store's sentinel taxonomy into DomainErrors.
// Anything outside the taxonomy (statement errors, rolled-back transactions)
// passes through unchanged for the caller to decide on.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, store.ErrLocked):
		return domainError(http.StatusForbidden, "LOCKED", "Bulletin issue is locked", nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, "CONFLICT", "Conflicting state", nil)
	case errors.Is(err, store.ErrPrecondition):
		return domainError(http.StatusPreconditionFailed, "PRECONDITION_FAILED", "Songs are missing licensing numbers", nil)
	default:
		return err
	}
}
