package app

import (
	"errors"
	"fmt"
	"net/http"
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

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", message, details)
}

func createFailed(message string, err error) *DomainError {
	return domainError(http.StatusInternalServerError, "CREATE_FAILED", message, errDetail(err))
}

func updateFailed(message string, err error) *DomainError {
	return domainError(http.StatusInternalServerError, "UPDATE_FAILED", message, errDetail(err))
}

func notConfigured() *DomainError {
	return domainError(http.StatusServiceUnavailable, "NOT_CONFIGURED", "persistence unavailable", nil)
}

func errDetail(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}

// asDomainError extracts a DomainError, wrapping anything else as a plain
// internal error so handlers have a single shape to render.
func asDomainError(err error) *DomainError {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain
	}
	return domainError(http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}
