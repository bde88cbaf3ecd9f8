package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/models"
)

// Error classes surfaced to the HTTP layer. Every error a service returns
// wraps at most one of these.
var (
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrExternalService  = errors.New("external service error")
	ErrWebhookSignature = errors.New("invalid webhook signature")
	ErrPersistence      = errors.New("persistence error")
)

// ValidationError carries per-field messages and unwraps to ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// classifyStoreError maps a ledger error onto the service error classes.
// Errors already carrying a class pass through untouched.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case hasClass(err):
		return err
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, db.ErrDuplicate), errors.Is(err, models.ErrInvalidTransition):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
}

func hasClass(err error) bool {
	for _, class := range []error{
		ErrValidation,
		ErrUnauthorized,
		ErrForbidden,
		ErrNotFound,
		ErrConflict,
		ErrExternalService,
		ErrWebhookSignature,
		ErrPersistence,
	} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}
