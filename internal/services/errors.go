// Package services holds the business rules of the platform. Handlers
// translate the sentinel errors below into HTTP statuses.
package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/envie2sortir/envie2sortir/validation"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSiretTaken         = errors.New("siret already registered")
	ErrSlugTaken          = errors.New("slug already used")
	ErrSiretInactive      = errors.New("siret belongs to a closed company")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrAlreadySubscribed  = errors.New("already subscribed")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidRange       = errors.New("invalid date range")
	ErrIntegrationOff     = errors.New("integration disabled")
)

// ValidationError carries field -> code violations.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// check returns a *ValidationError when v is not empty.
func check(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

// invalidField is a one-violation ValidationError.
func invalidField(field, code string) error {
	return &ValidationError{Violations: validation.Violations{field: code}}
}

// pageBounds clamps page/limit the same way for every list.
func pageBounds(page, limit, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > max {
		limit = max
	}
	return page, limit
}

// AsValidation unwraps a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
