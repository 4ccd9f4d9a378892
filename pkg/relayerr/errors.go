package relayerr

import (
	"errors"
	"fmt"
)

const (
	ErrorMalformedPayload = "malformed_payload"
	ErrorEmptyPayload     = "empty_payload"
	ErrorUnknownService   = "unknown_service"
	ErrorInvalidService   = "invalid_service"
	ErrorConfigLoad       = "config_load"
	ErrorDelivery         = "delivery"
	ErrorInternal         = "internal"
)

// Error represents a stable, categorized relay failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Category, e.Err)
		}
		return e.Category
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Detail, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a categorized relay error.
func New(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap attaches a category and detail to an underlying cause.
func Wrap(category string, detail string, err error) error {
	if err == nil {
		return New(category, detail)
	}
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ErrorInternal
}

// DetailFromError returns the user-facing detail of a categorized error,
// falling back to its category name.
func DetailFromError(err error) string {
	var categorized *Error
	if !errors.As(err, &categorized) {
		return ""
	}
	if categorized.Detail != "" {
		return categorized.Detail
	}

	return categorized.Category
}

// Is reports whether err carries the given category.
func Is(err error, category string) bool {
	return CategoryFromError(err) == category
}
