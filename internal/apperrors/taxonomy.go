package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error categories shared by every service. Domain errors wrap one of these so
// handlers can classify them with errors.Is.
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrNotFound            = errors.New("not found")
	ErrExpired             = errors.New("expired")
	ErrAlreadyUsed         = errors.New("already used")
	ErrAlreadyDecided      = errors.New("already decided")
	ErrConflict            = errors.New("conflict")
	ErrValidation          = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// New returns an error with the user-facing message msg that errors.Is matches
// against category.
func New(category error, msg string) error {
	return &classifiedError{category: category, msg: msg}
}

type classifiedError struct {
	category error
	msg      string
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.category }

// Validation returns an ErrValidation carrying a user-facing message.
func Validation(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

// Upstream wraps err as ErrUpstreamUnavailable unless it is already classified.
func Upstream(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// Classified reports whether err wraps one of the category sentinels.
func Classified(err error) bool {
	for _, target := range categories {
		if errors.Is(err, target.err) {
			return true
		}
	}
	return false
}

type category struct {
	err    error
	status int
	code   string
}

// categories is ordered: the first match wins.
var categories = []category{
	{ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
	{ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{ErrValidation, http.StatusBadRequest, "validation_error"},
	{ErrExpired, http.StatusGone, "expired"},
	{ErrAlreadyUsed, http.StatusConflict, "already_used"},
	{ErrAlreadyDecided, http.StatusConflict, "already_decided"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrUpstreamUnavailable, http.StatusServiceUnavailable, "upstream_unavailable"},
}

// Status returns the HTTP status and envelope code for err.
// Unclassified errors map to 500 internal_error.
func Status(err error) (int, string) {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// WriteServiceError writes err using the category it wraps. Messages of validation,
// authorization and state errors are surfaced verbatim; everything else is logged
// and replaced by fallback.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, code := Status(err)
	message := err.Error()

	switch status {
	case http.StatusServiceUnavailable:
		log.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg(fallback)
		w.Header().Set("Retry-After", "5")
		message = fallback + ": upstream unavailable, retry shortly"
	case http.StatusInternalServerError:
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg(fallback)
		message = fallback
	}

	WriteError(w, r, status, code, message)
}
