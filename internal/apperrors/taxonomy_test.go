package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_MapsCategories(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
		{fmt.Errorf("invite: %w", ErrExpired), http.StatusGone, "expired"},
		{fmt.Errorf("invite: %w", ErrAlreadyUsed), http.StatusConflict, "already_used"},
		{Validation("email is required"), http.StatusBadRequest, "validation_error"},
		{Upstream(errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "upstream_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, code := Status(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestUpstream_KeepsClassifiedErrors(t *testing.T) {
	err := fmt.Errorf("lookup: %w", ErrNotFound)
	require.Same(t, err, Upstream(err))
	require.Nil(t, Upstream(nil))
	require.ErrorIs(t, Upstream(errors.New("timeout")), ErrUpstreamUnavailable)
}

func TestWriteServiceError_HidesUpstreamDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteServiceError(rec, req, Upstream(errors.New("password=secret")), "Failed to resolve membership")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))

	var env ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "upstream_unavailable", env.Error.Code)
	require.NotContains(t, env.Error.Message, "secret")
}

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", seen)
}
