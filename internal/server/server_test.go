package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentserver/sessionrt/internal/apierr"
	"github.com/stretchr/testify/assert"
)

func TestStatusForMapsKnownErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid path", apierr.ErrInvalidPath, http.StatusBadRequest},
		{"malformed", apierr.ErrMalformed, http.StatusBadRequest},
		{"unauthorized", apierr.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden hides as not found", apierr.ErrForbidden, http.StatusNotFound},
		{"not found", apierr.ErrNotFound, http.StatusNotFound},
		{"no sandbox", apierr.ErrNoSandbox, http.StatusNotFound},
		{"conflict sentinel", apierr.ErrConflict, http.StatusConflict},
		{"conflict value", apierr.NewConflict(123), http.StatusConflict},
		{"timeout value", apierr.NewTimeout(30), http.StatusGatewayTimeout},
		{"aborted", apierr.ErrAborted, http.StatusRequestTimeout},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, statusFor(c.err))
		})
	}
}

func TestStatusForWrappedErrorStillMatches(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), apierr.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, statusFor(wrapped))
}

func TestParseIntQueryReturnsDefaultWhenAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?other=1", nil)
	assert.Equal(t, 50, parseIntQuery(r, "limit", 50))
}

func TestParseIntQueryParsesValidValue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25", nil)
	assert.Equal(t, 25, parseIntQuery(r, "limit", 50))
}

func TestParseIntQueryFallsBackOnGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=notanumber", nil)
	assert.Equal(t, 50, parseIntQuery(r, "limit", 50))
}
