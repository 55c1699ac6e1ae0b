package app

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"calendar-service/internal/domain"
)

func TestParseStaticTokens(t *testing.T) {
	got := parseStaticTokens([]string{
		"abc=1:7",
		"nocolon=5",
		"noequals",
		"zero=0:1",
		"word=x:1",
	})
	assert.Equal(t, map[string]principal{"abc": {actor: 1, contextID: 7}}, got)
}

func TestUserFromState(t *testing.T) {
	tests := []struct {
		state string
		id    int64
		ok    bool
	}{
		{"user_42_1700000000", 42, true},
		{"user_0_1700000000", 0, false},
		{"user_x_1", 0, false},
		{"admin_42_1", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		id, ok := userFromState(tt.state)
		assert.Equal(t, tt.ok, ok, tt.state)
		assert.Equal(t, tt.id, id, tt.state)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Validation("start", "missing"), http.StatusBadRequest},
		{domain.PermissionDenied("update"), http.StatusForbidden},
		{domain.NotFound(), http.StatusNotFound},
		{domain.QuotaExceeded("too many"), http.StatusConflict},
		{domain.OptimisticConflict(), http.StatusPreconditionFailed},
		{domain.Recurrence("bad position"), http.StatusUnprocessableEntity},
		{domain.Persistence("insert", errors.New("down")), http.StatusInternalServerError},
		{errors.New("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
