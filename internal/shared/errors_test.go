package shared_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krontab/internal/shared"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrap(t *testing.T) {
	base := errors.New("original")

	tests := []struct {
		name     string
		err      error
		msg      string
		expected string
	}{
		{"simple error", base, "open journal", "open journal: original"},
		{"empty message", base, "", "original"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shared.Wrap(tt.err, tt.msg)
			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.ErrorIs(t, result, base)
		})
	}

	assert.Nil(t, shared.Wrap(nil, "ignored"))
	assert.Nil(t, shared.Wrapf(nil, "job %s", "backup"))
	assert.Equal(t, "job backup: original", shared.Wrapf(base, "job %s", "backup").Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{"nil", nil, shared.KindUnknown},
		{"plain", errors.New("plain"), shared.KindUnknown},
		{"not found", fmt.Errorf("job %q: %w", "x", shared.ErrNotFound), shared.KindNotFound},
		{"validation", shared.ErrValidation, shared.KindValidation},
		{"conflict", shared.ErrConflict, shared.KindConflict},
		{"rate limited", shared.ErrRateLimited, shared.KindRateLimited},
		{"dependency", shared.MarkKind(errors.New("db down"), shared.KindDependencyFailure), shared.KindDependencyFailure},
		{"internal", shared.ErrInternal, shared.KindInternal},
		{"deadline", context.DeadlineExceeded, shared.KindTimeout},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), shared.KindTimeout},
		{"canceled", context.Canceled, shared.KindCanceled},
		{"canceled wins over dependency", shared.MarkKind(context.Canceled, shared.KindDependencyFailure), shared.KindCanceled},
		{"joined takes priority order", errors.Join(shared.ErrInternal, shared.ErrNotFound), shared.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.KindOf(tt.err))
			assert.True(t, shared.HasKind(tt.err, tt.want))
		})
	}
}

func TestMarkKind(t *testing.T) {
	base := errors.New("boom")

	marked := shared.MarkKind(base, shared.KindValidation)
	assert.ErrorIs(t, marked, base)
	assert.ErrorIs(t, marked, shared.ErrValidation)
	assert.True(t, shared.IsValidation(marked))

	assert.Same(t, marked, shared.MarkKind(marked, shared.KindValidation), "marking is idempotent")
	assert.Equal(t, base, shared.MarkKind(base, shared.KindUnknown))
	assert.Equal(t, base, shared.MarkKind(base, shared.KindCanceled))
	assert.Equal(t, shared.ErrNotFound, shared.MarkKind(nil, shared.KindNotFound))
	assert.ErrorIs(t, shared.MarkKind(base, shared.KindTimeout), shared.ErrTimeout)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "NotFound", shared.KindNotFound.String())
	assert.Equal(t, "Canceled", shared.KindCanceled.String())
	assert.Equal(t, "Unknown", shared.Kind(99).String())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.ErrValidation, http.StatusBadRequest},
		{shared.ErrConflict, http.StatusConflict},
		{shared.ErrRateLimited, http.StatusTooManyRequests},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{shared.ErrDependencyFailure, http.StatusBadGateway},
		{context.Canceled, 499},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, shared.HTTPStatus(tt.err))
		})
	}
}
