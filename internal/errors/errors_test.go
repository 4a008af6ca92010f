package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_WrapsCauseAndFormatsError(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New("store.Open", KindDependencyUnavailable, cause)

	assert.Equal(t, KindDependencyUnavailable, err.Kind)
	assert.Equal(t, "store.Open", err.Op)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "store.Open")
	assert.Contains(t, err.Error(), string(KindDependencyUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNew_NilCauseOmitsSuffix(t *testing.T) {
	err := New("auth.Verify", KindUnauthorized, nil)
	assert.Equal(t, "auth.Verify: UNAUTHORIZED", err.Error())
}

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", New("gateway.Submit", KindBadTheme, nil))
	assert.True(t, Is(err, KindBadTheme))
	assert.False(t, Is(err, KindNotFound))
}

func TestIs_PlainErrorNeverMatches(t *testing.T) {
	assert.False(t, Is(stderrors.New("plain"), KindInternal))
}

func TestAs_FindsDeeplyWrappedCPError(t *testing.T) {
	inner := New("jobmanager.Transition", KindNotFound, nil)
	wrapped := fmt.Errorf("recovery loop: %w", fmt.Errorf("job lookup: %w", inner))

	var cp *CPError
	ok := As(wrapped, &cp)
	require := assert.New(t)
	require.True(ok)
	require.Equal(KindNotFound, cp.Kind)
}

func TestAs_ReturnsFalseWhenNoCPErrorPresent(t *testing.T) {
	var cp *CPError
	ok := As(fmt.Errorf("wrapped: %w", stderrors.New("plain")), &cp)
	assert.False(t, ok)
}
