package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

func TestWrite_MapsKnownKindsToStatus(t *testing.T) {
	cases := []struct {
		kind cperr.Kind
		want int
	}{
		{cperr.KindBadRequest, http.StatusBadRequest},
		{cperr.KindBadTheme, http.StatusBadRequest},
		{cperr.KindUnauthorized, http.StatusUnauthorized},
		{cperr.KindForbidden, http.StatusForbidden},
		{cperr.KindInsufficientCredits, http.StatusPaymentRequired},
		{cperr.KindNotFound, http.StatusNotFound},
		{cperr.KindDuplicateEvent, http.StatusOK},
		{cperr.KindEnqueueFailed, http.StatusInternalServerError},
		{cperr.KindWorkerFailure, http.StatusInternalServerError},
		{cperr.KindWorkerDisappeared, http.StatusInternalServerError},
		{cperr.KindDependencyUnavailable, http.StatusServiceUnavailable},
		{cperr.KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		Write(rec, cperr.New("op", c.kind, errors.New("boom")))
		assert.Equal(t, c.want, rec.Code, "kind %s", c.kind)
	}
}

func TestWrite_UnknownErrorShapeFallsBackToInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("plain error, not a CPError"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var b body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, string(cperr.KindInternal), b.Kind)
}

func TestWrite_BodyIncludesErrorAndKind(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, cperr.New("submit", cperr.KindBadTheme, errors.New("unknown theme")))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var b body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, string(cperr.KindBadTheme), b.Kind)
	assert.Contains(t, b.Error, "unknown theme")
}
