// Package apierr translates the closed control-plane error taxonomy into
// HTTP status codes and JSON bodies, replacing the teacher's substring
// matching on gRPC status text (handleGRPCError in handler.go) with a
// lookup table keyed on the typed errors.Kind.
package apierr

import (
	"encoding/json"
	"net/http"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

var statusByKind = map[cperr.Kind]int{
	cperr.KindBadRequest:            http.StatusBadRequest,
	cperr.KindBadTheme:              http.StatusBadRequest,
	cperr.KindUnauthorized:          http.StatusUnauthorized,
	cperr.KindForbidden:             http.StatusForbidden,
	cperr.KindInsufficientCredits:   http.StatusPaymentRequired,
	cperr.KindNotFound:              http.StatusNotFound,
	cperr.KindDuplicateEvent:        http.StatusOK,
	cperr.KindEnqueueFailed:         http.StatusInternalServerError,
	cperr.KindWorkerFailure:         http.StatusInternalServerError,
	cperr.KindWorkerDisappeared:     http.StatusInternalServerError,
	cperr.KindDependencyUnavailable: http.StatusServiceUnavailable,
	cperr.KindInternal:              http.StatusInternalServerError,
}

type body struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Write maps err to an HTTP status + JSON error body. Unknown error shapes
// fall back to 500 INTERNAL rather than leaking implementation detail.
func Write(w http.ResponseWriter, err error) {
	var cp *cperr.CPError
	kind := cperr.KindInternal
	if cperr.As(err, &cp) {
		kind = cp.Kind
	}
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: err.Error(), Kind: string(kind)})
}
