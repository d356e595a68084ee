package routes

import (
	"errors"
	"net/http"

	coreerrors "fixedterm/core/errors"
	"fixedterm/native/fixedterm"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fixedterm.ErrMarketNotFound),
		errors.Is(err, fixedterm.ErrOrderbookMissing),
		errors.Is(err, fixedterm.ErrMarginUserNotFound),
		errors.Is(err, fixedterm.ErrLoanNotFound),
		errors.Is(err, fixedterm.ErrDepositNotFound):
		return http.StatusNotFound
	}
	switch coreerrors.Classify(err) {
	case coreerrors.KindPolicy, coreerrors.KindSequence:
		return http.StatusConflict
	case coreerrors.KindAuthorization:
		return http.StatusForbidden
	case coreerrors.KindStaleness:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.cfg.Logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	body := errorBody{Error: err.Error()}
	if kind := coreerrors.Classify(err); kind != coreerrors.KindUnknown {
		body.Kind = kind.String()
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
