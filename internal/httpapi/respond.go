package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/issuer"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// outcomeStatus maps a terminal outcome onto an HTTP status.
func outcomeStatus(out types.Outcome) int {
	switch out.State {
	case types.StateIssued, types.StateAlreadyIssued:
		return http.StatusOK
	case types.StateIneligible:
		return http.StatusForbidden
	case types.StateRejected:
		return http.StatusConflict
	}
	if out.TimedOut {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidWallet):
		return http.StatusBadRequest, "invalid_wallet_address"
	case errors.Is(err, types.ErrInvalidEventID):
		return http.StatusBadRequest, "invalid_event_id"
	case errors.Is(err, service.ErrInvalidMintUID):
		return http.StatusBadRequest, "invalid_uid"
	case errors.Is(err, service.ErrUnknownEvent), errors.Is(err, issuer.ErrUnknownEvent):
		return http.StatusNotFound, "unknown_event"
	case errors.Is(err, service.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case errors.Is(err, store.ErrConsistency):
		return http.StatusInternalServerError, "consistency_error"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "request_cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	var ie *issuer.Error
	if errors.As(err, &ie) {
		if ie.Kind == issuer.Rejected {
			return http.StatusBadGateway, "issuer_rejected"
		}
		return http.StatusBadGateway, "issuer_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
