package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "POAP dispenser: POST /v1/verify-and-issue with wallet_address and event_id",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"server_time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleVerifyAndIssue(w http.ResponseWriter, r *http.Request) {
	var req types.IssueRequest

	if isProtobuf(r) {
		msg, err := readStruct(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		req = issueRequestFromProto(msg)
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_wait", "wait must be true or false")
			return
		}
		req.WaitForEligibility = req.WaitForEligibility || wait
	}

	out, err := s.coordinator.VerifyAndIssue(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "verify-and-issue", err)
		return
	}

	status := outcomeStatus(out)
	if wantsProtobuf(r) {
		writeProto(w, status, outcomeToProto(out))
		return
	}
	writeJSON(w, status, out)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coordinator.CheckEligibility(r.Context(), chi.URLParam(r, "wallet"), chi.URLParam(r, "eventID"))
	if err != nil {
		s.writeServiceError(w, r, "eligibility", err)
		return
	}
	status := http.StatusOK
	if resp.Reason == types.ReasonProbeError {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCollectorStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.CollectorStatus(r.Context(), chi.URLParam(r, "wallet"), chi.URLParam(r, "eventID"))
	if err != nil {
		s.writeServiceError(w, r, "collector status", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemainingCodes(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	n, err := s.queries.RemainingCodes(r.Context(), eventID)
	if err != nil {
		s.writeServiceError(w, r, "remaining codes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"event_id":  eventID,
		"remaining": n,
	})
}

func (s *Server) handleMintStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.queries.MintStatus(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeServiceError(w, r, "mint status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleWaitMintStatus holds the request until the mint has a transaction
// hash. A mint still pending at the end of the wait answers 202.
func (s *Server) handleWaitMintStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.queries.WaitMintStatus(r.Context(), chi.URLParam(r, "uid"))
	if errors.Is(err, service.ErrMintPending) {
		writeJSON(w, http.StatusAccepted, st)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, "wait mint status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type recordView struct {
	WalletAddress string       `json:"wallet_address"`
	EventID       string       `json:"event_id"`
	Status        types.Status `json:"status"`
	CredentialRef string       `json:"credential_ref,omitempty"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
}

func (s *Server) handleAdminRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.RecordFilter{
		EventID: strings.TrimSpace(q.Get("event_id")),
		Status:  types.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	recs, err := s.queries.Records(r.Context(), filter)
	if err != nil {
		if filter.Status != "" && !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		s.writeServiceError(w, r, "admin records", err)
		return
	}

	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView{
			WalletAddress: rec.WalletAddress,
			EventID:       rec.EventID,
			Status:        rec.Status,
			CredentialRef: rec.CredentialRef,
			Attempts:      rec.Attempts,
			LastError:     rec.LastError,
			CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:     rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "records": out})
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "reconciler is not configured")
		return
	}
	n, err := s.reconciler.RunOnce(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "admin reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "reconciled": n})
}

// writeServiceError maps service errors onto HTTP responses. Unexpected
// errors are logged and reported as 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), op+" failed", "err", err, "path", r.URL.Path)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError && code == "internal_error" {
		msg = "unexpected server error"
	}
	writeError(w, status, code, msg)
}
