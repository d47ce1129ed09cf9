package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"custodychain/internal/apperr"
	"custodychain/internal/ledger"
	"custodychain/internal/processor"
)

const (
	kindUnavailable = "unavailable"
	maxBodyBytes    = 1 << 20
)

type errorBody struct {
	Kind    string `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindFormat:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTransition, apperr.KindAlreadyCompleted:
		return http.StatusConflict
	case apperr.KindTokenExpired:
		return http.StatusGone
	case apperr.KindTokenMismatch:
		return http.StatusForbidden
	case apperr.KindIntegrity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Kind: string(kind), Field: apperr.FieldOf(err), Message: err.Error()}

	switch {
	case kind != apperr.KindInternal:
	case errors.Is(err, processor.ErrMinerStopped),
		errors.Is(err, ledger.ErrNonceExhausted),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		body.Kind = kindUnavailable
	default:
		s.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		body.Message = "internal error"
	}

	s.writeJSON(w, status, errorResponse{Error: body})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", slog.Int("status", status), slog.String("error", err.Error()))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &apperr.FormatError{Name: "body", Reason: fmt.Sprintf("exceeds %d bytes", tooLarge.Limit)}
		}
		return &apperr.FormatError{Name: "body", Reason: err.Error()}
	}
	return nil
}
