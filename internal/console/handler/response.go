package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/provider"
	"go.uber.org/zap"
)

// envelope — единый формат ответа: {"success": true, "data": ...} или {"success": false, "error": "..."}.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError маппит ошибки ядра на HTTP-статусы. Детали внутренних сбоев наружу не уходят.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func classify(err error) (int, string) {
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrAgentAlreadyRegistered),
		errors.Is(err, domain.ErrRegistrationInProgress),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrCommandFinished),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrAgentNotOnline), errors.Is(err, domain.ErrAgentNotConnected):
		return http.StatusPreconditionFailed, err.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, fmt.Sprintf("remote access provider error (%s)", apiErr.Status)
	case provider.IsUnavailable(err):
		return http.StatusBadGateway, "remote access provider is temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidArgument)
	}
	return nil
}
