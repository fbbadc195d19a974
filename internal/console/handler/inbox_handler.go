package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/assetdesk/internal/console/service"
	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

// AgentKeyHeader — ключ, с которым агент опрашивает очередь.
const AgentKeyHeader = "X-Agent-Key"

// InboxAPI — сторона агента.
type InboxAPI interface {
	PendingFor(ctx context.Context, agentKey string) ([]domain.AgentCommand, error)
	Complete(ctx context.Context, agentKey, commandID string, req service.CompleteRequest) error
}

type InboxHandler struct {
	svc    InboxAPI
	logger *zap.Logger
}

func NewInboxHandler(svc InboxAPI, logger *zap.Logger) *InboxHandler {
	return &InboxHandler{svc: svc, logger: logger.Named("agent-inbox")}
}

func (h *InboxHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/commands", h.Pending)
	r.Post("/commands/{commandID}/result", h.Result)
	return r
}

func (h *InboxHandler) Pending(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.svc.PendingFor(r.Context(), r.Header.Get(AgentKeyHeader))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, cmds)
}

func (h *InboxHandler) Result(w http.ResponseWriter, r *http.Request) {
	var req service.CompleteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	err := h.svc.Complete(r.Context(), r.Header.Get(AgentKeyHeader), chi.URLParam(r, "commandID"), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}
