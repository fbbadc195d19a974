package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/assetdesk/internal/console/service"
	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

// RemoteAPI — операции жизненного цикла агента и сеансов.
type RemoteAPI interface {
	Register(ctx context.Context, deviceID string) (*service.RegisterResult, error)
	GetAgentForDevice(ctx context.Context, deviceID string) (*domain.RemoteAgent, error)
	CreateSession(ctx context.Context, req service.SessionRequest) (*domain.RemoteSession, error)
	EndSession(ctx context.Context, sessionID string) (*domain.RemoteSession, error)
	SyncStatus(ctx context.Context, agentID string) (*domain.RemoteAgent, error)
	SyncAll(ctx context.Context) (*service.SyncReport, error)
	RefreshDescription(ctx context.Context, agentID string) (*domain.RemoteAgent, error)
	Unregister(ctx context.Context, agentID string) error
	ListSessions(ctx context.Context, agentID string) ([]domain.RemoteSession, error)
}

type RemoteHandler struct {
	svc    RemoteAPI
	logger *zap.Logger
}

func NewRemoteHandler(svc RemoteAPI, logger *zap.Logger) *RemoteHandler {
	return &RemoteHandler{svc: svc, logger: logger.Named("remote-handler")}
}

// Routes Маршруты для Chi
func (h *RemoteHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/devices/{deviceID}", func(r chi.Router) {
		r.Get("/agent", h.GetAgent)  // агент устройства
		r.Post("/agent", h.Register) // регистрация у провайдера
		r.Post("/sessions", h.StartSession)
	})
	r.Post("/agents/sync", h.SyncAll)
	r.Route("/agents/{agentID}", func(r chi.Router) {
		r.Delete("/", h.Unregister)
		r.Post("/sync", h.Sync)
		r.Post("/describe", h.Describe)
		r.Get("/sessions", h.Sessions)
	})
	r.Post("/sessions/{sessionID}/end", h.EndSession)
	return r
}

func (h *RemoteHandler) Register(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Register(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, res)
}

func (h *RemoteHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.svc.GetAgentForDevice(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// Код установки показывается только при регистрации
	agent.InstallCode = ""
	writeOK(w, http.StatusOK, agent)
}

type startSessionRequest struct {
	Purpose   string  `json:"purpose"`
	StartedBy *string `json:"started_by"`
}

func (h *RemoteHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	session, err := h.svc.CreateSession(r.Context(), service.SessionRequest{
		DeviceID:  chi.URLParam(r, "deviceID"),
		Purpose:   req.Purpose,
		StartedBy: req.StartedBy,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, session)
}

func (h *RemoteHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.EndSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, session)
}

func (h *RemoteHandler) Sync(w http.ResponseWriter, r *http.Request) {
	agent, err := h.svc.SyncStatus(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	agent.InstallCode = ""
	writeOK(w, http.StatusOK, agent)
}

func (h *RemoteHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.SyncAll(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, report)
}

func (h *RemoteHandler) Describe(w http.ResponseWriter, r *http.Request) {
	agent, err := h.svc.RefreshDescription(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	agent.InstallCode = ""
	writeOK(w, http.StatusOK, agent)
}

func (h *RemoteHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unregister(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (h *RemoteHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, sessions)
}
