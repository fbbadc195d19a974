package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/assetdesk/internal/console/service"
	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

// CommandAPI — операторская сторона шины команд.
type CommandAPI interface {
	Dispatch(ctx context.Context, deviceIDs []string, text string) (*service.DispatchResult, error)
	ListAgentFiles(ctx context.Context, deviceID, path string) (string, error)
	DownloadAgentFile(ctx context.Context, deviceID, path string) (string, error)
	RequestAgentScreenshot(ctx context.Context, deviceID string) (string, error)
	SetAgentPollingInterval(ctx context.Context, deviceID string, seconds int) (string, error)
	GetResult(ctx context.Context, commandID string) (*domain.CommandResult, error)
}

type CommandHandler struct {
	svc    CommandAPI
	logger *zap.Logger
}

func NewCommandHandler(svc CommandAPI, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{svc: svc, logger: logger.Named("command-handler")}
}

func (h *CommandHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/dispatch", h.Dispatch)
	r.Get("/{commandID}", h.Result)
	r.Route("/devices/{deviceID}", func(r chi.Router) {
		r.Post("/files/list", h.ListFiles)
		r.Post("/files/get", h.GetFile)
		r.Post("/screenshot", h.Screenshot)
		r.Post("/polling", h.Polling)
	})
	return r
}

// CommandRef — ответ на постановку одиночной команды.
type CommandRef struct {
	CommandID string `json:"command_id"`
}

type dispatchRequest struct {
	DeviceIDs []string `json:"device_ids"`
	Command   string   `json:"command"`
}

func (h *CommandHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.svc.Dispatch(r.Context(), req.DeviceIDs, req.Command)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusAccepted, res)
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *CommandHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	req := pathRequest{Path: domain.RootPath}
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.reply(w, func(ctx context.Context, deviceID string) (string, error) {
		return h.svc.ListAgentFiles(ctx, deviceID, req.Path)
	}, r)
}

func (h *CommandHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.reply(w, func(ctx context.Context, deviceID string) (string, error) {
		return h.svc.DownloadAgentFile(ctx, deviceID, req.Path)
	}, r)
}

func (h *CommandHandler) Screenshot(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.svc.RequestAgentScreenshot, r)
}

type pollingRequest struct {
	Seconds int `json:"seconds"`
}

func (h *CommandHandler) Polling(w http.ResponseWriter, r *http.Request) {
	var req pollingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.reply(w, func(ctx context.Context, deviceID string) (string, error) {
		return h.svc.SetAgentPollingInterval(ctx, deviceID, req.Seconds)
	}, r)
}

func (h *CommandHandler) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetResult(r.Context(), chi.URLParam(r, "commandID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

func (h *CommandHandler) reply(w http.ResponseWriter, enqueue func(context.Context, string) (string, error), r *http.Request) {
	id, err := enqueue(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusAccepted, CommandRef{CommandID: id})
}
