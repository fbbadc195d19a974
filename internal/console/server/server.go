package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/assetdesk/internal/console/handler"
	"github.com/xela07ax/assetdesk/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов операторов (RS256, ключ IdP портала)
	authValidator auth.TokenValidator

	remoteHandler  *handler.RemoteHandler  // /api/v1/remote
	commandHandler *handler.CommandHandler // /api/v1/commands
	inboxHandler   *handler.InboxHandler   // /agent/v1 (X-Agent-Key)
}

// NewConsoleServer собирает роутер консоли удалённого доступа
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	remoteH *handler.RemoteHandler,
	commandH *handler.CommandHandler,
	inboxH *handler.InboxHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		authValidator:  validator,
		remoteHandler:  remoteH,
		commandHandler: commandH,
		inboxHandler:   inboxH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. Агенты: аутентификация по ключу агента внутри сервиса ---
	r.Mount("/agent/v1", s.inboxHandler.Routes())

	// --- 4. Защищённый периметр операторов (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Mount("/api/v1/remote", s.remoteHandler.Routes())
		r.Mount("/api/v1/commands", s.commandHandler.Routes())
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
