package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/assetdesk/internal/console/handler"
	"github.com/xela07ax/assetdesk/internal/console/service"
	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

type staticValidator struct{}

func (staticValidator) VerifyToken(token string) (*domain.OperatorClaims, error) {
	if token != "Bearer good" {
		return nil, errors.New("bad token")
	}
	return &domain.OperatorClaims{Username: "helpdesk"}, nil
}

type nopInbox struct{}

func (nopInbox) PendingFor(context.Context, string) ([]domain.AgentCommand, error) {
	return []domain.AgentCommand{}, nil
}

func (nopInbox) Complete(context.Context, string, string, service.CompleteRequest) error { return nil }

type resultOnly struct {
	handler.CommandAPI
}

func (r *resultOnly) GetResult(_ context.Context, id string) (*domain.CommandResult, error) {
	return &domain.CommandResult{ID: id, Status: domain.CommandPending}, nil
}

func newServer() *ConsoleServer {
	logger := zap.NewNop()
	return NewConsoleServer(logger, staticValidator{},
		handler.NewRemoteHandler(nil, logger),
		handler.NewCommandHandler(&resultOnly{}, logger),
		handler.NewInboxHandler(nopInbox{}, logger),
	)
}

func TestRoutesPerimeter(t *testing.T) {
	s := newServer()

	cases := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"agent inbox bypasses operator auth", "/agent/v1/commands", "", http.StatusOK},
		{"operator api without token", "/api/v1/commands/c1", "", http.StatusUnauthorized},
		{"operator api with bad token", "/api/v1/commands/c1", "Bearer bad", http.StatusUnauthorized},
		{"operator api with token", "/api/v1/commands/c1", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
