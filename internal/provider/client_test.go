package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSignIsDeterministic(t *testing.T) {
	a := Sign("secret", 1700000000000)
	b := Sign("secret", 1700000000000)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Sign("secret", 1700000000001))
	assert.NotEqual(t, a, Sign("other", 1700000000000))
}

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA1(key="key", msg="1234567890123"), base64
	assert.Equal(t, "P3IX/Nu1TUj9sQ3uI6266631DM0=", Sign("key", 1234567890123))
}

func TestAuthorizationValueFormat(t *testing.T) {
	v := AuthorizationValue("api-key", "secret", 1700000000000)

	require.True(t, strings.HasPrefix(v, "HM1 "))
	parts := strings.Split(strings.TrimPrefix(v, "HM1 "), ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "api-key", parts[0])
	assert.Equal(t, Sign("secret", 1700000000000), parts[1])
	assert.Equal(t, "1700000000000", parts[2])
}

type recorded struct {
	method string
	path   string
	auth   string
	ctype  string
	body   string
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	calls := &[]recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		*calls = append(*calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get(AuthHeader),
			ctype:  r.Header.Get("Content-Type"),
			body:   string(b),
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	cfg := Config{BaseURL: srv.URL, APIKey: "k", APISecret: "s", CBFailures: 3, CBTimeout: time.Minute}
	return NewClient(cfg, nil, zap.NewNop(), opts...)
}

func TestCreateAgent(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ag-1","state":"waiting-install","os_type":"","install_code":"123-456","supported_apps":["screen","shell"]}`))
	})
	fixed := time.UnixMilli(1700000000000)
	c := newTestClient(srv, WithClock(func() time.Time { return fixed }))

	agent, err := c.CreateAgent(context.Background(), "PC-042", "Workstation (desktop)")
	require.NoError(t, err)
	assert.Equal(t, "ag-1", agent.ID)
	assert.Equal(t, "123-456", agent.InstallCode)
	assert.Equal(t, []string{"screen", "shell"}, agent.SupportedApps)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/agents", call.path)
	assert.Equal(t, "application/json", call.ctype)
	assert.Equal(t, AuthorizationValue("k", "s", 1700000000000), call.auth)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(call.body), &body))
	assert.Equal(t, "PC-042", body["name"])
	assert.Equal(t, "Workstation (desktop)", body["description"])
}

func TestFreshTimestampPerRequest(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ag-1","state":"online"}`))
	})
	var tick int64 = 1700000000000
	c := newTestClient(srv, WithClock(func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}))

	_, err := c.GetAgent(context.Background(), "ag-1")
	require.NoError(t, err)
	_, err = c.GetAgent(context.Background(), "ag-1")
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	assert.NotEqual(t, (*calls)[0].auth, (*calls)[1].auth)
	assert.True(t, strings.HasSuffix((*calls)[0].auth, ":1700000000001"))
	assert.True(t, strings.HasSuffix((*calls)[1].auth, ":1700000000002"))
}

func TestNon2xxCarriesStatusAndBody(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"name too long"}`))
	})
	c := newTestClient(srv)

	_, err := c.CreateAgent(context.Background(), "x", "y")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "422 Unprocessable Entity", apiErr.Status)
	assert.Equal(t, `{"error":"name too long"}`, apiErr.Body)
	assert.Contains(t, err.Error(), "name too long")
}

func TestListAgentsMissingKeyIsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	c := newTestClient(srv)

	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, agents)
	assert.Empty(t, agents)
}

func TestSessionsAndDeletes(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"s-1","url":"https://viewer/s-1","agent_id":"ag-1","app":"screen"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(srv)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, "ag-1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://viewer/s-1", s.URL)

	require.NoError(t, c.DestroySession(ctx, "s-1"))
	require.NoError(t, c.DeleteAgent(ctx, "ag-1"))

	require.Len(t, *calls, 3)
	assert.JSONEq(t, `{"agent_id":"ag-1","app":"screen"}`, (*calls)[0].body)
	assert.Equal(t, "/sessions/s-1", (*calls)[1].path)
	assert.Equal(t, http.MethodDelete, (*calls)[2].method)
	assert.Equal(t, "/agents/ag-1", (*calls)[2].path)
}

func TestUpdateAgentSendsOnlySetFields(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ag-1","state":"online"}`))
	})
	c := newTestClient(srv)

	desc := "new description"
	_, err := c.UpdateAgent(context.Background(), "ag-1", AgentUpdate{Description: &desc})
	require.NoError(t, err)
	assert.JSONEq(t, `{"description":"new description"}`, (*calls)[0].body)
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(srv)

	for i := 0; i < 5; i++ {
		err := c.DeleteAgent(context.Background(), "missing")
		assert.True(t, IsNotFound(err))
	}
	// все 5 запросов дошли до провайдера
	assert.Len(t, *calls, 5)
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(srv)

	for i := 0; i < 3; i++ {
		_, err := c.GetAgent(context.Background(), "ag-1")
		require.Error(t, err)
	}

	_, err := c.GetAgent(context.Background(), "ag-1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, *calls, 3)
}
