package filemanager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/poller"
	"go.uber.org/zap"
)

// fakeAgent отвечает на команды мгновенно по заранее заданной «файловой системе».
type fakeAgent struct {
	fs       map[string]string // path -> JSON листинг
	files    map[string][]byte
	commands []string
	results  map[string]*domain.CommandResult
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		fs: map[string]string{
			"ROOT":         `[{"name":"D:","type":"drive"},{"name":"C:","type":"drive"}]`,
			`C:`:           `[{"name":"b.txt","type":"file"},{"name":"Users","type":"folder"},{"name":"a.txt","type":"file"}]`,
			`C:\Users`:     `[{"name":"bob","type":"folder"}]`,
			`C:\Users\bob`: `[]`,
		},
		files:   map[string][]byte{`C:\a.txt`: []byte("hello")},
		results: map[string]*domain.CommandResult{},
	}
}

func (a *fakeAgent) push(cmd string, res *domain.CommandResult) string {
	id := fmt.Sprintf("c-%d", len(a.commands)+1)
	a.commands = append(a.commands, cmd)
	res.ID = id
	a.results[id] = res
	return id
}

func (a *fakeAgent) SetAgentPollingInterval(_ context.Context, _ string, seconds int) (string, error) {
	return a.push(fmt.Sprintf("SET_POLLING %d", seconds), &domain.CommandResult{Status: domain.CommandCompleted}), nil
}

func (a *fakeAgent) ListAgentFiles(_ context.Context, _ string, path string) (string, error) {
	listing, ok := a.fs[path]
	if !ok {
		return a.push("FILE_LS "+path, &domain.CommandResult{Status: domain.CommandFailed, Error: "path not found"}), nil
	}
	return a.push("FILE_LS "+path, &domain.CommandResult{Status: domain.CommandCompleted, Result: listing}), nil
}

func (a *fakeAgent) DownloadAgentFile(_ context.Context, _ string, path string) (string, error) {
	data := a.files[path]
	return a.push("FILE_GET "+path, &domain.CommandResult{Status: domain.CommandCompleted, Result: base64.StdEncoding.EncodeToString(data)}), nil
}

func (a *fakeAgent) Wait(_ context.Context, id string, _ uint) (*domain.CommandResult, error) {
	res := a.results[id]
	if res.Status == domain.CommandFailed {
		return nil, &poller.CommandFailedError{CommandID: id, Message: res.Error}
	}
	return res, nil
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestSortEntries(t *testing.T) {
	entries, err := ParseListing(`[{"name":"b.txt","type":"file"},{"name":"A","type":"folder"},{"name":"a.txt","type":"file"}]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "a.txt", "b.txt"}, names(entries))
}

func TestSortIsCaseSensitiveAndDrivesFirst(t *testing.T) {
	entries := []Entry{
		{Name: "zeta", Type: TypeFile},
		{Name: "beta", Type: TypeFolder},
		{Name: "C:", Type: TypeDrive},
		{Name: "Alpha", Type: TypeFile},
		{Name: "Beta", Type: TypeFolder},
	}
	SortEntries(entries)
	assert.Equal(t, []string{"Beta", "C:", "beta", "Alpha", "zeta"}, names(entries))
}

func TestNavigatorSession(t *testing.T) {
	agent := newFakeAgent()
	nav := NewNavigator(agent, agent, "dev-1", Config{}, zap.NewNop())
	ctx := context.Background()

	roots, err := nav.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C:", "D:"}, names(roots))
	assert.Equal(t, []string{"SET_POLLING 3", "FILE_LS ROOT"}, agent.commands)

	entries, err := nav.Enter(ctx, "C:")
	require.NoError(t, err)
	assert.Equal(t, []string{"Users", "a.txt", "b.txt"}, names(entries))
	assert.Equal(t, "C:", nav.Path())

	_, err = nav.Enter(ctx, "Users")
	require.NoError(t, err)
	assert.Equal(t, `C:\Users`, nav.Path())
	assert.Equal(t, 2, nav.Depth())

	_, err = nav.Enter(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, `C:\Users\bob`, nav.Path())

	// Back всегда перезапрашивает листинг
	before := len(agent.commands)
	_, err = nav.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, `C:\Users`, nav.Path())
	assert.Equal(t, before+1, len(agent.commands))
	assert.Equal(t, `FILE_LS C:\Users`, agent.commands[len(agent.commands)-1])

	_, err = nav.Back(ctx)
	require.NoError(t, err)
	data, err := nav.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = nav.Back(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RootPath, nav.Path())
	_, err = nav.Back(ctx)
	assert.ErrorIs(t, err, ErrNoHistory)

	require.NoError(t, nav.Close(ctx))
	assert.Equal(t, "SET_POLLING 30", agent.commands[len(agent.commands)-1])
}

// stuckAgent никогда не отвечает на листинг: опрос упирается в потолок попыток.
type stuckAgent struct {
	*fakeAgent
}

func (a stuckAgent) Wait(ctx context.Context, id string, attempts uint) (*domain.CommandResult, error) {
	if a.commands[len(a.commands)-1] == "FILE_LS ROOT" {
		return nil, fmt.Errorf("%w: command %s after %d polls", poller.ErrTimeout, id, attempts)
	}
	return a.fakeAgent.Wait(ctx, id, attempts)
}

func TestOpenFailureRestoresIdlePolling(t *testing.T) {
	t.Run("listing times out", func(t *testing.T) {
		agent := stuckAgent{newFakeAgent()}
		nav := NewNavigator(agent, agent, "dev-1", Config{ListAttempts: 3}, zap.NewNop())

		_, err := nav.Open(context.Background())
		assert.ErrorIs(t, err, poller.ErrTimeout)
		assert.Equal(t, []string{"SET_POLLING 3", "FILE_LS ROOT", "SET_POLLING 30"}, agent.commands)
	})

	t.Run("listing fails", func(t *testing.T) {
		agent := newFakeAgent()
		delete(agent.fs, "ROOT")
		nav := NewNavigator(agent, agent, "dev-1", Config{}, zap.NewNop())

		_, err := nav.Open(context.Background())
		var failed *poller.CommandFailedError
		require.True(t, errors.As(err, &failed))
		assert.Equal(t, []string{"SET_POLLING 3", "FILE_LS ROOT", "SET_POLLING 30"}, agent.commands)
	})

	t.Run("context cancelled", func(t *testing.T) {
		agent := stuckAgent{newFakeAgent()}
		nav := NewNavigator(agent, agent, "dev-1", Config{}, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := nav.Open(ctx)
		assert.Error(t, err)
		assert.Equal(t, "SET_POLLING 30", agent.commands[len(agent.commands)-1])
	})
}

func TestEnterFailureKeepsPosition(t *testing.T) {
	agent := newFakeAgent()
	agent.fs["ROOT"] = `[{"name":"E:","type":"drive"}]`
	nav := NewNavigator(agent, agent, "dev-1", Config{}, zap.NewNop())
	ctx := context.Background()

	_, err := nav.Open(ctx)
	require.NoError(t, err)

	_, err = nav.Enter(ctx, "E:")
	var failed *poller.CommandFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, domain.RootPath, nav.Path())
	assert.Equal(t, 0, nav.Depth())

	_, err = nav.Enter(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotBrowsed)
}

func TestEnterRejectsFiles(t *testing.T) {
	agent := newFakeAgent()
	nav := NewNavigator(agent, agent, "dev-1", Config{}, zap.NewNop())
	ctx := context.Background()
	_, _ = nav.Open(ctx)
	_, _ = nav.Enter(ctx, "C:")

	_, err := nav.Enter(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrNotFolder)
	_, err = nav.Download(ctx, "Users")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "C:", JoinPath(domain.RootPath, "C:"))
	assert.Equal(t, `C:\Windows`, JoinPath("C:", "Windows"))
	assert.Equal(t, `C:\Windows`, JoinPath(`C:\`, "Windows"))
	assert.Equal(t, "/home/bob", JoinPath("/home", "bob"))
	assert.Equal(t, "/etc", JoinPath("/", "etc"))
}
