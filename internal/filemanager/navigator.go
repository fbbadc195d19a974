// Package filemanager — навигация по файловой системе удалённого агента поверх шины команд.
package filemanager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/assetdesk/internal/domain"
	"github.com/xela07ax/assetdesk/internal/poller"
	"go.uber.org/zap"
)

// restoreTimeout — сколько ждём постановки SET_POLLING на выходе, даже если контекст операции уже отменён.
const restoreTimeout = 10 * time.Second

const (
	TypeDrive  = "drive"
	TypeFolder = "folder"
	TypeFile   = "file"
)

var (
	ErrNoHistory  = errors.New("already at the top of the history")
	ErrNotBrowsed = errors.New("no such entry in the current listing")
	ErrNotFolder  = errors.New("entry is not a folder or drive")
)

// Entry — элемент листинга FILE_LS в том виде, как его присылает агент.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`
}

func (e Entry) IsContainer() bool {
	return e.Type == TypeFolder || e.Type == TypeDrive
}

// Bus — команды, которые навигатор ставит в очередь агента.
type Bus interface {
	SetAgentPollingInterval(ctx context.Context, deviceID string, seconds int) (string, error)
	ListAgentFiles(ctx context.Context, deviceID, path string) (string, error)
	DownloadAgentFile(ctx context.Context, deviceID, path string) (string, error)
}

type Waiter interface {
	Wait(ctx context.Context, commandID string, attempts uint) (*domain.CommandResult, error)
}

type Config struct {
	FastPollingSeconds int
	IdlePollingSeconds int
	ListAttempts       uint
	DownloadAttempts   uint
}

// Navigator хранит текущий путь (сначала ROOT) и стек истории. Листинги не кэшируются.
type Navigator struct {
	bus      Bus
	waiter   Waiter
	deviceID string
	cfg      Config
	logger   *zap.Logger

	current string
	history []string
	entries []Entry
}

func NewNavigator(bus Bus, waiter Waiter, deviceID string, cfg Config, logger *zap.Logger) *Navigator {
	if cfg.FastPollingSeconds <= 0 {
		cfg.FastPollingSeconds = 3
	}
	if cfg.IdlePollingSeconds <= 0 {
		cfg.IdlePollingSeconds = 30
	}
	if cfg.ListAttempts == 0 {
		cfg.ListAttempts = poller.ListAttempts
	}
	if cfg.DownloadAttempts == 0 {
		cfg.DownloadAttempts = poller.DownloadAttempts
	}
	return &Navigator{
		bus:      bus,
		waiter:   waiter,
		deviceID: deviceID,
		cfg:      cfg,
		logger:   logger.Named("filemanager").With(zap.String("device_id", deviceID)),
		current:  domain.RootPath,
	}
}

func (n *Navigator) Path() string     { return n.current }
func (n *Navigator) Entries() []Entry { return n.entries }
func (n *Navigator) Depth() int       { return len(n.history) }

// Open ускоряет опрос агента на время работы оператора и показывает корни.
func (n *Navigator) Open(ctx context.Context) ([]Entry, error) {
	if _, err := n.bus.SetAgentPollingInterval(ctx, n.deviceID, n.cfg.FastPollingSeconds); err != nil {
		return nil, fmt.Errorf("tighten polling: %w", err)
	}
	n.current = domain.RootPath
	n.history = n.history[:0]
	entries, err := n.refresh(ctx)
	if err != nil {
		// Сеанс не открылся: агент не должен остаться на частом опросе
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		_ = n.Close(closeCtx)
		return nil, err
	}
	return entries, nil
}

// Enter переходит в папку или диск из текущего листинга.
func (n *Navigator) Enter(ctx context.Context, name string) ([]Entry, error) {
	entry, ok := n.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBrowsed, name)
	}
	if !entry.IsContainer() {
		return nil, fmt.Errorf("%w: %s", ErrNotFolder, name)
	}

	prev := n.current
	n.history = append(n.history, prev)
	n.current = n.childPath(entry)

	entries, err := n.refresh(ctx)
	if err != nil {
		// остаёмся там, где были
		n.current = prev
		n.history = n.history[:len(n.history)-1]
		return nil, err
	}
	return entries, nil
}

// Back возвращается на предыдущий путь и заново запрашивает его листинг.
func (n *Navigator) Back(ctx context.Context) ([]Entry, error) {
	if len(n.history) == 0 {
		return nil, ErrNoHistory
	}
	from := n.current
	n.current = n.history[len(n.history)-1]
	n.history = n.history[:len(n.history)-1]

	entries, err := n.refresh(ctx)
	if err != nil {
		n.history = append(n.history, n.current)
		n.current = from
		return nil, err
	}
	return entries, nil
}

// Download забирает файл из текущего листинга и декодирует Base64.
func (n *Navigator) Download(ctx context.Context, name string) ([]byte, error) {
	entry, ok := n.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBrowsed, name)
	}
	if entry.IsContainer() {
		return nil, fmt.Errorf("%w: %s is a %s", domain.ErrInvalidArgument, name, entry.Type)
	}

	id, err := n.bus.DownloadAgentFile(ctx, n.deviceID, n.childPath(entry))
	if err != nil {
		return nil, err
	}
	res, err := n.waiter.Wait(ctx, id, n.cfg.DownloadAttempts)
	if err != nil {
		return nil, err
	}
	return DecodeBase64(res.Result)
}

// Close возвращает агенту экономный интервал опроса.
func (n *Navigator) Close(ctx context.Context) error {
	if _, err := n.bus.SetAgentPollingInterval(ctx, n.deviceID, n.cfg.IdlePollingSeconds); err != nil {
		n.logger.Warn("failed to loosen agent polling", zap.Error(err))
		return err
	}
	return nil
}

func (n *Navigator) refresh(ctx context.Context) ([]Entry, error) {
	id, err := n.bus.ListAgentFiles(ctx, n.deviceID, n.current)
	if err != nil {
		return nil, err
	}
	res, err := n.waiter.Wait(ctx, id, n.cfg.ListAttempts)
	if err != nil {
		return nil, err
	}
	entries, err := ParseListing(res.Result)
	if err != nil {
		return nil, err
	}
	n.entries = entries
	return entries, nil
}

func (n *Navigator) find(name string) (Entry, bool) {
	for _, e := range n.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func (n *Navigator) childPath(e Entry) string {
	if e.Path != "" {
		return e.Path
	}
	return JoinPath(n.current, e.Name)
}

// ParseListing разбирает JSON-массив агента и сортирует его.
func ParseListing(raw string) ([]Entry, error) {
	if strings.TrimSpace(raw) == "" {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("malformed listing: %w", err)
	}
	SortEntries(entries)
	return entries, nil
}

// SortEntries: папки и диски перед файлами, внутри группы лексикографически с учётом регистра.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := entries[i].IsContainer(), entries[j].IsContainer()
		if ci != cj {
			return ci
		}
		return entries[i].Name < entries[j].Name
	})
}

// JoinPath склеивает путь в стиле той ОС, с которой пришёл родитель.
func JoinPath(parent, name string) string {
	if parent == domain.RootPath || parent == "" {
		return name
	}
	sep := "/"
	if strings.Contains(parent, `\`) || strings.HasSuffix(parent, ":") {
		sep = `\`
	}
	if strings.HasSuffix(parent, sep) {
		return parent + name
	}
	return parent + sep + name
}

func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("malformed file payload: %w", err)
	}
	return data, nil
}
