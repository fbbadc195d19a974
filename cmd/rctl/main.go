package main

/*
rctl — операторский клиент консоли удалённого доступа.

	rctl [flags] browse <device>                 интерактивный файловый менеджер
	rctl [flags] get <device> <path> [dest]      скачать файл
	rctl [flags] screenshot <device> [dest]      снимок экрана
	rctl [flags] exec [--wait] <command> <device>...
	rctl [flags] polling <device> <seconds>

Адрес и токен берутся из флагов или из RCTL_URL / RCTL_TOKEN.
*/

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xela07ax/assetdesk/internal/consoleclient"
	"github.com/xela07ax/assetdesk/internal/filemanager"
	"github.com/xela07ax/assetdesk/internal/infra"
	"github.com/xela07ax/assetdesk/internal/poller"
)

type app struct {
	client *consoleclient.Client
	poller *poller.Poller
	nav    filemanager.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("rctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.String("url", "http://localhost:8000", "console base URL")
	fs.String("token", "", "operator bearer token")
	fs.Duration("timeout", 30*time.Second, "HTTP timeout per request")
	fs.Duration("poll-interval", poller.DefaultInterval, "result polling interval")
	fs.Uint("list-attempts", poller.ListAttempts, "polls before a listing times out")
	fs.Uint("download-attempts", poller.DownloadAttempts, "polls before a download times out")
	fs.Int("fast-polling", 3, "agent polling interval while browsing, seconds")
	fs.Int("idle-polling", 30, "agent polling interval after browsing, seconds")
	fs.String("log-level", "warn", "debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix("rctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	logger, err := infra.NewLogger(infra.LoggerConfig{Level: v.GetString("log-level"), Format: "console"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if v.GetString("token") == "" {
		return errors.New("operator token is required (--token or RCTL_TOKEN)")
	}

	client := consoleclient.New(v.GetString("url"), v.GetString("token"), v.GetDuration("timeout"), logger)
	a := &app{
		client: client,
		poller: poller.New(client, v.GetDuration("poll-interval"), logger),
		nav: filemanager.Config{
			FastPollingSeconds: v.GetInt("fast-polling"),
			IdlePollingSeconds: v.GetInt("idle-polling"),
			ListAttempts:       v.GetUint("list-attempts"),
			DownloadAttempts:   v.GetUint("download-attempts"),
		},
		logger: logger,
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New("command required: browse, get, screenshot, exec, polling")
	}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "browse":
		if len(cmdArgs) != 1 {
			return errors.New("usage: browse <device>")
		}
		return a.browse(ctx, cmdArgs[0], os.Stdin, os.Stdout)
	case "get":
		if len(cmdArgs) < 2 || len(cmdArgs) > 3 {
			return errors.New("usage: get <device> <path> [dest]")
		}
		return a.get(ctx, cmdArgs)
	case "screenshot":
		if len(cmdArgs) < 1 || len(cmdArgs) > 2 {
			return errors.New("usage: screenshot <device> [dest]")
		}
		return a.screenshot(ctx, cmdArgs)
	case "exec":
		return a.exec(ctx, cmdArgs)
	case "polling":
		return a.polling(ctx, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
