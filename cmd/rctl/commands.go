package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xela07ax/assetdesk/internal/filemanager"
)

func (a *app) get(ctx context.Context, args []string) error {
	id, err := a.client.DownloadAgentFile(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	res, err := a.poller.Wait(ctx, id, a.nav.DownloadAttempts)
	if err != nil {
		return err
	}
	data, err := filemanager.DecodeBase64(res.Result)
	if err != nil {
		return err
	}
	dest := baseName(args[1])
	if len(args) == 3 {
		dest = args[2]
	}
	return writeFile(dest, data)
}

func (a *app) screenshot(ctx context.Context, args []string) error {
	id, err := a.client.RequestAgentScreenshot(ctx, args[0])
	if err != nil {
		return err
	}
	res, err := a.poller.Wait(ctx, id, a.nav.DownloadAttempts)
	if err != nil {
		return err
	}
	data, err := filemanager.DecodeBase64(res.Result)
	if err != nil {
		return err
	}
	dest := fmt.Sprintf("%s-%s.png", args[0], time.Now().Format("20060102-150405"))
	if len(args) == 2 {
		dest = args[1]
	}
	return writeFile(dest, data)
}

func (a *app) exec(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("exec", pflag.ContinueOnError)
	wait := fs.Bool("wait", false, "wait for every command result")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: exec [--wait] <command> <device>...")
	}

	res, err := a.client.Dispatch(ctx, fs.Args()[1:], fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("queued %d of %d devices (%d resolved)\n", res.CreatedCount, res.RequestedCount, res.ResolvedCount)
	if !*wait {
		for _, id := range res.CommandIDs {
			fmt.Println(id)
		}
		return nil
	}

	var failed int
	for _, id := range res.CommandIDs {
		out, err := a.poller.Wait(ctx, id, a.nav.ListAttempts)
		if err != nil {
			failed++
			fmt.Printf("%s: %v\n", id, err)
			continue
		}
		fmt.Printf("%s: %s\n%s\n", id, out.Status, out.Result)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands did not complete", failed, len(res.CommandIDs))
	}
	return nil
}

func (a *app) polling(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: polling <device> <seconds>")
	}
	seconds, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("seconds: %w", err)
	}
	id, err := a.client.SetAgentPollingInterval(ctx, args[0], seconds)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// browse — REPL поверх Navigator: ls, cd <name>, back, get <name> [dest], pwd, quit.
func (a *app) browse(ctx context.Context, deviceID string, in io.Reader, out io.Writer) error {
	nav := filemanager.NewNavigator(a.client, a.poller, deviceID, a.nav, a.logger)
	entries, err := nav.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// Возвращаем агенту редкий опрос даже после Ctrl+C
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := nav.Close(closeCtx); err != nil {
			a.logger.Warn("failed to restore idle polling", zap.String("device", deviceID), zap.Error(err))
		}
	}()
	printEntries(out, nav.Path(), entries)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", nav.Path())
		if !sc.Scan() {
			return sc.Err()
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
			continue
		case "ls":
			printEntries(out, nav.Path(), nav.Entries())
		case "pwd":
			fmt.Fprintln(out, nav.Path())
		case "cd":
			entries, err = nav.Enter(ctx, arg)
			report(out, nav, entries, err)
		case "back", "..":
			entries, err = nav.Back(ctx)
			report(out, nav, entries, err)
		case "get":
			name, dest := splitDest(arg, nav.Entries())
			data, err := nav.Download(ctx, name)
			if err == nil {
				err = writeFile(dest, data)
			}
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintln(out, "commands: ls, cd <name>, back, get <name> [dest], pwd, quit")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func report(out io.Writer, nav *filemanager.Navigator, entries []filemanager.Entry, err error) {
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	printEntries(out, nav.Path(), entries)
}

func printEntries(out io.Writer, where string, entries []filemanager.Entry) {
	fmt.Fprintf(out, "%s (%d)\n", where, len(entries))
	for _, e := range entries {
		if e.IsContainer() {
			fmt.Fprintf(out, "  [%s] %s\n", e.Type, e.Name)
			continue
		}
		fmt.Fprintf(out, "  %s  %d\n", e.Name, e.Size)
	}
}

// splitDest: "report.txt /tmp/r.txt" -> имя и путь назначения; без пути пишем в текущий каталог.
// Имя из листинга с пробелами целиком побеждает разбиение.
func splitDest(arg string, entries []filemanager.Entry) (string, string) {
	for _, e := range entries {
		if e.Name == arg {
			return arg, baseName(arg)
		}
	}
	if i := strings.LastIndex(arg, " "); i > 0 {
		return arg[:i], arg[i+1:]
	}
	return arg, baseName(arg)
}

func baseName(p string) string {
	return path.Base(strings.ReplaceAll(p, `\`, "/"))
}

func writeFile(dest string, data []byte) error {
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("saved %s (%d bytes)\n", dest, len(data))
	return nil
}
