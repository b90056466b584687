// Command pynchy is the host entrypoint: it loads config.toml, wires every subsystem via
// pkg/lifecycle, and serves until a signal arrives. The `tui` subcommand instead drives the
// host's HTTP status/control API as a thin remote client.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/lifecycle"
	"github.com/crypdick/pynchy/pkg/version"
)

func main() {
	root := &cobra.Command{
		Use:   "pynchy",
		Short: "Run the pynchy host, or a thin TUI client against its HTTP API",
	}

	var projectRoot string
	root.PersistentFlags().StringVar(&projectRoot, "project-root", defaultProjectRoot(), "project root containing config.toml and data/")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the host process (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), projectRoot)
		},
	}

	var apiAddr string
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the line-based terminal client against a running host's HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUIClient(cmd.Context(), apiAddr)
		},
	}
	tuiCmd.Flags().StringVar(&apiAddr, "addr", "http://127.0.0.1:8080", "host API base URL")

	root.AddCommand(serveCmd, tuiCmd)
	root.RunE = serveCmd.RunE

	if err := root.Execute(); err != nil {
		slog.Error("pynchy: fatal", "error", err)
		os.Exit(1)
	}
}

func defaultProjectRoot() string {
	if v := os.Getenv("PYNCHY_PROJECT_ROOT"); v != "" {
		return v
	}
	return "."
}

// runHost loads configuration, builds the App, and runs it until a signal arrives.
// The first SIGINT/SIGTERM starts graceful shutdown (App.Run's own 12-second watchdog); a
// second signal within that window hard-exits immediately rather than waiting it out.
func runHost(ctx context.Context, projectRoot string) error {
	slog.Info("pynchy: starting", "version", version.Full(), "project_root", projectRoot)

	cfg, err := config.Initialize(ctx, projectRoot)
	if err != nil {
		return fmt.Errorf("pynchy: config: %w", err)
	}
	configureLogging(cfg.Logging.Level)

	app, err := lifecycle.New(ctx, cfg, projectRoot)
	if err != nil {
		return fmt.Errorf("pynchy: build app: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Warn("pynchy: signal received, starting graceful shutdown")
		cancel()
		<-sigCh
		slog.Error("pynchy: second signal received, hard exit")
		os.Exit(1)
	}()

	if err := app.Run(runCtx); err != nil {
		return fmt.Errorf("pynchy: %w", err)
	}
	return nil
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// runTUIClient is a minimal remote client for GET/POST /api/*: it prints inbound SSE events
// to stdout and posts each typed line to /api/send, per spec.md's note that the host ships a
// bundled TUI client driving it over HTTP.
func runTUIClient(ctx context.Context, addr string) error {
	jid := os.Getenv("PYNCHY_TUI_JID")
	if jid == "" {
		jid = "local:tui"
	}

	go streamEvents(ctx, addr)

	fmt.Fprintln(os.Stderr, "pynchy tui: connected to", addr, "as", jid)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := postMessage(ctx, addr, jid, line); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
	return scanner.Err()
}

func postMessage(ctx context.Context, addr, jid, content string) error {
	body, err := json.Marshal(map[string]string{"jid": jid, "content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/api/send", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func streamEvents(ctx context.Context, addr string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := consumeEventStream(ctx, addr); err != nil {
			fmt.Fprintln(os.Stderr, "event stream disconnected:", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeEventStream(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/api/events", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			fmt.Println(strings.TrimSpace(data))
		}
	}
	return scanner.Err()
}
