package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/machinemetrics/shdr-adapter/internal/reader"
	"github.com/machinemetrics/shdr-adapter/internal/tui/app"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:7878", "SHDR address of the adapter")
	heartbeat := pflag.Duration("heartbeat", 10*time.Second, "Ping interval (0 disables heartbeats)")
	mirror := pflag.String("mirror", "", "Base URL of the adapter's HTTP mirror, used to list items up front")
	logPath := pflag.String("log", "", "Write debug logs to this file")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	var httpClient *reader.HTTPClient
	if *mirror != "" {
		httpClient = reader.NewHTTPClient(*mirror)
	}

	m := app.New(reader.NewClient(*addr, *heartbeat, logger), httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
