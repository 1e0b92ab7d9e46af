package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/client"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/config"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/discovery"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/ui"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "hub.toml", "Path to config file")
	hubURL := flag.String("hub", "", "Hub WebSocket URL, e.g. ws://192.168.1.10:8080/ws (overrides config and discovery)")
	name := flag.String("name", "", "Device name (overrides config)")
	flag.Parse()

	// The TUI owns the terminal; keep log noise out of it.
	logrus.SetLevel(logrus.ErrorLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(*configPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		return 1
	}
	if *hubURL != "" {
		cfg.Agent.HubURL = *hubURL
	}
	if *name != "" {
		cfg.Agent.DeviceName = *name
	}

	if cfg.Agent.HubURL == "" {
		fmt.Println("Looking for a hub on the local network...")
		locateCtx, locateCancel := context.WithTimeout(ctx, 15*time.Second)
		ann, err := discovery.Locate(locateCtx, cfg.Hub.AnnouncePort)
		locateCancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "agent: no hub found; pass -hub ws://host:port/ws")
			return 1
		}
		cfg.Agent.HubURL = ann.URL
	}

	c, err := client.New(cfg.Agent.HubURL, cfg.Agent.DeviceName, cfg.Agent.DeviceType, cfg.Agent.DownloadDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		return 1
	}
	go c.Run(ctx)

	program := tea.NewProgram(ui.New(ctx, c))
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		return 1
	}
	return 0
}
