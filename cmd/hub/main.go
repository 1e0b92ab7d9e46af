package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/api"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/config"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/discovery"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/filestore"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/hub"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/presence"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/transferstate"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/pkg/netutil"
)

func main() {
	configPath := flag.String("config", "hub.toml", "Path to config file")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	uploadDir := flag.String("uploads", "", "Upload directory (overrides config)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(*configPath, explicit)
	if err != nil {
		logrus.WithError(err).Fatal("Load config")
	}
	if *listenAddr != "" {
		cfg.Hub.ListenAddr = *listenAddr
	}
	if *uploadDir != "" {
		cfg.Hub.UploadDir = *uploadDir
	}

	files, err := filestore.NewStore(cfg.Hub.UploadDir)
	if err != nil {
		logrus.WithError(err).Fatal("Open file store")
	}

	validation := filestore.DefaultValidationConfig()
	if cfg.Hub.MaxFileSizeMB > 0 {
		validation.MaxFileSize = cfg.Hub.MaxFileSizeMB << 20
	}

	h := hub.New(presence.NewRegistry(), transferstate.NewStore())
	go h.Run()
	defer h.Close()

	server := api.NewServer(h, files, validation)

	localIP := netutil.LocalIP()
	if localIP == "" {
		localIP = "127.0.0.1"
	}
	hostname, _ := os.Hostname()

	wsURL := announceURL(cfg.Hub.ListenAddr, localIP)
	announcer := discovery.NewAnnouncer(cfg.Hub.AnnouncePort, cfg.Hub.AnnounceEvery, discovery.Announcement{
		Name: hostname,
		URL:  wsURL,
	})
	go func() {
		if err := announcer.Run(context.Background()); err != nil && err != context.Canceled {
			logrus.WithError(err).Warn("LAN announcer stopped")
		}
	}()

	printBanner(cfg, localIP, wsURL)
	logrus.WithField("addr", cfg.Hub.ListenAddr).Info("Hub listening")
	logrus.Fatal(http.ListenAndServe(cfg.Hub.ListenAddr, server.Handler()))
}

// announceURL turns the listen address into a dialable ws:// endpoint on
// the LAN-visible interface.
func announceURL(listenAddr, localIP string) string {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil || port == "" {
		port = "8080"
	}
	return fmt.Sprintf("ws://%s:%s/ws", localIP, port)
}

func printBanner(cfg config.Config, localIP, wsURL string) {
	fmt.Printf("\n")
	fmt.Printf("╔══════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           LAN File Transfer Hub - Ready!             ║\n")
	fmt.Printf("╠══════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Local IP : %-40s║\n", localIP)
	fmt.Printf("║  Endpoint : %-40s║\n", wsURL)
	fmt.Printf("║  Uploads  : %-40s║\n", cfg.Hub.UploadDir)
	fmt.Printf("╚══════════════════════════════════════════════════════╝\n\n")
}
