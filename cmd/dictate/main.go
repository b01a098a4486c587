package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/getsentry/sentry-go"
	redis "github.com/redis/go-redis/v9"

	"github.com/scribeworks/dictate/internal/capture"
	"github.com/scribeworks/dictate/internal/config"
	"github.com/scribeworks/dictate/internal/ids"
	"github.com/scribeworks/dictate/internal/notes"
	"github.com/scribeworks/dictate/internal/session"
	"github.com/scribeworks/dictate/internal/transport"
	"github.com/scribeworks/dictate/internal/ui"
)

func main() {
	var configFile string
	var station string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.StringVar(&station, "station", defaultStation(), "Station name for clinician/patient ID storage")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			log.Printf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	tr := transport.NewManager(transport.Config{
		Endpoint: cfg.Recognition.Endpoint,
		Model:    cfg.Recognition.Model,
		Diarize:  *cfg.Recognition.Diarize,
	})

	recorder := capture.NewController(capture.Config{
		Constraints: capture.Constraints{
			EchoCancellation: *cfg.Capture.EchoCancellation,
			NoiseSuppression: *cfg.Capture.NoiseSuppression,
			AutoGainControl:  *cfg.Capture.AutoGainControl,
		},
		SampleRate:    cfg.Capture.SampleRate,
		SliceInterval: cfg.SliceInterval(),
		OutputDir:     cfg.Output.Dir,
	}, &capture.AudioSocketOpener{ListenAddr: cfg.Capture.ListenAddr})

	var logDir string
	if cfg.Output.SessionLogs {
		logDir = cfg.Output.Dir
	}

	coord := session.New(session.Config{
		Credential: cfg.Recognition.APIKey,
		Model:      cfg.Recognition.Model,
		SampleRate: cfg.Capture.SampleRate,
		LogDir:     logDir,
	}, tr, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	coordDone := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(coordDone)
	}()

	var notesClient *notes.Client
	if cfg.Notes.BaseURL != "" {
		notesClient = notes.NewClient(cfg.Notes.BaseURL)
	}

	var idStore *ids.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		idStore = ids.NewStore(rdb, cfg.Redis.Prefix)
	}

	p := tea.NewProgram(ui.New(coord, notesClient, idStore, station), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Printf("UI error: %v", err)
	}

	// Release the device and close the connection before exiting.
	cancel()
	select {
	case <-coordDone:
	case <-time.After(3 * time.Second):
		log.Print("Shutdown timed out")
	}
}

func defaultStation() string {
	host, err := os.Hostname()
	if err != nil {
		return "default"
	}
	return host
}
