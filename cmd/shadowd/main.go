package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shadowkit/shadow-agent/internal/api"
	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/cli"
	"github.com/shadowkit/shadow-agent/internal/config"
	"github.com/shadowkit/shadow-agent/internal/db"
	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/engine"
	"github.com/shadowkit/shadow-agent/internal/logging"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/metrics"
	"github.com/shadowkit/shadow-agent/internal/mpv"
	"github.com/shadowkit/shadow-agent/internal/output"
	"github.com/shadowkit/shadow-agent/internal/pipelines"
	"github.com/shadowkit/shadow-agent/internal/pitch"
	"github.com/shadowkit/shadow-agent/internal/playback"
	"github.com/shadowkit/shadow-agent/internal/ui"
)

const (
	connectAttempts = 3
	shutdownTimeout = 10 * time.Second
)

// CLI defines the command-line interface. Flags override the SHADOW_*
// environment.
type CLI struct {
	Version  bool   `short:"v" help:"Show version information"`
	Socket   string `short:"s" help:"Path to the player IPC socket"`
	OutDir   string `short:"o" name:"out-dir" type:"path" help:"Directory for cut clips and the cycle log"`
	Port     int    `short:"p" help:"Port of the local HTTP API"`
	LogLevel string `name:"log-level" enum:",debug,info,warn,error" default:"" help:"Log level (debug, info, warn, error)"`
	Headless bool   `help:"Run without a system tray"`
	TUI      bool   `name:"tui" help:"Show the terminal monitor instead of the tray"`
}

func main() {
	cliArgs := &CLI{}
	kong.Parse(cliArgs,
		kong.Name("shadowd"),
		kong.Description("Cuts the current subtitle line from the player and measures its pitch"),
		kong.UsageOnError(),
	)

	if cliArgs.Version {
		cli.PrintVersion(config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	if err := run(cliArgs); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

func run(args *CLI) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyOverrides(config.Overrides{
		Port:       args.Port,
		LogLevel:   args.LogLevel,
		SocketPath: args.Socket,
		OutputDir:  args.OutDir,
	}); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// The monitor owns the terminal, so logs go to a file in that mode.
	var logOut io.Writer = os.Stdout
	if args.TUI {
		f, err := os.OpenFile(filepath.Join(cfg.DataDir(), "shadowd.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.NewLoggerTo(logOut, cfg.LogLevel())
	logger.Info("starting shadowd", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalogSvc := catalog.NewService(repo, logger)
	if res, err := catalogSvc.Reconcile(ctx, cfg.OutputDir()); err != nil {
		logger.Warn("failed to reconcile output directory", "error", err)
	} else if res.Added > 0 || res.Removed > 0 {
		logger.Info("artifact index reconciled", "added", res.Added, "removed", res.Removed)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	manager, err := output.NewManager(output.Options{
		Dir:          cfg.OutputDir(),
		RetentionCap: cfg.RetentionCap(),
		Index:        repo,
		Logger:       logging.WithComponent(logger, "output"),
		Metrics:      m,
	})
	if err != nil {
		return fmt.Errorf("failed to open output directory: %w", err)
	}
	defer manager.Close()

	session := mpv.NewSession(cfg.SocketPath(), logging.WithComponent(logger, "mpv"),
		mpv.WithReconnectHook(m.Reconnects.Inc),
	)
	defer session.Close()
	if err := connectPlayer(ctx, session, connectAttempts); err != nil {
		return err
	}

	pipeCfg := pipelines.DefaultConfig(logging.WithComponent(logger, "decoder"))
	pipeCfg.FFmpegPath = cfg.FFmpegPath()
	pipeCfg.AnalysisSampleRate = cfg.AnalysisSampleRate()
	pipeCfg.AnalysisChannels = cfg.AnalysisChannels()
	pipeCfg.PersistSampleRate = cfg.PersistSampleRate()
	pipeCfg.PersistChannels = cfg.PersistChannels()
	pipeCfg.AnalysisTimeout = cfg.AnalysisTimeout()
	pipeCfg.PersistTimeout = cfg.PersistTimeout()
	pipeCfg.DebugPaths = cfg.LogLevel() == "debug"
	runner := pipelines.NewRunner(pipeCfg)

	probe := pipelines.NewCachedProbe(runner, logger)
	probeCtx, probeCancel := context.WithTimeout(ctx, pipeCfg.ProbeTimeout)
	if caps, err := probe.Refresh(probeCtx); err != nil || !caps.Available {
		logger.Warn("ffmpeg unavailable, cycles will fail to decode", "error", err)
	} else {
		logger.Info("ffmpeg detected", "version", caps.Version)
	}
	probeCancel()

	hub := display.NewHub(logging.WithComponent(logger, "display"))
	defer hub.Close()

	kafkaSink := display.NewKafkaSink(display.KafkaConfig{
		Brokers: cfg.KafkaBrokers(),
		Topic:   cfg.KafkaTopic(),
	}, logging.WithComponent(logger, "kafka"))
	defer kafkaSink.Close()
	if kafkaSink.Enabled() {
		kafkaEvents, stop := hub.Subscribe(64)
		defer stop()
		go kafkaSink.Run(ctx, kafkaEvents)
	}

	eng, err := engine.New(engine.Options{
		Config: engine.Config{
			TriggerMessage: cfg.TriggerMessage(),
			Padding:        cfg.Padding(),
			TrackPolicy: media.TrackPolicy{
				Fallback:     cfg.TrackFallback(),
				DefaultIndex: cfg.TrackFallbackIndex(),
			},
			Pitch: pitchConfig(cfg),
		},
		Player:    session,
		Runner:    runner,
		Output:    manager,
		Store:     repo,
		Publisher: hub,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("engine stopped", "error", err)
		}
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Engine:         eng,
		Display:        hub,
		Repository:     repo,
		PlaybackServer: playback.NewServer(logger),
		Probe:          probe,
		Gatherer:       reg,
		Connected:      session.Connected,
		OutputDir:      manager.Dir(),
		RetentionCap:   manager.RetentionCap(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	if !args.TUI {
		cli.PrintBanner(os.Stdout, config.Version, []cli.Field{
			{Key: "API URL", Value: "http://127.0.0.1:" + strconv.Itoa(cfg.Port())},
			{Key: "Auth Token", Value: authToken},
			{Key: "Player", Value: cfg.SocketPath()},
			{Key: "Output", Value: manager.Dir()},
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := closeOnce(quitCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	switch {
	case args.TUI:
		events, stop := hub.Subscribe(display.DefaultSubscriberBuffer)
		defer stop()
		go func() {
			if err := ui.RunMonitor(ctx, events, eng); err != nil {
				logger.Error("monitor failed", "error", err)
			}
			quit()
		}()
	case args.Headless:
		logger.Info("running in headless mode (no system tray)")
	default:
		events, stop := hub.Subscribe(display.DefaultSubscriberBuffer)
		defer stop()
		tray := ui.NewTray(ui.TrayConfig{
			Control: eng,
			Events:  events,
			Logger:  logger,
			OnQuit:  quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// In-flight clips finish writing before the connection and index close.
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("persistence did not finish before shutdown", "error", err)
	}
	cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func pitchConfig(cfg config.Config) pitch.Config {
	return pitch.Config{
		InputRate:       cfg.AnalysisSampleRate(),
		InputChannels:   cfg.AnalysisChannels(),
		TargetRate:      cfg.PitchSampleRate(),
		FrameMs:         cfg.PitchFrameMs(),
		HopMs:           cfg.PitchHopMs(),
		MinHz:           cfg.PitchMinHz(),
		MaxHz:           cfg.PitchMaxHz(),
		Threshold:       cfg.PitchThreshold(),
		GateMultiplier:  cfg.PitchGateMultiplier(),
		MaxBridgeFrames: cfg.PitchMaxBridgeFrames(),
	}
}

// closeOnce returns a func that closes ch on its first call.
func closeOnce(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, catalog.ConfigKeyAPIToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, catalog.ConfigKeyAPIToken, token); err != nil {
		return "", err
	}

	return token, nil
}

// connectPlayer makes the first connection to the player. Without it there
// is nothing to cut from, so failure ends the process.
func connectPlayer(ctx context.Context, session *mpv.Session, attempts int) error {
	if err := session.Connect(ctx, attempts); err != nil {
		return fmt.Errorf("failed to connect to player: %w", err)
	}
	return nil
}
