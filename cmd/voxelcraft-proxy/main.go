// VoxelCraft Proxy - lets VoxelSrv clients play on Minecraft Java servers.
//
// The proxy accepts websocket connections from VoxelSrv clients, logs each
// one into an upstream Minecraft server over TCP, and translates chunks,
// entities, chat and player actions between the two protocols. A REST API,
// an operator console and optional MQTT heartbeats expose its state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/api"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/cli"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/db"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/health"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/network"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/scheduler"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/telemetry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

const Banner = `
 __   __             _  ___           __ _
 \ \ / /____ _____ _| |/ __|_ _ __ _ / _| |_
  \ V / _ \ \ / -_) | | (__| '_/ _' |  _|  _|
   \_/\___/_\_\___|_|_|\___|_| \__,_|_|  \__|
                                 proxy v%s
 VoxelSrv to Minecraft bridge
`

type options struct {
	configDir string
	setup     bool
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:           util.AppName,
		Short:         "Bridges VoxelSrv clients to a Minecraft Java server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	root.Flags().StringVar(&opts.configDir, "config-dir", config.DefaultConfigDir, "directory holding config.json and data files")
	root.Flags().BoolVar(&opts.setup, "setup", false, "run the interactive setup wizard before starting")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the proxy version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s/%s)\n", util.AppName, util.AppVersion, runtime.GOOS, runtime.GOARCH)
		},
	})

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("proxy stopped with an error")
	}
}

func run(opts options) error {
	fmt.Printf(Banner, util.AppVersion)
	fmt.Println()

	// Defaults until the config says otherwise
	if err := util.InitLogger(util.DefaultLogOptions()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", util.AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting VoxelCraft proxy")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := util.InitLogger(util.LogOptions{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if opts.setup || (cfg.IsFirstRun() && interactive) {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	reg, err := registry.Load(cfg.ResolveDir(cfg.BlocksFile))
	if err != nil {
		return fmt.Errorf("failed to load block registry: %w", err)
	}

	movement, err := messages.LoadMovement(cfg.ResolveDir(cfg.MovementFile))
	if err != nil {
		return fmt.Errorf("failed to load movement profile: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// The ledger is optional; the proxy runs without history when the
	// database cannot be opened.
	var (
		ledger        *db.SessionLedger
		historySource api.HistorySource
		cliHistory    cli.HistorySource
		schedLedger   scheduler.Ledger
	)
	if cfg.Database.Path != "" {
		ledger, err = db.NewSessionLedger(cfg.ResolveDir(cfg.Database.Path))
		if err != nil {
			log.Warn().Err(err).Msg("failed to open session ledger, history disabled")
		} else {
			ledger.Subscribe(eventBus)
			historySource, cliHistory, schedLedger = ledger, ledger, ledger
		}
	}

	metrics := telemetry.NewMetrics()
	metrics.Subscribe(eventBus)

	mgr := server.NewManager(cfg, eventBus, server.Options{
		Registry: reg,
		Movement: movement,
		Recorder: metrics,
	})

	sockets := network.NewSocketRegistry()
	listener := network.NewListener(cfg, mgr, sockets)

	var mqttHandler *telemetry.MQTTHandler
	var publisher health.HeartbeatPublisher
	if cfg.Public {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, heartbeats disabled")
			mqttHandler = nil
		} else {
			publisher = mqttHandler
		}
	}

	healthMgr := health.NewManager(cfg, eventBus, mgr, sockets, publisher)

	apiServer := api.NewServer(cfg, eventBus, api.Deps{
		Sessions: mgr,
		Ledger:   historySource,
		Registry: reg,
		Metrics:  metrics.Handler(),
		Usage:    healthMgr,
	})

	sched := scheduler.NewScheduler(cfg, eventBus, schedLedger, mgr.Slots())
	console := cli.NewCLI(cfg, eventBus, mgr, cliHistory, reg, os.Stdin, os.Stdout)

	// quit from the console arrives as a shutdown event
	quitCh := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, event events.Event) error {
		quitOnce.Do(func() { close(quitCh) })
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.ListenAddr()).Msg("starting websocket listener")
		if err := startWithRetry(ctx, "websocket listener", listener.Start, 15); err != nil {
			log.Error().Err(err).Msg("websocket listener failed after retries")
			errCh <- fmt.Errorf("websocket listener: %w", err)
		}
	}()

	if cfg.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health manager")
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if interactive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting interactive console")
			console.Start(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		eventBus.EmitSync(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "main",
		})
	case <-quitCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		eventBus.EmitSync(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "main",
		})
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		mgr.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	sockets.CloseAll()
	eventBus.Stop()

	if ledger != nil {
		if err := ledger.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session ledger")
		}
	}

	log.Info().Msg("VoxelCraft proxy stopped")
	return nil
}

// startWithRetry retries startFn on a fixed 3 second interval, which covers
// sockets still held by a previous process. It returns the last error once
// maxRetries is exhausted.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil || ctx.Err() != nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
