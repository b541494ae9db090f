// Command bridge runs the HyperStudy Bridge: a local hub mediating
// between a browser-based controller and neuroscience instruments over a
// single WebSocket. See spec §1.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/hyperstudy/bridge/internal/bridgestate"
	"github.com/hyperstudy/bridge/internal/config"
	"github.com/hyperstudy/bridge/internal/events"
	"github.com/hyperstudy/bridge/internal/logging"
	"github.com/hyperstudy/bridge/internal/lsl"
	"github.com/hyperstudy/bridge/internal/perf"
	"github.com/hyperstudy/bridge/internal/pybridge"
	"github.com/hyperstudy/bridge/internal/storage"
	"github.com/hyperstudy/bridge/internal/wsrouter"
	"github.com/hyperstudy/bridge/pkg/version"
)

func main() {
	app := &cli.Command{
		Name:  "bridge",
		Usage: "HyperStudy Bridge: a local hub mediating between a browser controller and neuroscience instruments",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: config.GetDefaultConfigPath(),
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "WebSocket listen port (overrides the config file)",
				Value: 0,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the bridge server",
				Action: func(ctx context.Context, c *cli.Command) error {
					return serve(ctx, c)
				},
			},
			{
				Name:  "init",
				Usage: "Write the default configuration file",
				Action: func(ctx context.Context, c *cli.Command) error {
					return initConfig(c.String("config"))
				},
			},
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Println(version.BuildVersion())
					return nil
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logging.ForService("main").WithError(err).Fatal("bridge exited with an error")
	}
}

func initConfig(configPath string) error {
	cfg := config.GetDefaultConfig()
	if err := cfg.SaveTemplateConfig(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Configuration initialized at %s\n", configPath)
	return nil
}

func serve(ctx context.Context, c *cli.Command) error {
	if c.Bool("debug") {
		logging.SetLevel(logrus.DebugLevel)
	}
	log := logging.ForService("main")

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	port := config.ResolveWebSocketPort(c.Int("port"), cfg)

	store, err := storage.OpenWithBatching(
		filepath.Join(cfg.DataDir, "bridge.db"),
		cfg.LogBatchSize, cfg.LogFlushInterval.Duration,
		cfg.SampleBatchSize, cfg.SampleFlushInterval.Duration,
	)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	logging.AddHook(logging.NewRingHook(store.LogBatcher))

	accountant := perf.New()
	state := bridgestate.New(accountant)
	hub := events.NewHub(256)

	if len(cfg.Devices) > 0 {
		log.Infof("connecting %d pre-provisioned device(s)", len(cfg.Devices))
		for _, connErr := range wsrouter.ConnectConfigured(ctx, state, cfg.Devices) {
			log.WithError(connErr).Warn("failed to bring up a pre-provisioned device")
		}
	}

	var bridge *pybridge.Supervisor
	if cfg.PythonBridge.Enabled {
		bridge = pybridge.New(cfg.PythonBridge.Command, cfg.DataDir, hub)
		if err := bridge.Start(cfg.PythonBridge.DeviceID, cfg.PythonBridge.ProductKey); err != nil {
			log.WithError(err).Warn("python bridge failed to start")
		}
	}

	lslCtx, stopLSL := context.WithCancel(context.Background())
	defer stopLSL()
	resolver := lsl.NewResolver(lsl.NullDiscoverer{}, cfg.LSL.PollInterval.Duration)
	inlets := lsl.NewInletManager()
	outlets := lsl.NewOutletManager()
	lsl.NewNeonManager(resolver, inlets)
	lsl.NewFrenzManager(resolver, inlets, outlets)
	discoveryEvents, err := resolver.StartContinuousDiscovery(lslCtx, cfg.LSL.PollInterval.Duration, cfg.LSL.StaleAfter.Duration)
	if err != nil {
		return fmt.Errorf("starting lsl discovery: %w", err)
	}
	go func() {
		for ev := range discoveryEvents {
			if ev.Kind != lsl.EventStreamFound && ev.Kind != lsl.EventStreamLost {
				continue
			}
			hub.Broadcast(events.Event{
				Kind: events.KindLSLDiscovery,
				Data: events.LSLDiscoveryEvent{
					StreamUID: ev.UID,
					Name:      ev.Stream.Info.Name,
					Available: ev.Kind == lsl.EventStreamFound,
				},
			})
		}
	}()

	router := wsrouter.New(state, hub, store, port)
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		banner := color.New(color.FgGreen, color.Bold)
		banner.Printf("%s listening on ws://127.0.0.1:%d\n", version.BuildVersion(), port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("websocket server: %w", err)
		}
	case <-sigCh:
		fmt.Println("\nshutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown did not complete cleanly")
	}
	if bridge != nil {
		if err := bridge.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("python bridge shutdown did not complete cleanly")
		}
	}
	store.LogBatcher.Flush()
	return nil
}
