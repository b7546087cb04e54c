// dxxtracker - Descent 1/2 multiplayer tracker and dashboard feed
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/Code-6dof/DXX-Dashboard/internal/api"
	"github.com/Code-6dof/DXX-Dashboard/internal/archive"
	"github.com/Code-6dof/DXX-Dashboard/internal/bus"
	"github.com/Code-6dof/DXX-Dashboard/internal/config"
	"github.com/Code-6dof/DXX-Dashboard/internal/registry"
	"github.com/Code-6dof/DXX-Dashboard/internal/snapshot"
	"github.com/Code-6dof/DXX-Dashboard/internal/tracker"
	"github.com/Code-6dof/DXX-Dashboard/internal/watcher"
)

var version = "dev"

const shutdownGrace = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("dxxtracker %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: dxxtracker <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the tracker (UDP listener, HTTP API, WebSocket)")
	fmt.Println("  version    Show version")
	fmt.Println("  help       Show this help")
	fmt.Println()
	fmt.Println("Options for serve:")
	fmt.Println("  --config <path>    Path to YAML configuration file")
	fmt.Println()
	fmt.Println("Environment overrides: DXX_UDP_PORT, DXX_WS_PORT, DXX_HTTP_PORT,")
	fmt.Println("  DXX_LOCAL_PLAYER, DXX_GAMELOG_DIRS, DXX_SNAPSHOT_PATH, DXX_ARCHIVE_PATH")
}

// cmdServe brings up every component and runs until a termination
// signal arrives.
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("dxxtracker %s starting...", version)

	// Archive sink: sqlite when configured, otherwise a null sink.
	var sink archive.Sink = archive.NullSink{}
	var store *archive.Store
	if cfg.ArchivePath != "" {
		store, err = archive.NewStore(cfg.ArchivePath)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer store.Close()
		sink = store
		log.Printf("Archive database at %s", cfg.ArchivePath)
	}

	eventBus, err := bus.New()
	if err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}
	defer eventBus.Close()

	reg := registry.New()
	uploads := tracker.NewUploads()
	engine := tracker.NewEngine(reg, eventBus, uploads, sink, tracker.Options{
		PollInterval:    cfg.PollInterval,
		CleanupInterval: cfg.CleanupInterval,
		Debug:           cfg.Debug,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx, cfg.ListenAddr, cfg.UDPPort); err != nil {
		log.Fatalf("Failed to start tracker engine: %v", err)
	}

	// Snapshot writer: rewrites on every mutation and on its own tick.
	writer := snapshot.NewWriter(cfg.SnapshotPath, func() interface{} {
		return tracker.BuildSnapshot(reg, uploads)
	})
	writer.Start()
	log.Printf("Snapshot file at %s", cfg.SnapshotPath)

	// WebSocket hub fed from the bus; every frame also marks the
	// snapshot dirty.
	hub := api.NewHub(func() interface{} {
		return tracker.BuildSnapshot(reg, uploads)
	})
	go hub.Run()
	if _, err := eventBus.Subscribe(bus.SubjectEvents, func(data []byte) {
		hub.BroadcastRaw(data)
		writer.Trigger()
	}); err != nil {
		log.Fatalf("Failed to subscribe to event bus: %v", err)
	}

	// Every textual-stream mutation (HTTP upload or local watcher)
	// republishes the merged digest and marks the snapshot dirty.
	streamsChanged := func() {
		engine.NotifyStreamsChanged()
		writer.Trigger()
	}

	// Local gamelog watcher.
	logWatcher := watcher.New(cfg.GamelogDirs, cfg.LocalPlayer, uploads, eventBus, streamsChanged)
	logWatcher.Start()
	if n := logWatcher.Tracking(); n > 0 {
		log.Printf("Watching %d local gamelog file(s)", n)
	}

	// HTTP read API.
	router := api.NewRouter(reg, uploads, store, streamsChanged)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("HTTP API on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// WebSocket acceptor on its own port.
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", hub.HandleUpgrade)
	wsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.WSPort),
		Handler: wsMux,
	}
	go func() {
		log.Printf("WebSocket on %s", wsSrv.Addr)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("WebSocket server failed: %v", err)
		}
	}()

	// Wait for termination.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down...")

	// Stop the receive loop first so no new state enters the system,
	// then pollers and watchers, then the readers.
	engine.Stop()
	logWatcher.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	wsSrv.Shutdown(shutdownCtx)

	// Drain one final snapshot.
	writer.Stop()
	log.Println("Shutdown complete")
}
