package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/config"
	"github.com/zjrosen/warder/internal/dashboard"
	"github.com/zjrosen/warder/internal/ipc"
	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/paths"
	"github.com/zjrosen/warder/internal/supervisor"
	"github.com/zjrosen/warder/internal/tracing"
)

// Exit codes per the control-socket protocol's startup contract.
const (
	exitOK                = 0
	exitConfigInvalid     = 1
	exitSocketBindFailure = 2
	exitStateFileCorrupt  = 3
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warder daemon",
	Long: `Run the supervisor as a background daemon: binds the control socket,
starts the dashboard push channel, and loads the persisted room table.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "dashboard-addr", "", "dashboard push channel address (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cleanup := maybeInitLogging("warder-serve")
	defer cleanup()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warder: invalid configuration: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	stateDir, err := resolvedStateDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warder: resolving state directory: %v\n", err)
		os.Exit(exitConfigInvalid)
	}
	if err := paths.EnsureStateDir(stateDir); err != nil {
		fmt.Fprintf(os.Stderr, "warder: creating state directory: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	socketPath, err := controlSocketPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warder: resolving control socket path: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	dashboardAddr := serveAddr
	if dashboardAddr == "" {
		dashboardAddr = cfg.Dashboard.Addr
	}

	tracingFilePath := cfg.Tracing.FilePath
	if cfg.Tracing.Exporter == "file" && tracingFilePath == "" {
		tracingFilePath = config.DefaultTracesFilePath(stateDir)
	}
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     tracingFilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "warder-supervisor",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warder: initializing tracing: %v\n", err)
		os.Exit(exitConfigInvalid)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	stateFilePath := paths.StateFilePath(stateDir)
	sup, err := supervisor.New(cfg, stateFilePath, nil, tracerProvider.Tracer())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warder: constructing supervisor: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warder: loading persisted room state: %v\n", err)
		os.Exit(exitStateFileCorrupt)
	}

	hub := ipc.New(ipc.Config{SocketPath: socketPath, RequestTimeout: cfg.Socket.RequestTimeout}, sup, tracerProvider.Tracer())
	hubErrCh := make(chan error, 1)
	go func() { hubErrCh <- hub.Serve(ctx) }()

	pushChannel := dashboard.New(dashboard.Config{
		Addr:             dashboardAddr,
		SnapshotInterval: cfg.Dashboard.SnapshotInterval,
		MaxSnapshotBytes: cfg.Dashboard.MaxSnapshotBytes,
	}, sup)
	dashboardErrCh := make(chan error, 1)
	go func() { dashboardErrCh <- pushChannel.Serve(ctx) }()
	go pushChannel.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info(log.CatSupervisor, "warder serving", "socket", socketPath, "dashboard_addr", dashboardAddr)
	fmt.Printf("warder listening on %s (dashboard %s)\n", socketPath, dashboardAddr)

	select {
	case sig := <-sigCh:
		fmt.Printf("received %s, shutting down\n", sig)
	case err := <-hubErrCh:
		if err != nil {
			log.ErrorErr(log.CatIPC, "control socket failed", err)
			fmt.Fprintf(os.Stderr, "warder: control socket failed: %v\n", err)
			os.Exit(exitSocketBindFailure)
		}
	case err := <-dashboardErrCh:
		if err != nil {
			log.ErrorErr(log.CatDashboard, "dashboard push channel failed", err)
		}
	case <-sup.Done():
		// Shutdown was triggered by an IPC client's Shutdown request.
	}

	// Shutdown is idempotent: this is a no-op if an IPC client's Shutdown
	// request already triggered it. Stop the dashboard and IPC Hub
	// listeners (I, H) alongside the supervisor's own drain (E/F/G/D/C)
	// by cancelling the context they all serve on.
	sup.Shutdown()
	cancel()
	<-sup.Done()

	fmt.Println("warder stopped")
	return nil
}
