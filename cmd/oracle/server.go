package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/loomnotes/oracle/internal/api"
	"github.com/loomnotes/oracle/internal/backend"
	"github.com/loomnotes/oracle/internal/config"
	"github.com/loomnotes/oracle/internal/corpus"
	"github.com/loomnotes/oracle/internal/oracle"
	"github.com/loomnotes/oracle/internal/remote"
	"github.com/loomnotes/oracle/internal/search"
	"github.com/loomnotes/oracle/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the oracle daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running oracle daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "oracle.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "loom-oracle version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if the daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("oracle is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("oracle is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage for the persistent query log.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the search engine over the embedding backend and corpus source.
	embedBackend := backend.NewOllamaBackend(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	engine := search.NewEngine(embedBackend, corpus.NewSource(cfg.Corpus.Source),
		search.WithDefaults(search.Defaults{
			TopK:           cfg.Retrieval.TopK,
			MinScore:       cfg.Retrieval.MinScore,
			SemanticWeight: cfg.Retrieval.SemanticWeight,
			LexicalWeight:  cfg.Retrieval.LexicalWeight,
		}))

	opts := []oracle.Option{
		oracle.WithHistoryRecorder(storage.NewRecorder(store)),
	}
	if cfg.Remote.Enabled {
		opts = append(opts, oracle.WithRemote(remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey)))
	}
	orc := oracle.New(engine, opts...)

	printStep("Initializing oracle...")
	if err := orc.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing oracle: %w", err)
	}
	state := orc.State()
	if state.Status == oracle.StatusError {
		printWarning("oracle running degraded: %s", state.Message)
	} else {
		printSuccess("Oracle ready: %s", state.Message)
	}
	defer orc.Dispose()

	handler := api.NewHandler(api.Deps{Oracle: orc, Search: engine})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Oracle: orc, Search: engine})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "oracle listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("oracle is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop oracle (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to oracle (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the embedding backend directly.
	embedResp, err := client.Get(cfg.Embedding.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		embedResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Embedding.BaseURL)
	}
	printStatus("Embed model", "%s", cfg.Embedding.Model)

	if running {
		stateResp, err := client.Get(serverURL + "/v1/oracle/state")
		if err == nil {
			var state oracle.State
			if decodeJSON(stateResp, &state) == nil {
				printStatus("Oracle", "%s", state.Status)
				printStatus("Chunks", "%d", state.ChunkCount)
				if state.RemoteAvailable {
					printStatus("Remote", "available")
				} else {
					printStatus("Remote", "unavailable")
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
