package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	jarvisweb "github.com/MegaGrindStone/jarvis-web"
	"github.com/MegaGrindStone/jarvis-web/internal/handlers"
	"github.com/MegaGrindStone/jarvis-web/internal/pipeline"
	"github.com/MegaGrindStone/jarvis-web/internal/relay"
	"github.com/MegaGrindStone/jarvis-web/internal/services"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type options struct {
	Config   string `short:"c" long:"config" description:"config YAML path (default: <user config dir>/jarvisweb/config.yaml)"`
	Port     string `short:"p" long:"port" description:"HTTP port, overrides the config file"`
	LogLevel string `short:"l" long:"log-level" description:"debug|info|warn|error, overrides the config file"`
}

func main() {
	if err := run(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		// The parser has already printed its own errors
		var flagErr *flags.Error
		if !errors.As(err, &flagErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	opts := &options{}
	if _, err := flags.NewParser(opts, flags.Default).Parse(); err != nil {
		return err
	}

	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "jarvisweb")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfgFilePath := opts.Config
	if cfgFilePath == "" {
		cfgFilePath = filepath.Join(cfgPath, "config.yaml")
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		return err
	}
	if opts.Port != "" {
		cfg.Port = opts.Port
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	logger, err := cfg.logger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	dbPath := cfg.MemoryBankPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "memories.db")
	}
	bank, err := services.NewBoltMemoryBank(dbPath)
	if err != nil {
		return err
	}
	defer bank.Close()

	if cfg.Relay.APIKey == "" {
		logger.Warn("Relay has no upstream API key, chats will fail until LOVABLE_API_KEY is set")
	}
	rl := relay.New(cfg.Relay.relay(), &http.Client{}, logger)
	llm := services.NewJarvis(cfg.relayURL(), cfg.Client.PublicKey, logger)

	m, err := handlers.NewMain(llm, bank, pipeline.NewSimulator(), logger)
	if err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(jarvisweb.StaticFS, "static")
	if err != nil {
		return err
	}
	home, err := handlers.NewHome(staticFS, logger)
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", home.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.HandleFunc("GET /sessions/{id}", m.HandleSession)
	mux.HandleFunc("/memories", m.HandleMemories)
	mux.HandleFunc("GET /memories/stats", m.HandleMemoryStats)
	mux.HandleFunc("/memories/{id}", m.HandleMemory)
	mux.Handle(relayPath, rl)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("relayURL", cfg.relayURL()))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}
