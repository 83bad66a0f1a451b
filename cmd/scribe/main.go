// Scribe is a personal assistant with layered memory.
//
// It exposes a small HTTP API in front of an agent loop that assembles
// context from session, working, durable, and profile memory, calls an
// LLM, and executes requested tools. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	scribe serve             Start the API server
//	scribe init [dir]        Initialize a working directory with defaults
//	scribe ask <question>    Ask a single question (for testing)
//	scribe version           Print version and build information
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pentland/scribe/internal/agent"
	"github.com/pentland/scribe/internal/api"
	"github.com/pentland/scribe/internal/buildinfo"
	"github.com/pentland/scribe/internal/config"
	"github.com/pentland/scribe/internal/embeddings"
	"github.com/pentland/scribe/internal/events"
	"github.com/pentland/scribe/internal/fetch"
	"github.com/pentland/scribe/internal/forge"
	"github.com/pentland/scribe/internal/llm"
	"github.com/pentland/scribe/internal/memory"
	"github.com/pentland/scribe/internal/rag"
	"github.com/pentland/scribe/internal/scheduler"
	"github.com/pentland/scribe/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to a subcommand. Arguments are
// parsed by hand; the surface is three commands and one flag, which
// does not justify flag-package global state.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case command == "":
			command = args[i]
		default:
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	switch command {
	case "", "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: scribe ask <question>")
		}
		return runAsk(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		return printUsage(stderr)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `Usage: scribe [-config path] <command>

Commands:
  serve              Start the API server (default)
  init [dir]         Initialize a working directory with defaults
  ask <question>     Ask a single question and print the answer
  version            Print version and build information
`)
	return nil
}

// newLogger builds the slog logger all components share.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		// No config file is fine; run on defaults.
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// components is everything runServe and runAsk share: the wired agent
// loop and the stores behind it.
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *events.Bus
	db        *sql.DB
	memory    *memory.Store
	registry  *tools.Registry
	loop      *agent.Loop
	scheduler *scheduler.Scheduler
	indexer   *rag.Indexer
}

func (c *components) Close() {
	if c.db != nil {
		c.db.Close()
	}
}

// build wires the full component graph from configuration.
func build(logger *slog.Logger, cfg *config.Config) (*components, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// One SQLite file backs working notes, the vector index, and the
	// task ledger. WAL keeps the indexer and request path from
	// contending on writes.
	dsn := fmt.Sprintf("file:%s/scribe.db?_journal_mode=WAL&_busy_timeout=5000", cfg.DataDir)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bus := events.New()

	// Memory layers.
	session := memory.NewSessionStore(cfg.Memory.MaxTurns)
	working, err := memory.NewWorkingStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("working store: %w", err)
	}
	durable, err := memory.NewDurableStore(cfg.DataDir + "/memory")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("durable store: %w", err)
	}
	profile, err := memory.NewProfileStore(cfg.DataDir + "/profile")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("profile store: %w", err)
	}
	mem := memory.NewStore(logger, session, working, durable, profile, cfg.Memory.RecentTurns, cfg.Memory.RecallBudget)

	// LLM client.
	var client llm.Client
	switch cfg.LLM.Provider {
	case "", "ollama":
		client = llm.NewOllamaClient(cfg.LLM.BaseURL)
	case "openai":
		client = llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	default:
		db.Close()
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	// Retrieval index, optional.
	var ragStore *rag.Store
	var embedder rag.Embedder
	var indexer *rag.Indexer
	if cfg.RAG.Enabled && cfg.Embeddings.Enabled {
		ragStore, err = rag.NewStore(db, cfg.RAG.MessagesPerChannel)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("rag store: %w", err)
		}
		embedder, err = embeddings.New(embeddings.Config{
			Provider: cfg.Embeddings.Provider,
			BaseURL:  cfg.Embeddings.BaseURL,
			APIKey:   cfg.Embeddings.APIKey,
			Model:    cfg.Embeddings.Model,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		indexer = rag.NewIndexer(logger, ragStore, embedder, rag.NewSessionSource(session), bus,
			time.Duration(cfg.RAG.IndexIntervalSec)*time.Second, cfg.RAG.MinMessageLength)
	}

	// Tool registry and builtins.
	registry := tools.NewRegistry(logger, time.Duration(cfg.Agent.ToolTimeoutSec)*time.Second)
	if err := tools.RegisterMemoryTools(registry, mem); err != nil {
		db.Close()
		return nil, fmt.Errorf("register memory tools: %w", err)
	}

	schedStore, err := scheduler.NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler store: %w", err)
	}
	if err := tools.RegisterScheduleTools(registry, schedStore); err != nil {
		db.Close()
		return nil, fmt.Errorf("register schedule tools: %w", err)
	}

	if cfg.Fetch.Enabled {
		if err := tools.RegisterFetchTools(registry, fetch.New(cfg.Fetch.MaxChars)); err != nil {
			db.Close()
			return nil, fmt.Errorf("register fetch tools: %w", err)
		}
	}
	if cfg.GitHub.Token != "" || cfg.GitHub.DefaultRepo != "" {
		gh := forge.New(logger, cfg.GitHub.Token, cfg.GitHub.DefaultRepo)
		if err := tools.RegisterForgeTools(registry, gh); err != nil {
			db.Close()
			return nil, fmt.Errorf("register forge tools: %w", err)
		}
	}

	assembler := agent.NewAssembler(logger, mem, ragStore, embedder,
		cfg.Memory.RecallBudget, cfg.RAG.TopK,
		time.Duration(cfg.Agent.AssembleTimeoutSec)*time.Second)

	loop := agent.NewLoop(logger, client, registry, assembler, mem, bus, cfg.LLM.Model, cfg.Agent.MaxRounds)

	sched := scheduler.New(logger, schedStore,
		newTaskExecutor(logger, loop, mem, bus, time.Duration(cfg.Agent.RequestTimeoutSec)*time.Second),
		bus, time.Duration(cfg.Scheduler.TickSec)*time.Second)

	return &components{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		db:        db,
		memory:    mem,
		registry:  registry,
		loop:      loop,
		scheduler: sched,
		indexer:   indexer,
	}, nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Scribe", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.LLM.Model, "tools", true)

	c, err := build(logger, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.scheduler.Start(ctx); err != nil {
		return err
	}
	defer c.scheduler.Stop()

	if c.indexer != nil {
		go c.indexer.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(logger, addr, c.loop, c.bus,
		time.Duration(cfg.Agent.RequestTimeoutSec)*time.Second)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	logger.Info("registered tools", "names", c.registry.Names())
	if err := server.Start(); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Scribe stopped")
	return nil
}

// runAsk wires the components, runs a single request, and prints the
// answer. Useful for smoke-testing a configuration.
func runAsk(ctx context.Context, stdout io.Writer, configPath, question string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	c, err := build(logger, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Agent.RequestTimeoutSec)*time.Second)
	defer cancel()

	resp, err := c.loop.Run(ctx, agent.Request{Text: question, ConversationID: "cli", Kind: memory.KindDirect})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}
