// Wfmassist is a chat assistant for a workforce-management MongoDB
// database.
//
// It answers natural-language questions by letting a language model
// call the tools of a MongoDB MCP server, and serves a web chat UI plus
// a JSON API for canned WFM queries. Configuration is loaded from a YAML
// file discovered automatically (see [config.DefaultSearchPaths]), or
// from the environment alone when no file exists.
//
// Usage:
//
//	wfmassist serve              Start the API server
//	wfmassist ask <question>     Ask a single question
//	wfmassist tools              List the MCP server's tools
//	wfmassist version            Print version and build information
//	wfmassist -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/wfm-assistant/internal/agent"
	"github.com/nugget/wfm-assistant/internal/api"
	"github.com/nugget/wfm-assistant/internal/buildinfo"
	"github.com/nugget/wfm-assistant/internal/config"
	"github.com/nugget/wfm-assistant/internal/history"
	"github.com/nugget/wfm-assistant/internal/llm"
	"github.com/nugget/wfm-assistant/internal/mcp"
	"github.com/nugget/wfm-assistant/internal/usage"
	"github.com/nugget/wfm-assistant/internal/wfm"
)

// main builds the OS-level environment and hands off to [run], which
// keeps os.Exit and os.Args out of the code under test.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. serve logs to stdout; ask and tools log
// to stderr so stdout carries only their output. args is os.Args[1:].
// Arguments are parsed by hand so run can be called concurrently from
// tests without touching flag.CommandLine.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: wfmassist ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "))
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "WFM Assistant - chat with the workforce management database")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: wfmassist [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server and web UI")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  tools        List the MongoDB MCP tools")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	fmt.Fprintln(w, "Without a config file, settings come from the environment (.env is read).")
	return nil
}

// loadConfig reads dotenv files, then the YAML config. An explicit path
// must exist; otherwise a missing file falls back to the environment.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	cfgPath, err := config.FindConfig(explicit)
	switch {
	case err == nil:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	case explicit == "" && errors.Is(err, config.ErrNoConfigFile):
		cfg, cfgPath = config.FromEnvironment(), "(environment)"
	default:
		return nil, "", err
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

// assistant holds the components shared by serve and ask.
type assistant struct {
	cfg     *config.Config
	logger  *slog.Logger
	channel *mcp.Channel
	catalog *wfm.Catalog
	usage   *usage.Store
	orch    *agent.Orchestrator
}

// connect builds the MCP channel and initializes it. A failed
// initialization is logged and leaves the channel Uninitialized; callers
// decide whether that is fatal.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mcp.Channel, error) {
	ch := mcp.New(mcp.ChannelConfig{
		Command:          cfg.MCP.Command,
		Args:             cfg.MCP.Args,
		Env:              cfg.MCP.Env,
		ConnectionString: cfg.MCP.ConnectionString,
		ClientID:         cfg.MCP.ClientID,
		ClientSecret:     cfg.MCP.ClientSecret,
		InitTimeout:      cfg.MCP.InitTimeout(),
		CallTimeout:      cfg.MCP.CallTimeout(),
	}, logger)
	return ch, ch.Initialize(ctx)
}

// newAssistant wires the full component graph. The returned close func
// shuts the channel down and closes the usage store.
func newAssistant(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*assistant, func(), error) {
	a := &assistant{cfg: cfg, logger: logger}

	llmClient, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create LLM client: %w", err)
	}
	logger.Info("LLM client initialized", "provider", llmClient.Provider(), "model", cfg.LLM.Model)

	if cfg.Usage.DBPath != "" {
		a.usage, err = usage.NewStore(cfg.Usage.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open usage store %s: %w", cfg.Usage.DBPath, err)
		}
		logger.Info("usage ledger opened", "path", cfg.Usage.DBPath)
	}

	a.channel, err = connect(ctx, cfg, logger)
	if err != nil {
		logger.Warn("MCP server unavailable, running degraded", "error", err)
	}

	a.catalog = wfm.NewCatalog(a.channel, cfg.WFM.Database, logger)
	if a.channel.Ready() {
		if err := a.catalog.LoadMetadata(ctx); err != nil {
			logger.Warn("collection metadata not loaded", "error", err)
		}
	}

	deps := agent.Deps{
		LLM:     llmClient,
		Tools:   a.channel,
		History: history.NewStore(cfg.History.MaxMessages, cfg.History.MaxConversations),
		Prompt:  wfm.Prompt{Database: cfg.WFM.Database},
		Logger:  logger,
	}
	if a.usage != nil {
		deps.Usage = a.usage
	}
	a.orch = agent.New(deps, agent.Options{
		Model:      cfg.LLM.Model,
		MaxTurns:   cfg.LLM.MaxTurns,
		MaxTokens:  cfg.LLM.MaxTokens,
		LLMTimeout: cfg.LLM.Timeout(),
	})

	closeFn := func() {
		if err := a.channel.Shutdown(); err != nil {
			logger.Debug("MCP shutdown", "error", err)
		}
		if a.usage != nil {
			a.usage.Close()
		}
	}
	return a, closeFn, nil
}

// runServe starts the API server and blocks until SIGINT or SIGTERM.
// The MCP server being unreachable is not fatal: chat answers with a
// not-connected message and database endpoints return 503.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting WFM assistant", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"database", cfg.WFM.Database,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, closeAssistant, err := newAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAssistant()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.orch, a.channel, a.catalog, logger)
	if a.usage != nil {
		server.SetUsageStore(a.usage)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("WFM assistant stopped")
	return nil
}

// runAsk answers one question and prints it. Unlike serve, an
// unreachable MCP server is an error here.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, question string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	// Keep stdout for the answer.
	logger := config.NewLogger(stderr, level, cfg.LogFormat)

	a, closeAssistant, err := newAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAssistant()

	if !a.channel.Ready() {
		return fmt.Errorf("ask: MCP server not available")
	}

	res, err := a.orch.Process(ctx, "cli", question, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, res.Response)
	return nil
}

// runTools connects to the MCP server and lists its tools.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stderr, level, cfg.LogFormat)

	ch, err := connect(ctx, cfg, logger)
	defer ch.Shutdown()
	if err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	return printTools(stdout, ch.Capabilities(), outputFmt)
}

// printTools writes the capability list as text or JSON.
func printTools(w io.Writer, caps []mcp.Capability, outputFmt string) error {
	if outputFmt == "json" {
		type tool struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Schema      map[string]any `json:"input_schema,omitempty"`
		}
		out := make([]tool, len(caps))
		for i, c := range caps {
			out[i] = tool{Name: c.Name, Description: c.Description, Schema: c.Schema}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "%d tools available\n", len(caps))
	for _, c := range caps {
		desc, _, _ := strings.Cut(c.Description, "\n")
		fmt.Fprintf(w, "  %-24s %s\n", c.Name, desc)
	}
	return nil
}
