// SEL is a chat-platform conversation agent with a simulated affect
// model and long-term memory.
//
// It exposes an HTTP and WebSocket API that a platform bridge posts
// messages to, and a CLI for one-shot questions. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	sel serve              Start the API server
//	sel ask <message>      Send a single message (for testing)
//	sel version            Print version and build information
//	sel -o json version    Output version information as JSON
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sel-agent/sel/internal/agent"
	"github.com/sel-agent/sel/internal/api"
	"github.com/sel-agent/sel/internal/buildinfo"
	"github.com/sel-agent/sel/internal/config"
	"github.com/sel-agent/sel/internal/fetch"
	"github.com/sel-agent/sel/internal/httpkit"
	"github.com/sel-agent/sel/internal/llm"
	"github.com/sel-agent/sel/internal/memory"
	"github.com/sel-agent/sel/internal/mqtt"
	"github.com/sel-agent/sel/internal/presence"
	"github.com/sel-agent/sel/internal/router"
	"github.com/sel-agent/sel/internal/search"
	"github.com/sel-agent/sel/internal/speech"
	"github.com/sel-agent/sel/internal/tools"
	"github.com/sel-agent/sel/internal/usage"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so that run
// can be called concurrently from tests without flag's globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
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
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
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
			return fmt.Errorf("usage: sel ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "SEL - conversation agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sel [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Send a single message (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sel/config.yaml, /etc/sel/config.yaml")
	return nil
}

// runAsk processes one message through the full orchestrator and
// prints the reply. Logs go to stderr so stdout carries only the reply.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(stderr, cfg)
	if err != nil {
		return err
	}

	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	reply, handled := app.orch.HandleMessage(ctx, agent.Inbound{
		ConversationID: "cli",
		SenderID:       "cli",
		SenderName:     "cli",
		Text:           strings.Join(args, " "),
	})
	app.orch.Wait()
	if !handled {
		return errors.New("ask: message ignored (check conversation.whitelist)")
	}

	if reply.Image != "" {
		fmt.Fprintln(stdout, reply.Image)
	}
	fmt.Fprintln(stdout, reply.Text)
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting SEL", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err = configuredLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"main_model", cfg.LLM.MainModel,
		"util_model", cfg.LLM.UtilModel,
		"memory", cfg.Memory.Backend,
	)

	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	go func() {
		if !llm.WarmEncoder() {
			logger.Warn("token encoder unavailable, estimating usage from length")
		}
	}()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, app.orch, logger)
	server.SetPresence(app.presence)
	server.SetDetector(app.detector)
	server.SetTools(app.registry)
	server.SetUsage(app.usage)
	if cfg.Speech.APIKey != "" {
		sc := speech.NewClient(cfg.Speech, logger)
		var tts speech.Synthesizer
		if cfg.Speech.Configured() {
			tts = sc
		}
		server.SetSpeech(tts, sc)
		logger.Info("speech enabled", "tts", tts != nil)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return app.orch.RunJanitor(gctx, 0)
	})

	if cfg.Tools.Watch {
		w := tools.NewWatcher(app.scripts, app.registry, cfg.Tools.WatchDebounce, logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		pub := mqtt.New(cfg.MQTT, instanceID, app.tokens, &mqttStatsAdapter{orch: app.orch}, logger)
		g.Go(func() error {
			err := pub.Start(gctx)
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := pub.Stop(stopCtx); stopErr != nil {
				logger.Warn("mqtt stop failed", "error", stopErr)
			}
			return err
		})
		dev := pub.Device()
		logger.Info("mqtt publisher enabled", "broker", cfg.MQTT.Broker, "device", dev.Name, "instance_id", dev.Identifiers[0])
	}

	err = g.Wait()

	logger.Info("waiting for memory writes")
	app.orch.Wait()
	if err != nil {
		return err
	}
	logger.Info("SEL stopped")
	return nil
}

// app holds the components shared by serve and ask.
type app struct {
	orch     *agent.Orchestrator
	registry *tools.Registry
	scripts  *tools.ScriptRunner
	detector *router.Detector
	presence *presence.Tracker
	usage    *usage.Store
	tokens   *mqtt.DailyTokens
	closers  []io.Closer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func build(cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	loc, err := cfg.Conversation.Location()
	if err != nil {
		return nil, err
	}
	persona, err := cfg.ResolvePersona()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	a.closers = append(a.closers, a.usage)
	a.tokens = mqtt.NewDailyTokens(loc)

	mainLLM := newLLMClient(cfg.LLM, cfg.LLM.MainModel, cfg.LLM.MainTemperature, logger)
	mainLLM.OnUsage(observeAll(
		a.usage.Observer(usage.PurposeReply, cfg.LLM.Pricing, logger),
		a.tokens.Observe,
	))
	utilLLM := newLLMClient(cfg.LLM, cfg.LLM.UtilModel, cfg.LLM.UtilTemperature, logger)
	utilLLM.OnUsage(observeAll(
		a.usage.Observer(usage.PurposeClassify, cfg.LLM.Pricing, logger),
		a.tokens.Observe,
	))

	var mem memory.Store
	switch cfg.Memory.Backend {
	case config.MemoryHIM:
		mem = memory.NewHIMClient(cfg.Memory.HIMURL, cfg.Memory.RecallLimit, logger)
	case config.MemorySQLite:
		s, err := memory.NewSQLiteStore(cfg.Memory.SQLitePath, cfg.Memory.RecallLimit)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		a.closers = append(a.closers, s)
		mem = s
	default:
		mem = memory.Nop{}
	}

	a.registry = tools.NewRegistry(logger)
	if err := a.registry.Register(tools.NewUsageTool(a.usage, loc).Tool()); err != nil {
		return nil, err
	}
	if cfg.Tools.ShellExec.Enabled {
		if err := a.registry.Register(tools.NewShell(cfg.Tools.ShellExec).Tool()); err != nil {
			return nil, err
		}
	}
	if cfg.Tools.Browser.Enabled {
		fetcher := fetch.New(cfg.Tools.Browser.Fetch,
			httpkit.WithUserAgent(buildinfo.UserAgent()),
			httpkit.WithLogger(logger),
		)
		browser := tools.NewBrowser(fetcher, search.FromConfig(cfg.Tools.Browser.Search, logger))
		if err := a.registry.Register(browser.Tool()); err != nil {
			return nil, err
		}
	}
	a.scripts, err = tools.NewScriptRunner(cfg.Tools.ScriptConfig, logger)
	if err != nil {
		return nil, err
	}
	if err := a.scripts.Sync(a.registry); err != nil {
		return nil, err
	}

	var exec tools.Executor = a.registry
	if cfg.Tools.Cache.Enabled {
		cache, err := tools.OpenCache(cfg.Tools.Cache.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("open tool cache: %w", err)
		}
		a.closers = append(a.closers, cache)
		exec = tools.NewCachedExecutor(a.registry, cache, cfg.Tools.Cache, logger)
	}

	a.detector = router.NewDetector(logger, utilLLM, router.Config{
		ApprovedSenderID: cfg.Conversation.ApprovedSenderID,
	})
	a.presence = presence.NewTracker()

	a.orch = agent.New(logger, agent.Config{
		AgentName:         cfg.Conversation.AgentName,
		SelfID:            cfg.Conversation.SelfID,
		ChannelWhitelist:  cfg.Conversation.Whitelist,
		HistoryLimit:      cfg.Conversation.HistoryLimit,
		MemoryRecallLimit: cfg.Memory.RecallLimit,
		DecayRatePerHour:  cfg.Conversation.DecayRatePerHour,
		MaxReplyTokens:    cfg.Conversation.MaxReplyTokens,
		PresenceLimit:     cfg.Conversation.PresenceLimit,
		Location:          loc,
		IdleTTL:           cfg.Conversation.IdleTTL,
		Persona:           persona,
	}, agent.Deps{
		LLM:      mainLLM,
		Memory:   mem,
		Tools:    exec,
		Detector: a.detector,
		Presence: a.presence,
	})

	logger.Info("orchestrator ready", "tools", len(a.registry.List()), "cache", cfg.Tools.Cache.Enabled)
	return a, nil
}

func newLLMClient(c config.LLMConfig, model string, temperature float64, logger *slog.Logger) *llm.Client {
	return llm.NewClient(llm.Config{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       model,
		Temperature: temperature,
		TopP:        c.TopP,
		Timeout:     c.Timeout,
		Referer:     c.Referer,
		Title:       c.Title,
	}, logger)
}

// observeAll fans one usage report out to every observer.
func observeAll(observers ...llm.UsageObserver) llm.UsageObserver {
	return func(ctx context.Context, u llm.Usage) {
		for _, o := range observers {
			o(ctx, u)
		}
	}
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger validates cfg and builds the logger it asks for.
func configuredLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, strings.ToLower(cfg.LogFormat)), nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// mqttStatsAdapter bridges the orchestrator and build info to the
// publisher's [mqtt.StatsSource].
type mqttStatsAdapter struct {
	orch *agent.Orchestrator
}

func (a *mqttStatsAdapter) Uptime() time.Duration    { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string          { return buildinfo.Version }
func (a *mqttStatsAdapter) ActiveConversations() int { return a.orch.Stats().ActiveConversations }
func (a *mqttStatsAdapter) TurnsToday() int64        { return a.orch.Stats().TurnsToday }
func (a *mqttStatsAdapter) Mood() string             { return a.orch.Stats().LastMood }
func (a *mqttStatsAdapter) LastTurn() time.Time      { return a.orch.Stats().LastTurn }
