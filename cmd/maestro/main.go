// Command maestro wires the mission engine's capability adapters,
// persistence gateway, vector index, event bus and controller into one
// process, and exposes a minimal line-oriented CLI for exercising a mission
// without the (out-of-scope) web UI/HTTP transport collaborator. Grounded on
// the teacher's cmd/agent/main.go wiring order: load config, open stores,
// construct the engine, then dispatch a single user-requested action.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/capability/providers"
	"github.com/maestro-research/maestro/internal/capability/rerank"
	"github.com/maestro-research/maestro/internal/capability/web"
	"github.com/maestro-research/maestro/internal/config"
	"github.com/maestro-research/maestro/internal/controller"
	"github.com/maestro-research/maestro/internal/eventbus"
	"github.com/maestro-research/maestro/internal/logging"
	"github.com/maestro-research/maestro/internal/mission"
	"github.com/maestro-research/maestro/internal/missioncontext"
	"github.com/maestro-research/maestro/internal/persistence"
	"github.com/maestro-research/maestro/internal/persistence/memory"
	"github.com/maestro-research/maestro/internal/persistence/postgres"
	"github.com/maestro-research/maestro/internal/retrieve"
	"github.com/maestro-research/maestro/internal/telemetry"
	"github.com/maestro-research/maestro/internal/vectorindex"
)

func main() {
	configPath := flag.String("config", "", "path to a maestro.yaml config file (optional)")
	userID := flag.String("user", "cli-user", "user_id to attach to created missions")
	feedback := flag.String("feedback", "", "revision feedback for the resume command")
	round := flag.Int("round", 0, "outline round for the resume command (0 = latest)")
	version := flag.Int("version", 0, "report version for the report command (0 = current)")
	pollInterval := flag.Duration("poll", 2*time.Second, "status poll interval for the run command")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: maestro <run|create|start|status|stop|resume|report|logs> [args...]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("maestro: loading config")
	}
	logging.Init(cfg.Log.Path, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, closeFn, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("maestro: wiring engine")
	}
	defer closeFn()

	cmd, rest := args[0], args[1:]
	if err := dispatch(ctx, engine, cfg, cmd, rest, *userID, *feedback, *round, *version, *pollInterval); err != nil {
		log.Fatal().Err(err).Msg("maestro: " + cmd)
	}
}

// buildEngine wires the Engine and returns a close function for the process
// resources it opened that need an explicit Close (persistence gateway,
// ClickHouse sink, Redis bus); the vector index is not closed by it.
func buildEngine(ctx context.Context, cfg *config.AppConfig) (*controller.Engine, func(), error) {
	closers := make([]func(), 0, 4)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("maestro: persistence gateway: %w", err)
	}
	closers = append(closers, func() { _ = gw.Close() })
	store := missioncontext.New(gw)

	index, err := buildIndex(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("maestro: vector index: %w", err)
	}

	creds := providers.Credentials{
		AnthropicAPIKey: cfg.Providers.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.Providers.OpenAIAPIKey,
		GoogleAPIKey:    cfg.Providers.GoogleAPIKey,
	}
	router, err := providers.NewRoleRouter(ctx, cfg.Settings.Models, creds, providers.Prices{})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("maestro: building model router: %w", err)
	}

	embedder, err := providers.Build(ctx, config.ModelSpec{Provider: "openai", Model: cfg.Settings.Models.Fast.Model}, creds, providers.Prices{})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("maestro: building embedding client: %w", err)
	}
	embedClient, ok := embedder.(capability.EmbeddingClient)
	if !ok {
		closeAll()
		return nil, nil, fmt.Errorf("maestro: openai client does not implement EmbeddingClient")
	}

	searxURL := cfg.WebSearch.SearxngURL
	if searxURL == "" {
		searxURL = "http://localhost:8888"
	}
	webClient := web.NewSearxngClient(searxURL, web.DefaultRateLimitConfig())

	instruments, err := telemetry.NewInstruments()
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("maestro: telemetry instruments: %w", err)
	}
	sink := missioncontext.NewSink(store)
	interceptor := telemetry.NewInterceptor(instruments, sink)

	if cfg.ClickHouse.Enabled && cfg.ClickHouse.DSN != "" {
		chSink, err := telemetry.OpenClickHouseSink(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("maestro: clickhouse sink unavailable, continuing without it")
		} else {
			closers = append(closers, func() { _ = chSink.Close() })
		}
	}

	retriever := retrieve.New(index, embedClient, webClient, rerank.Noop{})
	retriever.Telemetry = interceptor

	// The controller always drives its in-process bus (its Bus field needs
	// concrete Publish/Subscribe semantics the engine calls directly); a
	// RedisBus is a separate, optional mirror a remote transport
	// collaborator can attach to when it can't share this process's memory
	// (spec §4.3's "transport adapters... MUST tolerate drops and
	// reconcile"), so it is only opened here, never substituted in.
	bus := eventbus.New(eventbus.DefaultBufferSize)
	if cfg.Redis.Addr != "" {
		if redisBus, err := eventbus.NewRedisBus(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			log.Warn().Err(err).Msg("maestro: redis event bus unreachable, continuing with the in-process bus only")
		} else {
			closers = append(closers, func() { _ = redisBus.Close() })
		}
	}

	engine := controller.New(store, retriever, router, bus, nil)
	engine.Telemetry = interceptor
	return engine, closeAll, nil
}

func buildGateway(ctx context.Context, cfg *config.AppConfig) (persistence.Gateway, error) {
	if cfg.Postgres.DSN == "" {
		log.Info().Msg("maestro: no postgres DSN configured, using the in-memory persistence gateway")
		return memory.New(), nil
	}
	return postgres.Open(ctx, cfg.Postgres.DSN)
}

func buildIndex(ctx context.Context, cfg *config.AppConfig) (vectorindex.Index, error) {
	const denseDim = 1536
	if cfg.Qdrant.Addr == "" {
		log.Info().Msg("maestro: no qdrant address configured, using the in-memory vector index")
		return vectorindex.NewMemoryIndex(denseDim), nil
	}
	return vectorindex.NewQdrantIndex(ctx, cfg.Qdrant.Addr, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS, "maestro_chunks", denseDim)
}

func dispatch(ctx context.Context, e *controller.Engine, cfg *config.AppConfig, cmd string, args []string, userID, feedback string, round, version int, poll time.Duration) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro create \"<request text>\"")
		}
		normalized, overrides := e.PrepareRequest(ctx, args[0])
		id, err := e.CreateMission(ctx, userID, normalized, overrides)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "start":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro start <mission_id>")
		}
		return e.Start(ctx, args[0], cfg.Settings, nil)

	case "run":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro run \"<request text>\"")
		}
		normalized, overrides := e.PrepareRequest(ctx, args[0])
		id, err := e.CreateMission(ctx, userID, normalized, overrides)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "mission %s created\n", id)
		if err := e.Start(ctx, id, cfg.Settings, nil); err != nil {
			return err
		}
		return watchToCompletion(ctx, e, id, poll)

	case "stop":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro stop <mission_id>")
		}
		return e.Stop(ctx, args[0])

	case "resume":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro resume <mission_id>")
		}
		if err := e.UnifiedResume(ctx, args[0], round, feedback, cfg.Settings); err != nil {
			return err
		}
		return watchToCompletion(ctx, e, args[0], poll)

	case "status":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro status <mission_id>")
		}
		status, stats, err := e.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("status=%s prompt_tokens=%d completion_tokens=%d cost_usd=%.4f web_searches=%d\n",
			status, stats.PromptTokens, stats.CompletionTokens, stats.CostUSD, stats.WebSearches)
		return nil

	case "report":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro report <mission_id> [-version N]")
		}
		rv, err := e.GetReport(ctx, args[0], version)
		if err != nil {
			return err
		}
		fmt.Println(rv.Content)
		return nil

	case "logs":
		if len(args) < 1 {
			return fmt.Errorf("usage: maestro logs <mission_id> [skip] [limit]")
		}
		skip, limit := 0, 100
		if len(args) > 1 {
			skip, _ = strconv.Atoi(args[1])
		}
		if len(args) > 2 {
			limit, _ = strconv.Atoi(args[2])
		}
		entries, err := e.GetLogs(ctx, args[0], skip, limit)
		if err != nil {
			return err
		}
		for _, l := range entries {
			fmt.Printf("[%s] %s/%s %s: %s\n", l.Timestamp.Format(time.RFC3339), l.Agent, l.Phase, l.Level, l.Message)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// watchToCompletion polls a mission's status until it reaches a terminal
// state, then prints its current report if one was produced.
func watchToCompletion(ctx context.Context, e *controller.Engine, missionID string, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, stats, err := e.GetStatus(ctx, missionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "mission %s: status=%s tokens=%d+%d cost=$%.4f\n",
				missionID, status, stats.PromptTokens, stats.CompletionTokens, stats.CostUSD)

			switch status {
			case mission.StatusCompleted:
				rv, err := e.GetReport(ctx, missionID, 0)
				if err != nil {
					return err
				}
				fmt.Println(rv.Content)
				return nil
			case mission.StatusFailed, mission.StatusStopped:
				return fmt.Errorf("mission %s ended in status %s", missionID, status)
			}
		}
	}
}
