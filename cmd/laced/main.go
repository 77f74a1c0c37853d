// Command laced runs the orchestration runtime as an HTTP server: the
// event-sourced thread store over SQLite, the session and task
// managers, the approval coordinator, and the SSE event stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/obra/lace-sub014/internal/agent"
	"github.com/obra/lace-sub014/internal/approval"
	"github.com/obra/lace-sub014/internal/compaction"
	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/logging"
	"github.com/obra/lace-sub014/internal/permission"
	"github.com/obra/lace-sub014/internal/provider"
	"github.com/obra/lace-sub014/internal/server"
	"github.com/obra/lace-sub014/internal/session"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/internal/threadstore"
	"github.com/obra/lace-sub014/internal/tool"
	"github.com/obra/lace-sub014/pkg/types"
)

var (
	port     = flag.Int("port", 8080, "Server port")
	laceHome = flag.String("home", "", "Lace home directory (default ~/.lace)")
	dbPath   = flag.String("db", "", "SQLite database path (default <home>/lace.db)")
	workDir  = flag.String("directory", "", "Working directory for tools")
	logLevel = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	version  = flag.Bool("version", false, "Print version and exit")
)

const Version = "0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("laced %s\n", Version)
		os.Exit(0)
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(*logLevel),
		Pretty: true,
	})

	home := *laceHome
	if home == "" {
		if userHome, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(userHome, ".lace")
		} else {
			home = ".lace"
		}
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		logging.Fatal().Err(err).Str("home", home).Msg("cannot create lace home")
	}

	database := *dbPath
	if database == "" {
		database = filepath.Join(home, "lace.db")
	}

	dir := *workDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			logging.Fatal().Err(err).Msg("cannot determine working directory")
		}
	}

	logging.Info().Str("version", Version).Str("db", database).Str("dir", dir).Msg("starting laced")

	ctx := context.Background()

	store := storage.Open(database)
	defer store.Close()

	bus := event.NewBus()
	defer bus.Close()

	providers := provider.InitializeFromEnv(ctx)
	if len(providers.List()) == 0 {
		logging.Warn().Msg("no provider credentials found; agents cannot run turns")
	}

	strategies := compaction.Default(summarizer(providers))
	threads := threadstore.New(store, bus, strategies)
	coordinator := approval.New(threads)
	policy := permission.NewPolicy()

	registry := tool.DefaultRegistry(dir)
	executor := tool.NewExecutor(registry, policy, coordinator)

	sessions := session.NewManager(session.ManagerConfig{
		Store:     store,
		Threads:   threads,
		Bus:       bus,
		Providers: providers,
		Profiles:  agent.NewRegistry(),
		Policy:    policy,
		Executor:  executor,
	})
	registry.RegisterDelegate(sessions)

	cfg := server.DefaultConfig()
	cfg.Port = *port
	srv := server.New(cfg, store, threads, sessions, coordinator, bus)

	go func() {
		if err := srv.Start(); err != nil {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown error")
	}
}

// summarizer backs the summarize compaction strategy with the first
// adapter providers.List returns. That order is not defined, so with
// several adapters registered the choice among them is arbitrary.
func summarizer(providers *provider.Registry) compaction.Summarizer {
	return func(ctx context.Context, events []types.Event) (string, error) {
		adapters := providers.List()
		if len(adapters) == 0 {
			return "", fmt.Errorf("no provider available for summarization")
		}
		adapter := adapters[0]

		messages := []*schema.Message{
			schema.SystemMessage("Summarize the following conversation excerpt in a short paragraph. Preserve decisions, file names, and open questions; drop tool output details."),
		}
		messages = append(messages, provider.BuildMessages(events)...)

		stream, err := adapter.CreateResponse(ctx, &provider.Request{Messages: messages})
		if err != nil {
			return "", err
		}
		for range stream.Deltas() {
		}
		resp, err := stream.Wait(ctx)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Text), nil
	}
}
