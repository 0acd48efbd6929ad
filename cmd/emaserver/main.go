// Command emaserver wires the core components (spec.md §1-§6) into a
// running process: configuration, telemetry, document store, LLM client,
// tool registry, server registry, and job scheduler. Flag parsing and the
// signal-driven graceful shutdown sequence follow the teacher's
// example/cmd/assistant/main.go; unlike the teacher this process does not
// itself terminate HTTP/gRPC traffic — spec.md §6 treats the transport and
// CLI surfaces as external collaborators, so this binary's job ends at
// standing up the core and waiting for a signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/Reynold-degenracy/EverMindAgent/internal/actor"
	"github.com/Reynold-degenracy/EverMindAgent/internal/config"
	"github.com/Reynold-degenracy/EverMindAgent/internal/scheduler"
	"github.com/Reynold-degenracy/EverMindAgent/internal/server"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/wiring"
)

func main() {
	configPathF := flag.String("config", "", "path to the YAML configuration file")
	dbgF := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load configuration: %w", err))
	}

	tel := telemetry.NewClue("emaserver")

	doc, err := wiring.BuildStore(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build document store: %w", err))
	}
	conv := store.NewConversationStore(doc)
	if err := conv.EnsureIndexes(ctx); err != nil {
		log.Fatal(ctx, fmt.Errorf("ensure conversation indexes: %w", err))
	}

	llmClient, err := wiring.BuildLLMClient(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build LLM client: %w", err))
	}

	systemPromptTemplate := wiring.LoadSystemPromptTemplate(cfg, func(err error) {
		log.Error(ctx, err, log.KV{K: "msg", V: "read system prompt file, falling back to default"})
	})
	tools := wiring.BuildTools(cfg)

	factory := func(key actor.Key, userName string) actor.Config {
		return actor.Config{
			Key:                  key,
			SystemPromptTemplate: wiring.RenderSystemPrompt(systemPromptTemplate, userName),
			MemoryBufferSize:     cfg.Agent.MemoryBufferSize,
			MaxSteps:             cfg.Agent.MaxSteps,
			Tools:                tools,
			LLMClient:            llmClient,
			Conversation:         conv,
			Telemetry:            tel,
		}
	}

	registry := server.New(doc, factory, tel.Logger)

	lock, err := wiring.BuildSchedulerLock(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build scheduler lock: %w", err))
	}
	sched := scheduler.New(doc, lock, tel.Logger, scheduler.Config{})
	if err := sched.Start(ctx, map[string]scheduler.Handler{}); err != nil {
		log.Fatal(ctx, fmt.Errorf("start scheduler: %w", err))
	}

	log.Print(ctx, log.KV{K: "actors", V: registry.Len()}, log.KV{K: "chatProvider", V: cfg.LLM.ChatProvider})

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "scheduler stop"})
	}
	log.Printf(ctx, "exited")
}
