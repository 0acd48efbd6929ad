// Command emactl is the thin CLI surface spec.md §6 names as an external
// collaborator ("snapshot create/restore, REPL"): it talks to the same
// document store and server registry the core exposes, without pulling
// any snapshot or conversation logic into the core packages themselves.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"goa.design/clue/log"

	"github.com/Reynold-degenracy/EverMindAgent/internal/actor"
	"github.com/Reynold-degenracy/EverMindAgent/internal/config"
	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/server"
	"github.com/Reynold-degenracy/EverMindAgent/internal/store"
	"github.com/Reynold-degenracy/EverMindAgent/internal/telemetry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/wiring"
)

func main() {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "snapshot":
		runSnapshot(ctx, os.Args[2:])
	case "repl":
		runRepl(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: emactl snapshot create|restore -config <path> -file <path>")
	fmt.Fprintln(os.Stderr, "       emactl repl -config <path> -user <id> -actor <id> -conversation <id>")
}

func runSnapshot(ctx context.Context, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	mode := args[0]
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	configPathF := fs.String("config", "", "path to the YAML configuration file")
	fileF := fs.String("file", "", "snapshot JSON file path")
	_ = fs.Parse(args[1:])

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load configuration: %w", err))
	}
	doc, err := wiring.BuildStore(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build document store: %w", err))
	}

	switch mode {
	case "create":
		snap, err := doc.SnapshotAll(ctx, store.StableCollections)
		if err != nil {
			log.Fatal(ctx, fmt.Errorf("snapshot: %w", err))
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			log.Fatal(ctx, fmt.Errorf("encode snapshot: %w", err))
		}
		if err := os.WriteFile(*fileF, data, 0o600); err != nil {
			log.Fatal(ctx, fmt.Errorf("write snapshot file: %w", err))
		}
		log.Print(ctx, log.KV{K: "msg", V: "snapshot written"}, log.KV{K: "file", V: *fileF})
	case "restore":
		data, err := os.ReadFile(*fileF)
		if err != nil {
			log.Fatal(ctx, fmt.Errorf("read snapshot file: %w", err))
		}
		var snap store.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Fatal(ctx, fmt.Errorf("decode snapshot: %w", err))
		}
		if err := doc.RestoreAll(ctx, snap); err != nil {
			log.Fatal(ctx, fmt.Errorf("restore: %w", err))
		}
		log.Print(ctx, log.KV{K: "msg", V: "snapshot restored"}, log.KV{K: "file", V: *fileF})
	default:
		usage()
		os.Exit(2)
	}
}

// runRepl drives a single Actor Worker interactively: each line of stdin
// becomes one Work() call, and actor events print to stdout as they
// arrive.
func runRepl(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	configPathF := fs.String("config", "", "path to the YAML configuration file")
	userF := fs.Int("user", 1, "user id")
	actorF := fs.Int("actor", 1, "actor id")
	conversationF := fs.Int("conversation", 1, "conversation id")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load configuration: %w", err))
	}

	tel := telemetry.NewClue("emactl")
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
	systemPromptTemplate := wiring.LoadSystemPromptTemplate(cfg, nil)
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

	worker, err := registry.GetActor(ctx, *userF, *actorF, *conversationF)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("get actor: %w", err))
	}
	worker.On(func(e actor.Event) {
		switch e.Kind {
		case actor.EventKindMessage:
			fmt.Println(e.Message)
		case actor.EventKindAgent:
			if e.Agent != nil && e.Agent.EmaReply != nil {
				fmt.Printf("ema> %s\n", e.Agent.EmaReply.Reply.Response)
			}
		}
	})

	fmt.Println("emactl repl — type a message and press enter, Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := worker.Work(ctx, []contentmodel.Content{contentmodel.NewText(line)}); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		for worker.IsBusy() {
			time.Sleep(20 * time.Millisecond)
		}
	}
}
