package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"arbor/internal/config"
	"arbor/internal/provider/providersetup"
	"arbor/internal/service/streaming"
	"arbor/internal/session"
	"arbor/internal/snapshot"
	"arbor/internal/tree"

	"github.com/joho/godotenv"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Terminal chat REPL over the in-memory engine. Useful for poking at
// branching behavior without a browser: every reply streams live, and
// /tree shows the structure as it grows.
type CLI struct {
	sessions *session.Registry
	service  *streaming.Service
	sess     *session.Session
	model    string
	scanner  *bufio.Scanner
	logger   *slog.Logger
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	// Keep the console clean; structured logs go to a file
	logFile, err := config.SetupLogFile("logs", 5)
	if err != nil {
		fmt.Printf("%s❌ Failed to setup logging: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	defer func() { _ = logFile.Close() }()
	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))

	providers, err := providersetup.Setup(cfg.AnthropicAPIKey, logger)
	if err != nil {
		fmt.Printf("%s❌ Failed to setup providers: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	sessions := session.NewRegistry()
	streams := streaming.NewRegistry(time.Minute)
	service := streaming.NewService(sessions, providers, streams, cfg.DefaultModel, logger)

	cli := &CLI{
		sessions: sessions,
		service:  service,
		sess:     sessions.Create("CLI session"),
		model:    cfg.DefaultModel,
		scanner:  bufio.NewScanner(os.Stdin),
		logger:   logger,
	}
	cli.run()
}

func (cli *CLI) run() {
	fmt.Printf("\n%s╔══════════════════════════════════════╗%s\n", colorCyan, colorReset)
	fmt.Printf("%s║        Arbor Chat CLI                ║%s\n", colorCyan, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════╝%s\n", colorCyan, colorReset)
	fmt.Printf("Model: %s%s%s  (commands: /tree /path /model /export /quit)\n\n", colorYellow, cli.model, colorReset)

	for {
		fmt.Printf("%syou>%s ", colorGreen, colorReset)
		if !cli.scanner.Scan() {
			return
		}
		line := strings.TrimSpace(cli.scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return
		case line == "/tree":
			cli.printTree()
		case line == "/path":
			cli.printPath()
		case strings.HasPrefix(line, "/model "):
			cli.model = strings.TrimSpace(strings.TrimPrefix(line, "/model "))
			fmt.Printf("model set to %s%s%s\n", colorYellow, cli.model, colorReset)
		case line == "/export":
			cli.export()
		case strings.HasPrefix(line, "/"):
			fmt.Printf("%sunknown command%s\n", colorRed, colorReset)
		default:
			cli.send(line)
		}
	}
}

// send creates a turn and streams the reply to the terminal
func (cli *CLI) send(text string) {
	content, _ := json.Marshal(text)
	req := &streaming.CreateTurnRequest{
		SessionID: cli.sess.ID,
		Content:   content,
		Model:     cli.model,
	}

	resp, err := cli.service.CreateTurn(context.Background(), req)
	if err != nil {
		fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}

	events, replay, unsubscribe, err := cli.service.Subscribe(resp.AssistantNode.ID)
	if err != nil {
		fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}
	defer unsubscribe()

	fmt.Printf("%sassistant>%s ", colorBlue, colorReset)
	for _, raw := range replay {
		cli.printEvent(raw)
	}
	for raw := range events {
		cli.printEvent(raw)
	}
	fmt.Println()
}

// printEvent decodes one SSE-formatted event and renders the delta
func (cli *CLI) printEvent(raw string) {
	eventType, data, ok := parseSSE(raw)
	if !ok {
		return
	}

	switch eventType {
	case streaming.SSEEventNodeDelta:
		var delta streaming.NodeDeltaEvent
		if err := json.Unmarshal(data, &delta); err == nil && delta.ContentDelta != nil {
			fmt.Print(*delta.ContentDelta)
		}
	case streaming.SSEEventNodeComplete:
		var done streaming.NodeCompleteEvent
		if err := json.Unmarshal(data, &done); err == nil {
			fmt.Printf("\n%s[%s, %d tokens]%s", colorYellow, done.StopReason, done.OutputTokens, colorReset)
		}
	case streaming.SSEEventNodeError:
		var evErr streaming.NodeErrorEvent
		if err := json.Unmarshal(data, &evErr); err == nil {
			fmt.Printf("\n%s❌ %s%s", colorRed, evErr.Error, colorReset)
		}
	}
}

// parseSSE splits an "event: X\ndata: {...}" frame
func parseSSE(raw string) (string, []byte, bool) {
	var eventType string
	var data string
	for _, line := range strings.Split(raw, "\n") {
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
	if eventType == "" || data == "" {
		return "", nil, false
	}
	return eventType, []byte(data), true
}

func (cli *CLI) printTree() {
	cli.sess.View(func(s *tree.Store) {
		fmt.Printf("%s%d nodes, %d roots%s\n", colorCyan, s.Len(), len(s.Roots()), colorReset)
		for _, rootID := range s.Roots() {
			cli.printSubtree(s, rootID, 0)
		}
	})
}

func (cli *CLI) printSubtree(s *tree.Store, id string, depth int) {
	node, ok := s.Get(id)
	if !ok {
		return
	}
	text := tree.PlainText(node.Content)
	if len(text) > 60 {
		text = text[:60] + "…"
	}
	fmt.Printf("%s%s[%s]%s %s\n", strings.Repeat("  ", depth), colorYellow, node.Role, colorReset, text)
	for _, edge := range s.Edges() {
		if edge.FromID == id {
			cli.printSubtree(s, edge.ToID, depth+1)
		}
	}
}

func (cli *CLI) printPath() {
	for _, turn := range cli.sess.ActivePath() {
		fmt.Printf("%s%s:%s %s\n", colorYellow, turn.Role, colorReset, tree.PlainText(turn.Content))
	}
}

func (cli *CLI) export() {
	snap := cli.sess.Export()
	name := snapshot.Filename(snap.ExportedAt)
	f, err := os.Create(name)
	if err != nil {
		fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}
	fmt.Printf("%s✅ exported %s%s\n", colorGreen, name, colorReset)
}
