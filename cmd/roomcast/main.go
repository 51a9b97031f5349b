// Roomcast — client CLI entry point.
//
// Joins a named room through a relay, negotiates a direct media link with
// every other participant, and carries room chat. It can be launched
// interactively (no flags) or non-interactively via CLI flags
// (-url, -name, -room).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/roomcast/internal/config"
	"github.com/1ureka/roomcast/internal/media"
	"github.com/1ureka/roomcast/internal/session"
	"github.com/1ureka/roomcast/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	relayURLFlag := flag.String("url", "", "Relay WebSocket URL to connect to")
	nameFlag := flag.String("name", "", "Display name")
	roomFlag := flag.String("room", "", "Room to join")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Roomcast — v%s", version))
	pterm.Println()

	cfg, err := config.LoadSession(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	relayURL := *relayURLFlag
	if relayURL == "" {
		relayURL = cfg.RelayURL
	}

	name, room := *nameFlag, *roomFlag

	// Missing parameters fall back to interactive prompts.
	if relayURL == "" {
		relayURL = askURL()
	}
	normalized, err := normalizeWSURL(relayURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	cfg.RelayURL = normalized

	if name == "" {
		name = askText("Display name")
	}
	if room == "" {
		room = askText("Room to join")
	}

	run(ctx, cfg, name, room)
}

// run drives one session until Ctrl+C or relay loss.
func run(ctx context.Context, cfg config.Session, name, room string) {
	sess := session.New(cfg, media.NewPionEngine(cfg.STUNServers))

	lost := make(chan struct{})
	sess.OnRoster = func(users []string) {
		util.LogInfo("room now has %d participant(s)", len(users))
	}
	sess.OnChat = func(entry session.ChatEntry) {
		pterm.Printf("[%s] %s\n", entry.Author, entry.Content)
	}
	sess.OnPeerConnected = func(id string) {
		util.LogSuccess("media link up with %s", id)
	}
	sess.OnPeerClosed = func(id string) {
		util.LogInfo("media link closed with %s", id)
	}
	sess.OnRemoteTrack = func(id, trackID string) {
		util.LogInfo("receiving track %s from %s", trackID, id)
	}
	sess.OnDisconnected = func(err error) {
		util.LogError("disconnected from relay: %v", err)
		close(lost)
	}

	if !sess.Initialize(ctx, name, room) {
		util.LogError("failed to join room %q", room)
		os.Exit(1)
	}
	defer sess.Disconnect()

	util.LogSuccess("connected — type a message and press Enter (Ctrl+C to leave)")

	// Feed stdin lines as chat.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if text := strings.TrimSpace(line); text != "" {
				sess.SendChat(text)
			}

		case <-lost:
			return

		case <-ctx.Done():
			util.LogInfo("leaving room %q", room)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askText prompts the user until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if value := strings.TrimSpace(raw); value != "" {
			pterm.Println()
			return value
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. ws://localhost:3030)").
			Show()

		if _, err := normalizeWSURL(raw); err == nil {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
