// Roomcast relay — signaling server entry point.
//
// The relay never sees media. It admits participants into named rooms,
// broadcasts the room roster on every change, forwards targeted signaling
// envelopes (Offer/Answer/IceCandidate), and fans out chat.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/roomcast/internal/config"
	"github.com/1ureka/roomcast/internal/relay"
	"github.com/1ureka/roomcast/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	addr := flag.String("addr", "", "Listen address (overrides config, default :3030)")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Roomcast relay — v%s", version))
	pterm.Println()

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	srv := relay.NewServer(cfg)
	port, err := srv.Start()
	if err != nil {
		util.LogError("failed to start relay: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	util.StartStatsReporter(ctx)
	util.LogSuccess("relay listening on port %d (endpoint /ws)", port)

	<-ctx.Done()
	util.LogInfo("relay shutting down")
}
