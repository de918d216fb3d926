// Command relayd is the Relay Server: it authenticates workstation and
// viewer WebSocket links, fans session lifecycle and transcript events
// out to subscribed viewers, and serves the pairing/device HTTP surface
// plus Prometheus metrics. Subcommand dispatch follows the teacher's own
// cmd/agentd.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-command/sessionrelay/internal/auth"
	"github.com/agent-command/sessionrelay/internal/config"
	"github.com/agent-command/sessionrelay/internal/metrics"
	"github.com/agent-command/sessionrelay/internal/push"
	"github.com/agent-command/sessionrelay/internal/relay"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "-version") {
		fmt.Printf("relayd version %s\n", Version)
		return
	}
	if len(os.Args) > 1 && (os.Args[1] == "help" || os.Args[1] == "-h" || os.Args[1] == "--help") {
		printHelp()
		return
	}

	runDaemon()
}

func printHelp() {
	fmt.Println(`relayd - Agent Command relay server

Usage:
  relayd [command] [options]

Commands:
  (none)       Run as server (default)
  version      Show version information
  help         Show this help

Options:
  -config string  Path to config file (default "/etc/relayd/config.yaml")`)
}

func runDaemon() {
	configPath := flag.String("config", "/etc/relayd/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadRelayServerConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	verifier := auth.NewStaticVerifier(cfg.Tokens)
	server := relay.NewServer(verifier, m, push.LoggingDispatcher{})

	mux := http.NewServeMux()
	mux.Handle("/", server.Routes())
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	log.Printf("relayd %s listening on %s", Version, cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
		log.Fatalf("relayd: %v", err)
	}
}
