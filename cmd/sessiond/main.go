// Command sessiond is the workstation daemon: it runs the Session Manager,
// the rendezvous socket PTY-spawned sessions announce themselves over, the
// relay client that carries the manager's event stream to the Relay Server,
// and (optionally) a bundled console chat adapter. Subcommand dispatch and
// the status/sessions query shape follow the teacher's own cmd/agentd.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agent-command/sessionrelay/internal/adapter"
	"github.com/agent-command/sessionrelay/internal/adapter/console"
	"github.com/agent-command/sessionrelay/internal/config"
	"github.com/agent-command/sessionrelay/internal/ipc"
	"github.com/agent-command/sessionrelay/internal/manager"
	"github.com/agent-command/sessionrelay/internal/ptyrun"
	"github.com/agent-command/sessionrelay/internal/queue"
	"github.com/agent-command/sessionrelay/internal/relay"
	"github.com/agent-command/sessionrelay/internal/relayclient"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runDaemon()
		return
	}

	switch os.Args[1] {
	case "status":
		runStatusCommand(os.Args[2:])
	case "sessions":
		runSessionsCommand(os.Args[2:])
	case "run":
		runSpawnCommand(os.Args[2:])
	case "version":
		fmt.Printf("sessiond version %s\n", Version)
	case "help", "-h", "--help":
		printHelp()
	default:
		runDaemon()
	}
}

func printHelp() {
	fmt.Println(`sessiond - Agent Command session manager daemon

Usage:
  sessiond [command] [options]

Commands:
  (none)       Run as daemon (default)
  run          Spawn a command under a PTY and announce it as a session
  status       Show manager status
  sessions     List this host's sessions via the relay (requires -config's relay section)
  version      Show version information
  help         Show this help

Daemon Options:
  -config string  Path to config file (default "/etc/sessiond/config.yaml")`)
}

func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", "/etc/sessiond/config.yaml", "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadWorkstationConfig(*configPath)
	if err != nil {
		if *jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.Encode(map[string]any{"error": err.Error()})
			return
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]any{
			"host_id":    cfg.Host.ID,
			"host_name":  cfg.Host.Name,
			"version":    Version,
			"relay_url":  cfg.Relay.WSURL,
			"ipc_socket": cfg.IPC.SocketPath,
			"state_dir":  cfg.Storage.StateDir,
			"adapter_on": cfg.Adapter.Enabled,
		})
		return
	}

	fmt.Printf("Session Manager Status\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Host ID:     %s\n", cfg.Host.ID)
	fmt.Printf("Host Name:   %s\n", cfg.Host.Name)
	fmt.Printf("Version:     %s\n", Version)
	fmt.Printf("Relay URL:   %s\n", cfg.Relay.WSURL)
	fmt.Printf("IPC Socket:  %s\n", cfg.IPC.SocketPath)
	fmt.Printf("State Dir:   %s\n", cfg.Storage.StateDir)
	fmt.Printf("Adapter:     %v\n", cfg.Adapter.Enabled)
}

// runSessionsCommand lists sessions the same way any viewer would: a
// short-lived authenticated relay connection that authenticates, asks
// for the session list, prints it, and disconnects. There is no local
// query path into a running sessiond's in-memory manager state, so this
// goes through the relay exactly as a real viewer client would.
func runSessionsCommand(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", "/etc/sessiond/config.yaml", "Path to config file")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Parse(args)

	cfg, err := config.LoadWorkstationConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	viewerURL := viewerWSURL(cfg.Relay.WSURL)
	conn, _, err := websocket.DefaultDialer.Dial(viewerURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to relay: %v", err)
	}
	defer conn.Close()

	authPayload, _ := json.Marshal(map[string]string{"token": cfg.Relay.Token})
	if err := conn.WriteJSON(relay.Frame{Type: relay.TypeAuth, Payload: authPayload}); err != nil {
		log.Fatalf("Failed to authenticate: %v", err)
	}
	conn.SetReadDeadline(timeNowPlus(5))
	var ack relay.Frame
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != relay.TypeAuthOK {
		log.Fatalf("Relay authentication failed (type=%q err=%v)", ack.Type, err)
	}

	if err := conn.WriteJSON(relay.Frame{Type: relay.TypeListSessions}); err != nil {
		log.Fatalf("Failed to request session list: %v", err)
	}
	conn.SetReadDeadline(timeNowPlus(5))
	var list relay.Frame
	if err := conn.ReadJSON(&list); err != nil || list.Type != relay.TypeSessionsList {
		log.Fatalf("Failed to read session list (type=%q err=%v)", list.Type, err)
	}

	var body struct {
		Sessions []struct {
			SessionID string `json:"sessionId"`
			Name      string `json:"name"`
			Status    string `json:"status"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(list.Payload, &body); err != nil {
		log.Fatalf("Failed to decode session list: %v", err)
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(body)
		return
	}

	if len(body.Sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	fmt.Printf("Sessions (%d total)\n", len(body.Sessions))
	for _, s := range body.Sessions {
		fmt.Printf("  %-36s %-10s %s\n", s.SessionID, s.Status, s.Name)
	}
}

// viewerWSURL rewrites a workstation link URL into the equivalent viewer
// endpoint, so the same Relay section of the config can drive both.
func viewerWSURL(workstationURL string) string {
	return strings.Replace(workstationURL, "/ws/workstation", "/ws/viewer", 1)
}

func timeNowPlus(seconds int) (t time.Time) {
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func runSpawnCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "/etc/sessiond/config.yaml", "Path to config file")
	name := fs.String("name", "", "Session display name")
	cwd := fs.String("cwd", "", "Session working directory (defaults to the current directory)")
	projectDir := fs.String("project-dir", "", "Directory the manager should watch for transcript files (defaults to cwd)")
	id := fs.String("id", "", "Session id (defaults to a generated one)")
	fs.Parse(args)

	command := fs.Args()
	if len(command) == 0 {
		log.Fatal("run: missing command to spawn, e.g. sessiond run -- claude")
	}

	cfg, err := config.LoadWorkstationConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("Failed to resolve working directory: %v", err)
		}
		*cwd = wd
	}
	if *projectDir == "" {
		*projectDir = *cwd
	}
	if *id == "" {
		*id = newSessionID()
	}
	if *name == "" {
		*name = command[0]
	}

	if err := ptyrun.Run(cfg.IPC.SocketPath, *id, *name, *cwd, *projectDir, command); err != nil {
		log.Fatalf("run: %v", err)
	}
}

func newSessionID() string {
	return uuid.NewString()
}

// ipcHandler bridges internal/ipc session announcements into the manager.
type ipcHandler struct {
	mgr *manager.Manager
}

func (h *ipcHandler) OnSessionStart(conn *ipc.Conn, id, name, cwd, projectDir string, command []string) {
	if _, err := h.mgr.Register(id, name, cwd, projectDir, command, conn); err != nil {
		log.Printf("sessiond: register %s: %v", id, err)
	}
}

func (h *ipcHandler) OnSessionEnd(conn *ipc.Conn, sessionID string) {
	h.mgr.End(sessionID)
}

func runDaemon() {
	configPath := flag.String("config", "/etc/sessiond/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadWorkstationConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mgr := manager.New()

	ipcServer, err := ipc.Listen(cfg.IPC.SocketPath, &ipcHandler{mgr: mgr})
	if err != nil {
		log.Fatalf("Failed to listen on ipc socket %s: %v", cfg.IPC.SocketPath, err)
	}
	go func() {
		if err := ipcServer.Serve(); err != nil {
			log.Printf("sessiond: ipc server stopped: %v", err)
		}
	}()

	relayClient := relayclient.NewClient(cfg.Relay.WSURL, cfg.Relay.Token, cfg.Relay.ReconnectBackoffMs)

	if outboundQueue, err := queue.NewQueue(cfg.Storage.StateDir, cfg.Storage.OutboundQueueMax); err == nil {
		relayClient.SetQueue(outboundQueue, cfg.Storage.StateDir)
		if lastAcked, err := queue.LoadAckedSeq(cfg.Storage.StateDir); err == nil {
			_ = outboundQueue.AckUpto(lastAcked)
			relayClient.SetLastAckedSeq(lastAcked)
		}
	} else {
		log.Printf("sessiond: outbound queue disabled: %v", err)
	}

	bridge := relayclient.NewBridge(relayClient, mgr)

	if cfg.Adapter.Enabled {
		// The manager has a single event stream; split it so the relay
		// bridge and the bundled adapter each see every event.
		toBridge := make(chan manager.Event, 1024)
		toAdapter := make(chan manager.Event, 1024)
		go func() {
			for ev := range mgr.Events() {
				toBridge <- ev
				toAdapter <- ev
			}
			close(toBridge)
			close(toAdapter)
		}()

		consoleAdapter := console.New(os.Stdout)
		runner := adapter.NewRunner(consoleAdapter, mgr, cfg.Adapter.ChunkLimit, cfg.Adapter.RatePerSecond)
		consoleAdapter.Bind(runner)
		go bridge.Run(toBridge)
		go runner.Run(toAdapter)
		go consoleAdapter.ReadInputLoop(os.Stdin)
	} else {
		go bridge.Run(mgr.Events())
	}

	if err := relayClient.Connect(); err != nil {
		log.Fatalf("Failed to connect to relay: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	relayClient.Close()
	ipcServer.Close()
}
