// Package config loads the workstation and relay server configuration
// files: YAML on disk, struct-tagged, with programmatic defaults applied
// after unmarshal and environment overrides for secrets, matching the
// teacher's own internal/config shape.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// WorkstationConfig is cmd/sessiond's configuration: the session
// manager's own tuning, the relay client's connection, the local PTY
// spawner's IPC socket, storage, and an optional bundled chat adapter.
type WorkstationConfig struct {
	Host    HostConfig    `yaml:"host"`
	Manager ManagerConfig `yaml:"manager"`
	Relay   RelayClientConfig `yaml:"relay"`
	IPC     IPCConfig     `yaml:"ipc"`
	Storage StorageConfig `yaml:"storage"`
	Adapter AdapterConfig `yaml:"adapter"`
}

type HostConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ManagerConfig holds tuning values for the session manager's
// discovery/tailing loop. manager.New takes no configuration: the manager
// runs on its own constants (pollInterval, inputCRDelay, idleGracePeriod),
// which equal these defaults, and the values loaded here are not passed
// to it.
type ManagerConfig struct {
	PollIntervalMs  int `yaml:"poll_interval_ms"`
	InputCRDelayMs  int `yaml:"input_cr_delay_ms"`
	IdleGraceMs     int `yaml:"idle_grace_ms"`
}

// RelayClientConfig is the workstation-side relay link's connection.
type RelayClientConfig struct {
	WSURL              string `yaml:"ws_url"`
	Token              string `yaml:"token"`
	ReconnectBackoffMs []int  `yaml:"reconnect_backoff_ms"`
}

// IPCConfig is the local rendezvous socket the PTY spawner and SM share.
type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StorageConfig struct {
	StateDir         string `yaml:"state_dir"`
	OutboundQueueMax int    `yaml:"outbound_queue_max"`
}

// AdapterConfig configures the optional bundled chat adapter. LedgerTTLMs
// is loaded and defaulted but not passed to adapter.NewRunner, whose echo
// ledger always uses adapter.DefaultLedgerTTL.
type AdapterConfig struct {
	Enabled         bool `yaml:"enabled"`
	ChunkLimit      int  `yaml:"chunk_limit"`
	RatePerSecond   int  `yaml:"rate_per_second"`
	LedgerTTLMs     int  `yaml:"ledger_ttl_ms"`
}

func LoadWorkstationConfig(path string) (*WorkstationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg WorkstationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Manager.PollIntervalMs == 0 {
		cfg.Manager.PollIntervalMs = 1000
	}
	if cfg.Manager.InputCRDelayMs == 0 {
		cfg.Manager.InputCRDelayMs = 50
	}
	if cfg.Manager.IdleGraceMs == 0 {
		cfg.Manager.IdleGraceMs = 5 * 60 * 1000
	}
	if cfg.IPC.SocketPath == "" {
		cfg.IPC.SocketPath = "/var/run/sessiond/ipc.sock"
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "/var/lib/sessiond"
	}
	if cfg.Storage.OutboundQueueMax == 0 {
		cfg.Storage.OutboundQueueMax = 50000
	}
	if len(cfg.Relay.ReconnectBackoffMs) == 0 {
		cfg.Relay.ReconnectBackoffMs = []int{1000, 2000, 4000, 8000, 10000, 10000, 10000, 10000, 10000, 10000}
	}
	if cfg.Adapter.ChunkLimit == 0 {
		cfg.Adapter.ChunkLimit = 4000
	}
	if cfg.Adapter.RatePerSecond == 0 {
		cfg.Adapter.RatePerSecond = 10
	}
	if cfg.Adapter.LedgerTTLMs == 0 {
		cfg.Adapter.LedgerTTLMs = 2 * 60 * 1000
	}

	if envToken := os.Getenv("AGENTRELAY_TOKEN"); envToken != "" {
		cfg.Relay.Token = envToken
	}

	return &cfg, nil
}

// RelayServerConfig is cmd/relayd's configuration: the HTTP listen
// address and the static token->principal table used when no external
// identity provider is configured.
type RelayServerConfig struct {
	Listen  string            `yaml:"listen"`
	Tokens  map[string]string `yaml:"tokens"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func LoadRelayServerConfig(path string) (*RelayServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RelayServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Listen == "" {
		cfg.Listen = ":8443"
	}
	if cfg.Tokens == nil {
		cfg.Tokens = make(map[string]string)
	}

	if envToken := os.Getenv("AGENTRELAY_BOOTSTRAP_TOKEN"); envToken != "" {
		cfg.Tokens[envToken] = "bootstrap"
	}

	return &cfg, nil
}
