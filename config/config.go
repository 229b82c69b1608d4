// Package config loads the daemon's static key/value startup block and
// validates it before the daemon is allowed to come up.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config mirrors the recognized keys of the external configuration contract.
type Config struct {
	PhysicalIface string `toml:"PHYSICAL_IFACE"`
	TunIface      string `toml:"TUN_IFACE"`

	HelloInterval time.Duration `toml:"HELLO_INTERVAL"`
	NeighborTTL   time.Duration `toml:"NEIGHBOR_TTL"`

	Alpha float64 `toml:"ALPHA"`
	Tau   float64 `toml:"TAU"`
	VInit float64 `toml:"V_INIT"`

	ArqRetryInterval time.Duration `toml:"ARQ_RETRY_INTERVAL"`
	ArqMaxRetries    int           `toml:"ARQ_MAX_RETRIES"`
	ArqFailReward    float64       `toml:"ARQ_FAIL_REWARD"`

	RewardWait        time.Duration `toml:"REWARD_WAIT"`
	HopRewardTimeout  float64       `toml:"HOP_REWARD_TIMEOUT"`

	PendingQueueMax int           `toml:"PENDING_QUEUE_MAX"`
	RREQDeadline    time.Duration `toml:"RREQ_DEADLINE"`

	LocalIPCPath string `toml:"LOCAL_IPC_PATH"`

	// ReliableSizeThreshold: datagrams at or above this many bytes use
	// RELIABLE_DATA instead of plain UNICAST. Zero disables the
	// size-based choice (plain UNICAST always), letting an operator pin
	// reliability to an inner-protocol classifier instead.
	ReliableSizeThreshold int `toml:"RELIABLE_SIZE_THRESHOLD"`
}

// Default returns the configuration the CLI falls back to when no file is
// given; every field is set explicitly here, including the ones whose
// default is zero (V_INIT, RELIABLE_SIZE_THRESHOLD).
func Default() *Config {
	return &Config{
		PhysicalIface: "wlan0",
		TunIface:      "adhoc0",

		HelloInterval: 5 * time.Second,
		NeighborTTL:   15 * time.Second,

		Alpha: 0.3,
		Tau:   0.5,
		VInit: 0.0,

		ArqRetryInterval: 500 * time.Millisecond,
		ArqMaxRetries:    5,
		ArqFailReward:    -10.0,

		RewardWait:       2 * time.Second,
		HopRewardTimeout: -1.0,

		PendingQueueMax: 32,
		RREQDeadline:    3 * time.Second,

		LocalIPCPath: "/var/run/adhocd.sock",

		ReliableSizeThreshold: 0,
	}
}

// Load reads a TOML configuration file, overlaying it onto Default(), and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrConfigInvalid wraps every validation failure so callers (and the CLI's
// "start" path) can refuse to boot on an invalid configuration.
type ErrConfigInvalid struct {
	Reason string
}

func (e *ErrConfigInvalid) Error() string { return "config invalid: " + e.Reason }

// Validate checks that every field holds a sane value: the daemon must
// refuse to start rather than run with a nonsensical policy or timer.
func (c *Config) Validate() error {
	switch {
	case c.PhysicalIface == "":
		return &ErrConfigInvalid{"PHYSICAL_IFACE must not be empty"}
	case c.TunIface == "":
		return &ErrConfigInvalid{"TUN_IFACE must not be empty"}
	case c.HelloInterval <= 0:
		return &ErrConfigInvalid{"HELLO_INTERVAL must be positive"}
	case c.NeighborTTL <= 0:
		return &ErrConfigInvalid{"NEIGHBOR_TTL must be positive"}
	case c.Alpha <= 0 || c.Alpha > 1:
		return &ErrConfigInvalid{"ALPHA must be in (0, 1]"}
	case c.Tau <= 0:
		return &ErrConfigInvalid{"TAU must be > 0"}
	case c.ArqRetryInterval <= 0:
		return &ErrConfigInvalid{"ARQ_RETRY_INTERVAL must be positive"}
	case c.ArqMaxRetries < 0:
		return &ErrConfigInvalid{"ARQ_MAX_RETRIES must be >= 0"}
	case c.RewardWait <= 0:
		return &ErrConfigInvalid{"REWARD_WAIT must be positive"}
	case c.PendingQueueMax <= 0:
		return &ErrConfigInvalid{"PENDING_QUEUE_MAX must be positive"}
	case c.RREQDeadline <= 0:
		return &ErrConfigInvalid{"RREQ_DEADLINE must be positive"}
	case c.LocalIPCPath == "":
		return &ErrConfigInvalid{"LOCAL_IPC_PATH must not be empty"}
	}
	return nil
}
