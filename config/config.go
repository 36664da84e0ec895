// Package config loads facilitator settings from a JSON file with
// FACILITATOR_* environment overrides, e.g. FACILITATOR_ORIGIN_RPC_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACILITATOR"

// DefaultPath is read by LoadDefault when it exists.
const DefaultPath = "config/config.json"

// Config holds all configurable parameters of the facilitator.
type Config struct {
	Origin           LedgerConfig     `json:"origin" mapstructure:"origin"`
	Auxiliary        LedgerConfig     `json:"auxiliary" mapstructure:"auxiliary"`
	Network          NetworkConfig    `json:"network" mapstructure:"network"`
	Simulation       SimulationConfig `json:"simulation" mapstructure:"simulation"`
	// JournalDir holds the LevelDB step journal; empty keeps it in memory.
	JournalDir       string           `json:"journal_dir" mapstructure:"journal_dir"`
	Port             int              `json:"port" mapstructure:"port"`
	RequestTimeoutMs int              `json:"request_timeout_ms" mapstructure:"request_timeout_ms"`
}

// LedgerConfig describes one side's node and contracts.
type LedgerConfig struct {
	RPCURL     string `json:"rpc_url" mapstructure:"rpc_url"`
	ChainID    uint64 `json:"chain_id" mapstructure:"chain_id"`
	Gateway    string `json:"gateway" mapstructure:"gateway"`
	Anchor     string `json:"anchor" mapstructure:"anchor"`
	OutboxSlot uint64 `json:"outbox_slot" mapstructure:"outbox_slot"`
	InboxSlot  uint64 `json:"inbox_slot" mapstructure:"inbox_slot"`

	// PrivateKey is the hex secp256k1 key of the facilitator account.
	PrivateKey    string  `json:"private_key" mapstructure:"private_key"`
	SubmitRate    float64 `json:"submit_rate" mapstructure:"submit_rate"` // transactions per second
	ReceiptPollMs int     `json:"receipt_poll_ms" mapstructure:"receipt_poll_ms"`
}

// NetworkConfig holds network-level configuration for JSON-RPC clients.
type NetworkConfig struct {
	DelayEnabled bool `json:"delay_enabled" mapstructure:"delay_enabled"`
	MinDelayMs   int  `json:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs   int  `json:"max_delay_ms" mapstructure:"max_delay_ms"`
	TimeoutMs    int  `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// SimulationConfig parameterizes the in-memory ledger pair of --simulated.
type SimulationConfig struct {
	Bounty string `json:"bounty" mapstructure:"bounty"`
	Retain uint64 `json:"retain" mapstructure:"retain"`
	// Accounts are funded with value tokens, base tokens and auxiliary
	// native balance at startup.
	Accounts []string `json:"accounts" mapstructure:"accounts"`
	Funds    string   `json:"funds" mapstructure:"funds"`
}

func defaults(v *viper.Viper) {
	for _, side := range []string{"origin", "auxiliary"} {
		v.SetDefault(side+".rpc_url", "")
		v.SetDefault(side+".chain_id", 0)
		v.SetDefault(side+".gateway", "")
		v.SetDefault(side+".anchor", "")
		v.SetDefault(side+".outbox_slot", 7)
		v.SetDefault(side+".inbox_slot", 8)
		v.SetDefault(side+".private_key", "")
		v.SetDefault(side+".submit_rate", 5.0)
		v.SetDefault(side+".receipt_poll_ms", 1000)
	}
	v.SetDefault("network.delay_enabled", false)
	v.SetDefault("network.min_delay_ms", 0)
	v.SetDefault("network.max_delay_ms", 0)
	v.SetDefault("network.timeout_ms", 10000)
	v.SetDefault("simulation.bounty", "100")
	v.SetDefault("simulation.retain", 0)
	v.SetDefault("simulation.funds", "1000000000000000000000000")
	v.SetDefault("journal_dir", "")
	v.SetDefault("port", 8080)
	v.SetDefault("request_timeout_ms", 120000)
}

// Load reads configPath, then applies environment overrides. An empty path
// yields defaults plus environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads DefaultPath if it exists, defaults otherwise.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(DefaultPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Load("")
		}
		return nil, err
	}
	return Load(DefaultPath)
}

// Validate checks settings shared by live and simulated modes.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive")
	}
	if c.Network.DelayEnabled && c.Network.MaxDelayMs < c.Network.MinDelayMs {
		return fmt.Errorf("network.max_delay_ms %d below min_delay_ms %d", c.Network.MaxDelayMs, c.Network.MinDelayMs)
	}
	for name, l := range map[string]LedgerConfig{"origin": c.Origin, "auxiliary": c.Auxiliary} {
		if l.OutboxSlot == l.InboxSlot {
			return fmt.Errorf("%s: outbox_slot and inbox_slot are both %d", name, l.OutboxSlot)
		}
	}
	if c.Origin.OutboxSlot != c.Auxiliary.OutboxSlot || c.Origin.InboxSlot != c.Auxiliary.InboxSlot {
		return errors.New("gateway and co-gateway must share slot indices")
	}
	for _, a := range c.Simulation.Accounts {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("simulation account %q is not a hex address", a)
		}
	}
	return nil
}

// ValidateLive checks what dialing real ledgers requires.
func (c *Config) ValidateLive() error {
	for name, l := range map[string]LedgerConfig{"origin": c.Origin, "auxiliary": c.Auxiliary} {
		if err := l.validateLive(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (l LedgerConfig) validateLive() error {
	if l.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if l.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	for field, addr := range map[string]string{"gateway": l.Gateway, "anchor": l.Anchor} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s %q is not a hex address", field, addr)
		}
	}
	if l.PrivateKey == "" {
		return errors.New("private_key is required")
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (n NetworkConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

func (l LedgerConfig) ReceiptPollInterval() time.Duration {
	return time.Duration(l.ReceiptPollMs) * time.Millisecond
}
