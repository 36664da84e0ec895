package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "origin": {
    "rpc_url": "http://localhost:8545",
    "chain_id": 1337,
    "gateway": "0x000000000000000000000000000000000000a001",
    "anchor": "0x000000000000000000000000000000000000a0a0",
    "private_key": "0x01",
    "outbox_slot": 9,
    "inbox_slot": 10
  },
  "auxiliary": {
    "rpc_url": "http://localhost:9545",
    "chain_id": 1338,
    "gateway": "0x000000000000000000000000000000000000b001",
    "anchor": "0x000000000000000000000000000000000000b0a0",
    "private_key": "0x02",
    "outbox_slot": 9,
    "inbox_slot": 10
  },
  "network": {"delay_enabled": true, "min_delay_ms": 5, "max_delay_ms": 10},
  "journal_dir": "/tmp/journal",
  "port": 9000
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Origin.RPCURL)
	assert.Equal(t, uint64(1338), cfg.Auxiliary.ChainID)
	assert.Equal(t, uint64(9), cfg.Origin.OutboxSlot)
	assert.Equal(t, uint64(10), cfg.Auxiliary.InboxSlot)
	assert.Equal(t, 5.0, cfg.Origin.SubmitRate)
	assert.Equal(t, time.Second, cfg.Origin.ReceiptPollInterval())
	assert.True(t, cfg.Network.DelayEnabled)
	assert.Equal(t, 10*time.Second, cfg.Network.Timeout())
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout())
	require.NoError(t, cfg.ValidateLive())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FACILITATOR_ORIGIN_RPC_URL", "http://node:8545")
	t.Setenv("FACILITATOR_PORT", "9100")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.Origin.RPCURL)
	assert.Equal(t, 9100, cfg.Port)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "100", cfg.Simulation.Bounty)
	assert.Equal(t, uint64(7), cfg.Auxiliary.OutboxSlot)
	assert.Equal(t, "1000000000000000000000000", cfg.Simulation.Funds)
	assert.Error(t, cfg.ValidateLive(), "no endpoints configured")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"port": 70000}`))
	require.ErrorContains(t, err, "port")

	_, err = Load(writeConfig(t, `{"origin": {"outbox_slot": 8}}`))
	require.ErrorContains(t, err, "origin")

	_, err = Load(writeConfig(t, `{"origin": {"outbox_slot": 3}}`))
	require.ErrorContains(t, err, "share slot indices")

	_, err = Load(writeConfig(t, `{"simulation": {"accounts": ["0xabc"]}}`))
	require.ErrorContains(t, err, "simulation account")

	_, err = Load(writeConfig(t, `{"network": {"delay_enabled": true, "min_delay_ms": 20, "max_delay_ms": 10}}`))
	require.ErrorContains(t, err, "max_delay_ms")
}

func TestValidateLive(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	cfg.Auxiliary.Anchor = "nope"
	require.ErrorContains(t, cfg.ValidateLive(), "auxiliary: anchor")

	cfg.Auxiliary.Anchor = cfg.Origin.Anchor
	cfg.Origin.PrivateKey = ""
	require.ErrorContains(t, cfg.ValidateLive(), "private_key")
}
