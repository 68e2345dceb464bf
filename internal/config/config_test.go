package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

const testConfig = `
[db]
host = "db.internal"
username = "answerer"
db_name = "oracles"

[timeout]
max_attempts = 3

[chains.10]
rpc_endpoint = "https://mainnet.optimism.io"
template_id = 7
answerer_private_key = "` + testKey + `"

[chains.10.factory]
address = "0x00000000000000000000000000000000000000fa"
deployment_block = 100

[chains.100]
rpc_endpoint = "https://rpc.gnosischain.com"
template_id = 3
logs_blocks_range = 500
multicall_address = "0x00000000000000000000000000000000000000cc"

[chains.100.factory]
address = "0x00000000000000000000000000000000000000fb"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig(t *testing.T) {
	out, err := json.MarshalIndent(DefaultConfig, "", "  ")
	require.NoError(t, err)

	cupaloy.SnapshotT(t, string(out))
}

func TestLoad(t *testing.T) {
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("ANSWERER_PRIVATE_KEY_100", testKey)

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "hunter2", cfg.DB.Password)
	assert.Equal(t, uint64(3), cfg.Timeout.MaxAttempts)
	assert.Equal(t, 300, cfg.Timeout.BackoffMaxElapsedTimeSeconds)

	require.Len(t, cfg.Chains, 2)
	optimism := cfg.Chains["10"]
	assert.Equal(t, uint64(7), optimism.TemplateID)
	assert.Equal(t, uint64(100), optimism.Factory.DeploymentBlock)
	assert.Equal(t, uint64(1000), optimism.LogsBlocksRange)
	assert.Equal(t, 2000, optimism.PollIntervalMillis)
	assert.Equal(t, DefaultMulticallAddress, optimism.MulticallAddress)
	assert.Equal(t, 300, optimism.AnswerTimeoutSeconds)

	gnosis := cfg.Chains["100"]
	assert.Equal(t, testKey, gnosis.AnswererPrivateKey)
	assert.Equal(t, uint64(500), gnosis.LogsBlocksRange)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", gnosis.MulticallAddress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "could not read config file")
}

func TestLoadRejectsMissingKey(t *testing.T) {
	_, err := Load(writeConfig(t, testConfig))
	assert.EqualError(t, err, "chain 100: invalid answerer private key")
}

func validConfig() Config {
	cfg := DefaultConfig
	cfg.Chains = map[string]ChainConfig{
		"10": {
			RPCEndpoint:        "https://mainnet.optimism.io",
			TemplateID:         7,
			AnswererPrivateKey: testKey,
			LogsBlocksRange:    1000,
			MulticallAddress:   DefaultMulticallAddress,
			Factory:            FactoryConfig{Address: "0x00000000000000000000000000000000000000fa"},
		},
	}

	return cfg
}

func TestCheckParameters(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "no chains", modify: func(c *Config) { c.Chains = nil }, err: "at least one chain must be configured"},
		{name: "bad chain id", modify: func(c *Config) { c.Chains["optimism"] = c.Chains["10"] }, err: `invalid chain id "optimism"`},
		{name: "no rpc", modify: func(c *Config) { chain := c.Chains["10"]; chain.RPCEndpoint = ""; c.Chains["10"] = chain }, err: "chain 10: rpc_endpoint must be provided"},
		{name: "no template", modify: func(c *Config) { chain := c.Chains["10"]; chain.TemplateID = 0; c.Chains["10"] = chain }, err: "chain 10: template_id should be set to a positive integer"},
		{name: "bad factory", modify: func(c *Config) { chain := c.Chains["10"]; chain.Factory.Address = "0x1"; c.Chains["10"] = chain }, err: `chain 10: invalid factory address "0x1"`},
		{name: "zero range", modify: func(c *Config) { chain := c.Chains["10"]; chain.LogsBlocksRange = 0; c.Chains["10"] = chain }, err: "chain 10: logs_blocks_range should be set to a positive integer"},
		{name: "negative answer timeout", modify: func(c *Config) { chain := c.Chains["10"]; chain.AnswerTimeoutSeconds = -1; c.Chains["10"] = chain }, err: "chain 10: answer_timeout_seconds should not be negative"},
		{name: "no concurrency", modify: func(c *Config) { c.Acknowledge.MaxConcurrency = 0 }, err: "acknowledge max_concurrency should be set to a positive integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := CheckParameters(&cfg)
			if tt.err == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.err)
			}
		})
	}
}

func TestParseChainID(t *testing.T) {
	id, err := ParseChainID("137")
	require.NoError(t, err)
	assert.Equal(t, uint64(137), id)

	_, err = ParseChainID("0")
	assert.Error(t, err)
}
