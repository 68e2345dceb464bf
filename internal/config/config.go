package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/pkg/errors"
)

const privateKeyEnvPrefix = "ANSWERER_PRIVATE_KEY_"

var envOverrides = map[string]func(*Config, string){
	"DB_USERNAME":          func(c *Config, v string) { c.DB.Username = v },
	"DB_PASSWORD":          func(c *Config, v string) { c.DB.Password = v },
	"WEB3_STORAGE_API_KEY": func(c *Config, v string) { c.Web3Storage.APIKey = v },
}

type Config struct {
	DB          DB                     `toml:"db"`
	Timeout     TimeoutConfig          `toml:"timeout"`
	Logger      logger.Config          `toml:"logger"`
	API         API                    `toml:"api"`
	IPFS        IPFS                   `toml:"ipfs"`
	Web3Storage Web3Storage            `toml:"web3_storage"`
	DefiLlama   DefiLlama              `toml:"defillama"`
	Acknowledge Acknowledge            `toml:"acknowledge"`
	Chains      map[string]ChainConfig `toml:"chains"`
}

var DefaultConfig = Config{
	DB:          defaultDB,
	Timeout:     defaultTimeout,
	Logger:      logger.DefaultConfig(),
	API:         defaultAPI,
	IPFS:        defaultIPFS,
	Web3Storage: defaultWeb3Storage,
	DefiLlama:   defaultDefiLlama,
	Acknowledge: defaultAcknowledge,
}

type DB struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	DBName       string `toml:"db_name"`
	LogQueries   bool   `toml:"log_queries"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

var defaultDB = DB{
	Host:         "localhost",
	Port:         5432,
	MaxOpenConns: 20,
	MaxIdleConns: 5,
}

type TimeoutConfig struct {
	BackoffMaxElapsedTimeSeconds int    `toml:"backoff_max_elapsed_time_seconds"`
	RequestTimeoutMillis         int    `toml:"request_timeout_millis"`
	MaxAttempts                  uint64 `toml:"max_attempts"`
}

var defaultTimeout = TimeoutConfig{
	BackoffMaxElapsedTimeSeconds: 300,
	RequestTimeoutMillis:         10000,
	MaxAttempts:                  5,
}

type API struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

var defaultAPI = API{
	Host: "0.0.0.0",
	Port: 8080,
}

type IPFS struct {
	APIEndpoint string `toml:"api_endpoint"`
}

var defaultIPFS = IPFS{
	APIEndpoint: "http://127.0.0.1:5001",
}

// Web3Storage pinning is enabled only when APIKey is set.
type Web3Storage struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

var defaultWeb3Storage = Web3Storage{
	Endpoint: "https://api.web3.storage",
}

type DefiLlama struct {
	Endpoint          string  `toml:"endpoint"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

var defaultDefiLlama = DefiLlama{
	Endpoint:          "https://api.llama.fi",
	RequestsPerSecond: 5,
}

type Acknowledge struct {
	MaxConcurrency int `toml:"max_concurrency"`
}

var defaultAcknowledge = Acknowledge{
	MaxConcurrency: 16,
}

type ChainConfig struct {
	RPCEndpoint        string `toml:"rpc_endpoint"`
	TemplateID         uint64 `toml:"template_id"`
	AnswererPrivateKey string `toml:"answerer_private_key"`
	LogsBlocksRange    uint64 `toml:"logs_blocks_range"`
	PollIntervalMillis int    `toml:"poll_interval_millis"`
	MulticallAddress   string `toml:"multicall_address"`
	// AnswerTimeoutSeconds bounds one oracle's answer, from the finalized read
	// to the mined finalization receipt.
	AnswerTimeoutSeconds int           `toml:"answer_timeout_seconds"`
	Factory              FactoryConfig `toml:"factory"`
}

type FactoryConfig struct {
	Address         string `toml:"address"`
	DeploymentBlock uint64 `toml:"deployment_block"`
}

// Multicall3 is deployed at the same address on virtually every EVM chain.
const DefaultMulticallAddress = "0xcA11bde05977b3631167028862bE2a173976CA11"

func ReadFile(filepath string, cfg interface{}) error {
	_, err := toml.DecodeFile(filepath, cfg)
	return err
}

// Load reads the file on top of DefaultConfig, applies env overrides and
// checks the result.
func Load(filepath string) (*Config, error) {
	cfg := DefaultConfig
	if err := ReadFile(filepath, &cfg); err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", filepath)
	}

	cfg.ApplyEnvOverrides()
	cfg.applyChainDefaults()

	if err := CheckParameters(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) ApplyEnvOverrides() {
	for env, override := range envOverrides {
		if val, ok := os.LookupEnv(env); ok {
			override(cfg, val)
		}
	}

	for id, chain := range cfg.Chains {
		if val, ok := os.LookupEnv(privateKeyEnvPrefix + id); ok {
			chain.AnswererPrivateKey = val
			cfg.Chains[id] = chain
		}
	}
}

func (cfg *Config) applyChainDefaults() {
	for id, chain := range cfg.Chains {
		if chain.LogsBlocksRange == 0 {
			chain.LogsBlocksRange = 1000
		}
		if chain.PollIntervalMillis == 0 {
			chain.PollIntervalMillis = 2000
		}
		if chain.MulticallAddress == "" {
			chain.MulticallAddress = DefaultMulticallAddress
		}
		if chain.AnswerTimeoutSeconds == 0 {
			chain.AnswerTimeoutSeconds = 300
		}
		cfg.Chains[id] = chain
	}
}

func CheckParameters(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return errors.New("at least one chain must be configured")
	}

	for id, chain := range cfg.Chains {
		if _, err := ParseChainID(id); err != nil {
			return err
		}
		if chain.RPCEndpoint == "" {
			return errors.Errorf("chain %s: rpc_endpoint must be provided", id)
		}
		if chain.TemplateID == 0 {
			return errors.Errorf("chain %s: template_id should be set to a positive integer", id)
		}
		if !common.IsHexAddress(chain.Factory.Address) {
			return errors.Errorf("chain %s: invalid factory address %q", id, chain.Factory.Address)
		}
		if !common.IsHexAddress(chain.MulticallAddress) {
			return errors.Errorf("chain %s: invalid multicall address %q", id, chain.MulticallAddress)
		}
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(chain.AnswererPrivateKey, "0x")); err != nil {
			return errors.Errorf("chain %s: invalid answerer private key", id)
		}
		if chain.LogsBlocksRange == 0 {
			return errors.Errorf("chain %s: logs_blocks_range should be set to a positive integer", id)
		}
		if chain.AnswerTimeoutSeconds < 0 {
			return errors.Errorf("chain %s: answer_timeout_seconds should not be negative", id)
		}
	}

	if cfg.Acknowledge.MaxConcurrency <= 0 {
		return errors.New("acknowledge max_concurrency should be set to a positive integer")
	}

	return nil
}

// ParseChainID converts a [chains.<id>] table key to a chain id.
func ParseChainID(key string) (uint64, error) {
	id, err := strconv.ParseUint(key, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("invalid chain id %q", key)
	}

	return id, nil
}
