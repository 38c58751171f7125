package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"YieldRounds/internal/access"
	"YieldRounds/internal/engine"
	"YieldRounds/internal/swap"
	"YieldRounds/internal/vault"
)

// envPrefix prefixes every environment override.
const envPrefix = "YIELDD_"

var errInvalidConfig = errors.New("invalid config")

// Config holds the daemon configuration.
type Config struct {
	// ConfigPath is the optional YAML file read before env overrides.
	ConfigPath string `yaml:"-"`

	// DataPath is the directory for persistent storage. Empty keeps state in memory.
	DataPath string `yaml:"data"`

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string `yaml:"http"`

	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level"`

	// RestorePath is a snapshot file imported into an empty data dir at startup.
	RestorePath string `yaml:"-"`

	// Owner is the initial owner. It is ignored when existing state is restored.
	Owner string `yaml:"owner"`

	// Signers are the withdrawal approvers.
	Signers []string `yaml:"signers"`

	// Threshold is the number of approvals a withdrawal needs.
	Threshold int `yaml:"threshold"`

	// BLSKeys maps signer addresses to hex compressed public keys.
	BLSKeys map[string]string `yaml:"bls_keys"`

	Tokens TokenConfig `yaml:"tokens"`
	Swap   SwapConfig  `yaml:"swap"`
}

// TokenConfig names the assets the vault moves.
type TokenConfig struct {
	Native string `yaml:"native"`
	Yield  string `yaml:"yield"`
	Vault  string `yaml:"vault"`
}

// SwapConfig configures the built-in fixed-rate router.
type SwapConfig struct {
	RateNum uint64 `yaml:"rate_num"`
	RateDen uint64 `yaml:"rate_den"`
	FeeBps  uint64 `yaml:"fee_bps"`
}

// defaultConfig returns the values used when nothing overrides them.
func defaultConfig() *Config {
	return &Config{
		DataPath:    "./data",
		HTTPAddress: ":8080",
		LogLevel:    "info",
		Threshold:   1,
		Swap:        SwapConfig{RateNum: 1, RateDen: 1},
	}
}

// loadConfig builds the configuration from defaults, the YAML file, the
// environment and finally the flags set explicitly on the command line.
func loadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("yieldd", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	dataPath := fs.String("data", cfg.DataPath, "Data directory path (empty for in-memory)")
	httpAddr := fs.String("http", cfg.HTTPAddress, "HTTP API address")
	logLevel := fs.String("log-level", cfg.LogLevel, "Minimum log level (debug, info, warn, error)")
	restore := fs.String("restore", "", "Snapshot file to import into an empty data dir")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPath = *configPath
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = os.Getenv(envPrefix + "CONFIG")
	}

	if cfg.ConfigPath != "" {
		if err := cfg.loadFile(cfg.ConfigPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.DataPath = *dataPath
		case "http":
			cfg.HTTPAddress = *httpAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "restore":
			cfg.RestorePath = *restore
		}
	})

	return cfg, nil
}

// loadDotEnv loads .env from the working directory when present.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}

	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env:\n%w", err)
	}

	return nil
}

// loadFile decodes the YAML file at path over cfg.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config:\n%w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode config %s:\n%w", path, err)
	}

	return nil
}

// applyEnv overrides cfg with YIELDD_* variables found by lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATA":         &c.DataPath,
		"HTTP":         &c.HTTPAddress,
		"LOG_LEVEL":    &c.LogLevel,
		"RESTORE":      &c.RestorePath,
		"OWNER":        &c.Owner,
		"NATIVE_TOKEN": &c.Tokens.Native,
		"YIELD_TOKEN":  &c.Tokens.Yield,
		"VAULT":        &c.Tokens.Vault,
	}
	for name, dst := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(envPrefix + "SIGNERS"); ok {
		c.Signers = splitList(v)
	}

	if v, ok := lookup(envPrefix + "THRESHOLD"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sTHRESHOLD=%q", errInvalidConfig, envPrefix, v)
		}
		c.Threshold = n
	}

	nums := map[string]*uint64{
		"SWAP_RATE_NUM": &c.Swap.RateNum,
		"SWAP_RATE_DEN": &c.Swap.RateDen,
		"SWAP_FEE_BPS":  &c.Swap.FeeBps,
	}
	for name, dst := range nums {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}

		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q", errInvalidConfig, envPrefix, name, v)
		}
		*dst = n
	}

	return nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks addresses, quorum and swap parameters.
// The owner may be empty only when state is restored from disk.
func (c *Config) Validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("%w: empty http address", errInvalidConfig)
	}

	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("%w: owner %q", errInvalidConfig, c.Owner)
	}

	if len(c.Signers) == 0 {
		return fmt.Errorf("%w: no signers", errInvalidConfig)
	}

	distinct := make(map[common.Address]struct{}, len(c.Signers))
	for _, s := range c.Signers {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("%w: signer %q", errInvalidConfig, s)
		}
		distinct[common.HexToAddress(s)] = struct{}{}
	}

	if c.Threshold < 1 || c.Threshold > len(distinct) {
		return fmt.Errorf("%w: threshold %d of %d distinct signers", errInvalidConfig, c.Threshold, len(distinct))
	}

	for addr, key := range c.BLSKeys {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: bls key owner %q", errInvalidConfig, addr)
		}
		if _, ok := distinct[common.HexToAddress(addr)]; !ok {
			return fmt.Errorf("%w: bls key for non-signer %s", errInvalidConfig, addr)
		}
		if _, err := hexutil.Decode(key); err != nil {
			return fmt.Errorf("%w: bls key for %s: %v", errInvalidConfig, addr, err)
		}
	}

	tokens := []struct{ name, value string }{
		{"native token", c.Tokens.Native},
		{"yield token", c.Tokens.Yield},
		{"vault", c.Tokens.Vault},
	}
	for _, t := range tokens {
		if !common.IsHexAddress(t.value) || common.HexToAddress(t.value) == (common.Address{}) {
			return fmt.Errorf("%w: %s %q", errInvalidConfig, t.name, t.value)
		}
	}

	if strings.EqualFold(c.Tokens.Native, c.Tokens.Yield) {
		return fmt.Errorf("%w: native and yield tokens are the same", errInvalidConfig)
	}

	if c.Swap.RateNum == 0 || c.Swap.RateDen == 0 {
		return fmt.Errorf("%w: swap rate %d/%d", errInvalidConfig, c.Swap.RateNum, c.Swap.RateDen)
	}

	if c.Swap.FeeBps >= swap.BasisPoints {
		return fmt.Errorf("%w: swap fee %d bps", errInvalidConfig, c.Swap.FeeBps)
	}

	return nil
}

// vaultConfig returns the vault addresses. Call after Validate.
func (c *Config) vaultConfig() vault.Config {
	return vault.Config{
		Native: common.HexToAddress(c.Tokens.Native),
		Yield:  common.HexToAddress(c.Tokens.Yield),
		Self:   common.HexToAddress(c.Tokens.Vault),
	}
}

// swapConfig returns the router settings. Call after Validate.
func (c *Config) swapConfig() swap.Config {
	v := c.vaultConfig()

	return swap.Config{
		Native:  v.Native,
		Yield:   v.Yield,
		RateNum: c.Swap.RateNum,
		RateDen: c.Swap.RateDen,
		FeeBps:  c.Swap.FeeBps,
	}
}

// accessConfig returns the signer set. Call after Validate.
func (c *Config) accessConfig() access.Config {
	cfg := access.Config{Threshold: c.Threshold}

	for _, s := range c.Signers {
		cfg.Signers = append(cfg.Signers, common.HexToAddress(s))
	}

	if len(c.BLSKeys) > 0 {
		cfg.BLSKeys = make(map[common.Address][]byte, len(c.BLSKeys))
		for addr, key := range c.BLSKeys {
			cfg.BLSKeys[common.HexToAddress(addr)] = hexutil.MustDecode(key)
		}
	}

	return cfg
}

// engineConfig assembles the engine settings around the given collaborators.
func (c *Config) engineConfig(swapper vault.Swapper, transferer vault.Transferer) engine.Config {
	var owner common.Address
	if c.Owner != "" {
		owner = common.HexToAddress(c.Owner)
	}

	return engine.Config{
		Owner:      owner,
		Access:     c.accessConfig(),
		Vault:      c.vaultConfig(),
		Swapper:    swapper,
		Transferer: transferer,
	}
}
