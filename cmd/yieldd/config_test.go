package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/access"
)

const (
	addrOwner  = "0x00000000000000000000000000000000000000f0"
	addrSigner = "0x0000000000000000000000000000000000000051"
	addrOther  = "0x0000000000000000000000000000000000000052"
	addrNative = "0x0000000000000000000000000000000000001001"
	addrYield  = "0x0000000000000000000000000000000000001002"
	addrVault  = "0x0000000000000000000000000000000000001003"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Owner = addrOwner
	cfg.Signers = []string{addrSigner, addrOther}
	cfg.Threshold = 2
	cfg.Tokens = TokenConfig{Native: addrNative, Yield: addrYield, Vault: addrVault}
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	return path
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no signers", func(c *Config) { c.Signers = nil }},
		{"bad signer", func(c *Config) { c.Signers = []string{"0x123"} }},
		{"threshold zero", func(c *Config) { c.Threshold = 0 }},
		{"threshold above distinct", func(c *Config) { c.Signers = []string{addrSigner, addrSigner} }},
		{"bad owner", func(c *Config) { c.Owner = "owner" }},
		{"missing vault", func(c *Config) { c.Tokens.Vault = "" }},
		{"zero native", func(c *Config) { c.Tokens.Native = "0x0000000000000000000000000000000000000000" }},
		{"same tokens", func(c *Config) { c.Tokens.Yield = addrNative }},
		{"zero rate", func(c *Config) { c.Swap.RateDen = 0 }},
		{"full fee", func(c *Config) { c.Swap.FeeBps = 10_000 }},
		{"bls key for stranger", func(c *Config) { c.BLSKeys = map[string]string{addrOwner: "0x01"} }},
		{"bls key not hex", func(c *Config) { c.BLSKeys = map[string]string{addrSigner: "zz"} }},
		{"no http", func(c *Config) { c.HTTPAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			if err := cfg.Validate(); !errors.Is(err, errInvalidConfig) {
				t.Errorf("expected errInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateAllowsMissingOwner(t *testing.T) {
	cfg := validConfig()
	cfg.Owner = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty owner rejected: %v", err)
	}

	if owner := cfg.engineConfig(nil, nil).Owner; owner != (common.Address{}) {
		t.Errorf("expected zero owner, got %s", owner.Hex())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "yieldd.yaml", `
owner: "`+addrOwner+`"
signers:
  - "`+addrSigner+`"
  - "`+addrOther+`"
threshold: 2
tokens:
  native: "`+addrNative+`"
  yield: "`+addrYield+`"
  vault: "`+addrVault+`"
swap:
  rate_num: 9
  rate_den: 10
  fee_bps: 30
`)

	cfg, err := loadConfig([]string{"-config", path, "-http", ":9999"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.HTTPAddress != ":9999" {
		t.Errorf("expected flag to win, got %s", cfg.HTTPAddress)
	}
	if cfg.DataPath != "./data" {
		t.Errorf("expected default data path, got %s", cfg.DataPath)
	}

	sc := cfg.swapConfig()
	if sc.RateNum != 9 || sc.RateDen != 10 || sc.FeeBps != 30 {
		t.Errorf("unexpected swap config: %+v", sc)
	}

	ac := cfg.accessConfig()
	if len(ac.Signers) != 2 || ac.Threshold != 2 {
		t.Errorf("unexpected access config: %+v", ac)
	}

	vc := cfg.vaultConfig()
	if vc.Self != common.HexToAddress(addrVault) {
		t.Errorf("unexpected vault address %s", vc.Self.Hex())
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeFile(t, "bad.yaml", "threshold: [1, 2")
	if _, err := loadConfig([]string{"-config", path}); err == nil {
		t.Error("expected error for malformed yaml")
	}

	if _, err := loadConfig([]string{"-unknown"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"YIELDD_SIGNERS":       addrSigner + ", " + addrOther + ",",
		"YIELDD_THRESHOLD":     "2",
		"YIELDD_OWNER":         addrOwner,
		"YIELDD_SWAP_RATE_NUM": "4",
		"YIELDD_DATA":          "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := defaultConfig()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}

	if len(cfg.Signers) != 2 || cfg.Signers[1] != addrOther {
		t.Errorf("unexpected signers %v", cfg.Signers)
	}
	if cfg.Threshold != 2 || cfg.Owner != addrOwner {
		t.Errorf("unexpected threshold/owner %d %s", cfg.Threshold, cfg.Owner)
	}
	if cfg.Swap.RateNum != 4 || cfg.Swap.RateDen != 1 {
		t.Errorf("unexpected swap rate %d/%d", cfg.Swap.RateNum, cfg.Swap.RateDen)
	}
	if cfg.DataPath != "" {
		t.Errorf("expected in-memory data path, got %q", cfg.DataPath)
	}

	env = map[string]string{"YIELDD_THRESHOLD": "two"}
	if err := defaultConfig().applyEnv(lookup); !errors.Is(err, errInvalidConfig) {
		t.Errorf("expected errInvalidConfig, got %v", err)
	}
}

func TestAccessConfigBLSKeys(t *testing.T) {
	key, err := access.DeriveBLSKey([]byte("daemon signer"))
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	cfg := validConfig()
	cfg.BLSKeys = map[string]string{addrSigner: "0x" + common.Bytes2Hex(key.PublicKeyBytes())}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ac := cfg.accessConfig()
	if _, err := access.New(ac); err != nil {
		t.Fatalf("access config rejected: %v", err)
	}

	if got := ac.BLSKeys[common.HexToAddress(addrSigner)]; string(got) != string(key.PublicKeyBytes()) {
		t.Error("bls key not decoded")
	}
}

func TestNodeInMemory(t *testing.T) {
	cfg := validConfig()
	cfg.DataPath = ""
	cfg.HTTPAddress = "127.0.0.1:0"

	node, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	if node.engine == nil || node.api == nil {
		t.Fatal("node not wired")
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
