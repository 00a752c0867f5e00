package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"custodia/crypto"
	"custodia/native/escrow"
	"custodia/native/fees"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration. Addresses are bech32 strings
// and are decoded by Validate before the node wires its engines.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`
	InMemoryState  bool   `toml:"InMemoryState"`

	Owner        string `toml:"Owner"`
	Oracle       string `toml:"Oracle"`
	Arbiter      string `toml:"Arbiter"`
	FeeRecipient string `toml:"FeeRecipient"`
	FeeBps       uint32 `toml:"FeeBps"`

	RPCAuthToken string `toml:"RPCAuthToken"`

	TimelockDelaySeconds int64 `toml:"TimelockDelaySeconds"`

	Escrow EscrowConfig `toml:"escrow"`
}

// EscrowConfig overrides the engine defaults when non-zero.
type EscrowConfig struct {
	DefaultExpirySeconds  int64  `toml:"DefaultExpirySeconds"`
	OracleTimeoutSeconds  int64  `toml:"OracleTimeoutSeconds"`
	ChallengeStake        string `toml:"ChallengeStake"`
	ChallengeWindow       uint64 `toml:"ChallengeWindow"`
	ResponseWindow        uint64 `toml:"ResponseWindow"`
	ChallengeCooldownSecs int64  `toml:"ChallengeCooldownSeconds"`
	MaxEvidenceBytes      int    `toml:"MaxEvidenceBytes"`
}

// EscrowParams folds the configured overrides onto the engine defaults.
func (c *EscrowConfig) EscrowParams() escrow.Params {
	params := escrow.DefaultParams()
	if c.DefaultExpirySeconds > 0 {
		params.DefaultExpiry = c.DefaultExpirySeconds
	}
	if c.OracleTimeoutSeconds > 0 {
		params.OracleTimeout = c.OracleTimeoutSeconds
	}
	if stake := strings.TrimSpace(c.ChallengeStake); stake != "" {
		if v, ok := new(big.Int).SetString(stake, 10); ok {
			params.ChallengeStake = v
		}
	}
	if c.ChallengeWindow > 0 {
		params.ChallengeWindow = c.ChallengeWindow
	}
	if c.ResponseWindow > 0 {
		params.ResponseWindow = c.ResponseWindow
	}
	if c.ChallengeCooldownSecs > 0 {
		params.ChallengeCooldown = c.ChallengeCooldownSecs
	}
	if c.MaxEvidenceBytes > 0 {
		params.MaxEvidenceBytes = c.MaxEvidenceBytes
	}
	return params
}

// Load reads the configuration at path, creating a commented default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks address encodings and numeric bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	if !c.InMemoryState && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"Owner", c.Owner},
		{"Oracle", c.Oracle},
		{"Arbiter", c.Arbiter},
	} {
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if c.FeeBps > 0 {
		if _, err := crypto.DecodeAddress(c.FeeRecipient); err != nil {
			return fmt.Errorf("FeeRecipient: %w", err)
		}
		if c.FeeBps > fees.MaxFeeBps {
			return fmt.Errorf("FeeBps %d exceeds maximum %d", c.FeeBps, fees.MaxFeeBps)
		}
	}
	if c.TimelockDelaySeconds < 0 {
		return fmt.Errorf("TimelockDelaySeconds must not be negative")
	}
	if stake := strings.TrimSpace(c.Escrow.ChallengeStake); stake != "" {
		v, ok := new(big.Int).SetString(stake, 10)
		if !ok || v.Sign() <= 0 {
			return fmt.Errorf("ChallengeStake must be a positive base-10 integer")
		}
	}
	return nil
}

// OwnerAddress returns the decoded owner address. Validate must have passed.
func (c *Config) OwnerAddress() [20]byte   { return mustRaw(c.Owner) }
func (c *Config) OracleAddress() [20]byte  { return mustRaw(c.Oracle) }
func (c *Config) ArbiterAddress() [20]byte { return mustRaw(c.Arbiter) }

// FeePolicy builds the fee schedule. Fees stay disabled at zero bps.
func (c *Config) FeePolicy() fees.Policy {
	if c.FeeBps == 0 {
		return fees.Policy{}
	}
	return fees.Policy{FeeBps: c.FeeBps, Recipient: mustRaw(c.FeeRecipient)}
}

func mustRaw(s string) [20]byte {
	addr, err := crypto.DecodeAddress(s)
	if err != nil {
		panic(fmt.Sprintf("config: address %q not validated: %v", s, err))
	}
	return addr.Raw()
}

func createDefault(path string) (*Config, error) {
	ownerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	oracleKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	arbiterKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:           ":8080",
		GatewayAddress:       ":8082",
		DataDir:              "./custodia-data",
		Owner:                ownerKey.Address().String(),
		Oracle:               oracleKey.Address().String(),
		Arbiter:              arbiterKey.Address().String(),
		TimelockDelaySeconds: 48 * 60 * 60,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
