package consensus

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GenesisValidator is one validator entry of the genesis file.
type GenesisValidator struct {
	PK    string `yaml:"pk"`
	Stake uint64 `yaml:"stake"`
}

// GenesisConfig is the genesis file shared by every node of a
// simulation. It fixes the validator set, the protocol parameters and
// the seed of the epoch -1 RANDAO mix.
type GenesisConfig struct {
	Seed              string             `yaml:"seed"`
	Time              uint64             `yaml:"time"`
	SlotsPerEpoch     uint64             `yaml:"slots_per_epoch"`
	SlotDurationMS    uint64             `yaml:"slot_duration_ms"`
	MaxEffectiveStake uint64             `yaml:"max_effective_stake"`
	ReorgRetryLimit   int                `yaml:"reorg_retry_limit"`
	Validators        []GenesisValidator `yaml:"validators"`
}

// LoadGenesis reads and parses a genesis file.
func LoadGenesis(path string) (*GenesisConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var g GenesisConfig
	err = yaml.Unmarshal(b, &g)
	if err != nil {
		return nil, fmt.Errorf("parse genesis file: %w", err)
	}
	return &g, nil
}

// Save writes the genesis file.
func (g *GenesisConfig) Save(path string) error {
	b, err := yaml.Marshal(g)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Config returns the protocol configuration carried by the genesis
// file, with defaults for unset fields.
func (g *GenesisConfig) Config() Config {
	cfg := DefaultConfig()
	if g.SlotsPerEpoch > 0 {
		cfg.SlotsPerEpoch = g.SlotsPerEpoch
	}
	if g.SlotDurationMS > 0 {
		cfg.SlotDuration = time.Duration(g.SlotDurationMS) * time.Millisecond
	}
	if g.MaxEffectiveStake > 0 {
		cfg.MaxEffectiveStake = g.MaxEffectiveStake
	}
	if g.ReorgRetryLimit > 0 {
		cfg.ReorgRetryLimit = g.ReorgRetryLimit
	}
	return cfg
}

// ValidatorSet decodes the genesis validator entries, preserving
// their order.
func (g *GenesisConfig) ValidatorSet() (*ValidatorSet, error) {
	vs := make([]Validator, len(g.Validators))
	for i, v := range g.Validators {
		pk, err := hex.DecodeString(v.PK)
		if err != nil {
			return nil, fmt.Errorf("validator %d: bad public key: %w", i, err)
		}
		vs[i] = Validator{Addr: PK(pk).Addr(), PK: PK(pk), Stake: v.Stake}
	}
	return NewValidatorSet(vs), nil
}

// GenesisSeed returns the epoch -1 RANDAO mix.
func (g *GenesisConfig) GenesisSeed() Hash {
	return SHA3([]byte(g.Seed))
}

// GenesisBlock builds the deterministic genesis block every node
// starts from.
func (g *GenesisConfig) GenesisBlock() *Block {
	return &Block{
		TxnRoot: TxnRoot(nil),
		Time:    g.Time,
		Height:  0,
		Slot:    0,
	}
}
