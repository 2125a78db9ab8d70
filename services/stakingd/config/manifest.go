package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
)

// PoolsManifest declares the pools bootstrapped at startup.
type PoolsManifest struct {
	Pools []PoolDef `toml:"pool"`
}

// PoolDef is one pool declaration from the manifest.
type PoolDef struct {
	ID            string `toml:"id"`
	StakingAsset  string `toml:"staking_asset"`
	RewardAsset   string `toml:"reward_asset"`
	RewardRate    string `toml:"reward_rate"`
	MinStake      string `toml:"min_stake"`
	LockupSeconds uint64 `toml:"lockup_seconds"`
}

// LoadPoolsManifest reads and validates a TOML pool manifest.
func LoadPoolsManifest(path string) (PoolsManifest, error) {
	var manifest PoolsManifest
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return manifest, fmt.Errorf("decode pools manifest: %w", err)
	}
	seen := make(map[string]struct{}, len(manifest.Pools))
	for i, def := range manifest.Pools {
		if strings.TrimSpace(def.ID) == "" {
			return manifest, fmt.Errorf("pool %d: id must be set", i)
		}
		if _, dup := seen[def.ID]; dup {
			return manifest, fmt.Errorf("pool %q declared twice", def.ID)
		}
		seen[def.ID] = struct{}{}
		if _, err := def.ParsedRewardRate(); err != nil {
			return manifest, fmt.Errorf("pool %q: %w", def.ID, err)
		}
		if _, err := def.ParsedMinStake(); err != nil {
			return manifest, fmt.Errorf("pool %q: %w", def.ID, err)
		}
	}
	return manifest, nil
}

// ParsedRewardRate returns the reward rate as an integer amount.
func (d PoolDef) ParsedRewardRate() (*big.Int, error) {
	return parseManifestAmount("reward_rate", d.RewardRate)
}

// ParsedMinStake returns the minimum stake as an integer amount.
func (d PoolDef) ParsedMinStake() (*big.Int, error) {
	return parseManifestAmount("min_stake", d.MinStake)
}

func parseManifestAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s must be set", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is not a non-negative integer", field, raw)
	}
	return value, nil
}
