package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool captures the global accrual state for a staking pool. Amount values
// are denominated in base units and expressed as big integers to keep the
// reward arithmetic deterministic.
type Pool struct {
	// ID uniquely identifies the pool across the ledger.
	ID string
	// StakingAsset references the asset participants deposit.
	StakingAsset string
	// RewardAsset references the asset the pool pays out.
	RewardAsset string
	// RewardRate is the reward emission per second, constant until changed.
	RewardRate *big.Int
	// RewardPerTokenStored is the cumulative reward per staked unit, scaled
	// by Precision. Monotonically non-decreasing while TotalStaked > 0.
	RewardPerTokenStored *big.Int
	// LastUpdateTime records the unix timestamp of the last checkpoint.
	LastUpdateTime uint64
	// TotalStaked is the sum of all active position amounts.
	TotalStaked *big.Int
	// LockupSeconds is the minimum duration a position must remain staked
	// before a withdrawal is permitted.
	LockupSeconds uint64
	// MinStake is the smallest amount accepted by a single stake call.
	MinStake *big.Int
	// Active gates new stakes. Withdrawals and claims remain possible on a
	// deactivated pool so funds are never trapped.
	Active bool
	// CreatedAt records the unix timestamp of pool creation.
	CreatedAt uint64
}

// Clone returns a deep copy of the pool to avoid mutating shared pointers.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	if p.RewardRate != nil {
		clone.RewardRate = new(big.Int).Set(p.RewardRate)
	}
	if p.RewardPerTokenStored != nil {
		clone.RewardPerTokenStored = new(big.Int).Set(p.RewardPerTokenStored)
	}
	if p.TotalStaked != nil {
		clone.TotalStaked = new(big.Int).Set(p.TotalStaked)
	}
	if p.MinStake != nil {
		clone.MinStake = new(big.Int).Set(p.MinStake)
	}
	return &clone
}

// Position maintains the stake state for a single (pool, account) pair.
type Position struct {
	// PoolID identifies the pool the position belongs to.
	PoolID string
	// Account is the participant that owns the position.
	Account common.Address
	// Amount is the currently staked balance.
	Amount *big.Int
	// StakedAt is the unix timestamp of the first stake since the last full
	// withdrawal. The lockup clock is anchored here; partial withdrawals and
	// additional stakes never reset it.
	StakedAt uint64
	// RewardPerTokenPaid snapshots Pool.RewardPerTokenStored at the
	// position's last checkpoint.
	RewardPerTokenPaid *big.Int
	// PendingRewards holds rewards earned but not yet claimed, banked at the
	// last checkpoint.
	PendingRewards *big.Int
	// Active is false once the position has been fully withdrawn. A later
	// stake reactivates it and restarts the lockup clock.
	Active bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	}
	if p.RewardPerTokenPaid != nil {
		clone.RewardPerTokenPaid = new(big.Int).Set(p.RewardPerTokenPaid)
	}
	if p.PendingRewards != nil {
		clone.PendingRewards = new(big.Int).Set(p.PendingRewards)
	}
	return &clone
}

// PoolSpec carries the parameters for creating a new pool. When ID is empty
// the engine assigns a random identifier.
type PoolSpec struct {
	ID           string
	StakingAsset string
	RewardAsset  string
	RewardRate   *big.Int
	LockupPeriod uint64
	MinStake     *big.Int
}

// StakeInfo summarises a position for account queries.
type StakeInfo struct {
	PoolID       string   `json:"poolId"`
	Account      string   `json:"account"`
	Amount       *big.Int `json:"amount"`
	StakedAt     uint64   `json:"stakedAt"`
	LockupEndsAt uint64   `json:"lockupEndsAt"`
	Earned       *big.Int `json:"earned"`
	Active       bool     `json:"active"`
	ComputedAt   uint64   `json:"computedAt"`
}
