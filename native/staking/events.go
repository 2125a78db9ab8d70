package staking

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypePoolCreated is emitted when an admin provisions a new pool.
	TypePoolCreated = "staking.pool.created"
	// TypePoolStatusChanged is emitted when a pool is (de)activated.
	TypePoolStatusChanged = "staking.pool.statusChanged"
	// TypeStaked captures a successful deposit into a position.
	TypeStaked = "staking.staked"
	// TypeWithdrawn captures a successful withdrawal from a position.
	TypeWithdrawn = "staking.withdrawn"
	// TypeRewardsClaimed is emitted when pending rewards are paid out.
	TypeRewardsClaimed = "staking.rewardsClaimed"
	// TypeRewardRateUpdated captures an admin rate change.
	TypeRewardRateUpdated = "staking.rewardRateUpdated"
)

// Event is the broadcastable payload appended to the state's event sink.
type Event struct {
	Type       string
	Attributes map[string]string
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func poolCreatedEvent(pool *Pool, caller common.Address) *Event {
	return &Event{Type: TypePoolCreated, Attributes: map[string]string{
		"pool":         pool.ID,
		"stakingAsset": pool.StakingAsset,
		"rewardAsset":  pool.RewardAsset,
		"rewardRate":   formatAmount(pool.RewardRate),
		"lockup":       strconv.FormatUint(pool.LockupSeconds, 10),
		"minStake":     formatAmount(pool.MinStake),
		"caller":       caller.Hex(),
	}}
}

func poolStatusEvent(pool *Pool, caller common.Address) *Event {
	return &Event{Type: TypePoolStatusChanged, Attributes: map[string]string{
		"pool":   pool.ID,
		"active": strconv.FormatBool(pool.Active),
		"caller": caller.Hex(),
	}}
}

func stakedEvent(pos *Position, amount *big.Int, total *big.Int) *Event {
	return &Event{Type: TypeStaked, Attributes: map[string]string{
		"pool":        pos.PoolID,
		"account":     pos.Account.Hex(),
		"amount":      formatAmount(amount),
		"newAmount":   formatAmount(pos.Amount),
		"totalStaked": formatAmount(total),
	}}
}

func withdrawnEvent(pos *Position, amount *big.Int, total *big.Int) *Event {
	return &Event{Type: TypeWithdrawn, Attributes: map[string]string{
		"pool":        pos.PoolID,
		"account":     pos.Account.Hex(),
		"amount":      formatAmount(amount),
		"newAmount":   formatAmount(pos.Amount),
		"totalStaked": formatAmount(total),
	}}
}

func rewardsClaimedEvent(pos *Position, paid *big.Int) *Event {
	return &Event{Type: TypeRewardsClaimed, Attributes: map[string]string{
		"pool":    pos.PoolID,
		"account": pos.Account.Hex(),
		"amount":  formatAmount(paid),
	}}
}

func rateUpdatedEvent(pool *Pool, previous *big.Int, caller common.Address) *Event {
	return &Event{Type: TypeRewardRateUpdated, Attributes: map[string]string{
		"pool":     pool.ID,
		"previous": formatAmount(previous),
		"rate":     formatAmount(pool.RewardRate),
		"caller":   caller.Hex(),
	}}
}
