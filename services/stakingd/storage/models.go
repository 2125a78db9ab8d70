package storage

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/native/staking"
)

type poolRow struct {
	ID                   string `gorm:"primaryKey;size:64"`
	StakingAsset         string `gorm:"size:32;not null"`
	RewardAsset          string `gorm:"size:32;not null"`
	RewardRate           string `gorm:"size:80;not null"`
	RewardPerTokenStored string `gorm:"size:80;not null"`
	LastUpdateTime       uint64
	TotalStaked          string `gorm:"size:80;not null"`
	LockupSeconds        uint64
	MinStake             string `gorm:"size:80;not null"`
	Active               bool
	CreatedAtUnix        uint64
	UpdatedAt            time.Time
}

func (poolRow) TableName() string { return "pools" }

type positionRow struct {
	PoolID             string `gorm:"primaryKey;size:64"`
	Account            string `gorm:"primaryKey;size:42"`
	Amount             string `gorm:"size:80;not null"`
	StakedAt           uint64
	RewardPerTokenPaid string `gorm:"size:80;not null"`
	PendingRewards     string `gorm:"size:80;not null"`
	Active             bool
	UpdatedAt          time.Time
}

func (positionRow) TableName() string { return "positions" }

type accountRow struct {
	Address   string `gorm:"primaryKey;size:42"`
	Asset     string `gorm:"primaryKey;size:32"`
	Balance   string `gorm:"size:80;not null"`
	UpdatedAt time.Time
}

func (accountRow) TableName() string { return "accounts" }

// IdempotencyKey stores the replayable response for a mutating request.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:256"`
	Status    int
	Response  string
	CreatedAt time.Time
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }

type eventRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"size:64;index"`
	Attributes string
	CreatedAt  time.Time
}

func (eventRow) TableName() string { return "events" }

func parseAmount(field, raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("decode %s: malformed amount %q", field, raw)
	}
	return v, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (r *poolRow) toPool() (*staking.Pool, error) {
	rate, err := parseAmount("reward_rate", r.RewardRate)
	if err != nil {
		return nil, err
	}
	stored, err := parseAmount("reward_per_token_stored", r.RewardPerTokenStored)
	if err != nil {
		return nil, err
	}
	total, err := parseAmount("total_staked", r.TotalStaked)
	if err != nil {
		return nil, err
	}
	minStake, err := parseAmount("min_stake", r.MinStake)
	if err != nil {
		return nil, err
	}
	return &staking.Pool{
		ID:                   r.ID,
		StakingAsset:         r.StakingAsset,
		RewardAsset:          r.RewardAsset,
		RewardRate:           rate,
		RewardPerTokenStored: stored,
		LastUpdateTime:       r.LastUpdateTime,
		TotalStaked:          total,
		LockupSeconds:        r.LockupSeconds,
		MinStake:             minStake,
		Active:               r.Active,
		CreatedAt:            r.CreatedAtUnix,
	}, nil
}

func fromPool(pool *staking.Pool) poolRow {
	return poolRow{
		ID:                   pool.ID,
		StakingAsset:         pool.StakingAsset,
		RewardAsset:          pool.RewardAsset,
		RewardRate:           formatAmount(pool.RewardRate),
		RewardPerTokenStored: formatAmount(pool.RewardPerTokenStored),
		LastUpdateTime:       pool.LastUpdateTime,
		TotalStaked:          formatAmount(pool.TotalStaked),
		LockupSeconds:        pool.LockupSeconds,
		MinStake:             formatAmount(pool.MinStake),
		Active:               pool.Active,
		CreatedAtUnix:        pool.CreatedAt,
		UpdatedAt:            time.Now().UTC(),
	}
}

func (r *positionRow) toPosition() (*staking.Position, error) {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return nil, err
	}
	paid, err := parseAmount("reward_per_token_paid", r.RewardPerTokenPaid)
	if err != nil {
		return nil, err
	}
	pending, err := parseAmount("pending_rewards", r.PendingRewards)
	if err != nil {
		return nil, err
	}
	return &staking.Position{
		PoolID:             r.PoolID,
		Account:            common.HexToAddress(r.Account),
		Amount:             amount,
		StakedAt:           r.StakedAt,
		RewardPerTokenPaid: paid,
		PendingRewards:     pending,
		Active:             r.Active,
	}, nil
}

func fromPosition(pos *staking.Position) positionRow {
	return positionRow{
		PoolID:             pos.PoolID,
		Account:            pos.Account.Hex(),
		Amount:             formatAmount(pos.Amount),
		StakedAt:           pos.StakedAt,
		RewardPerTokenPaid: formatAmount(pos.RewardPerTokenPaid),
		PendingRewards:     formatAmount(pos.PendingRewards),
		Active:             pos.Active,
		UpdatedAt:          time.Now().UTC(),
	}
}
