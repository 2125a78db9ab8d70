package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	nativecommon "stakeledger/native/common"
)

const moduleName = "staking"

// RoleStakingAdmin gates pool creation, (de)activation and rate changes.
const RoleStakingAdmin = "ROLE_STAKING_ADMIN"

// engineState describes the persistence the engine needs from its
// surroundings. Implementations must return deep-usable values; the engine
// never retains pointers it hands to Put.
type engineState interface {
	GetPool(id string) (*Pool, error)
	PutPool(pool *Pool) error
	GetPosition(poolID string, account common.Address) (*Position, error)
	PutPosition(position *Position) error
	AppendEvent(evt *Event)
}

// AssetLedger is the external custody collaborator. Transfers must be atomic
// and fail with ErrInsufficientBalance when the source cannot cover amount.
type AssetLedger interface {
	Transfer(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, asset string, account common.Address) (*big.Int, error)
}

// RoleChecker answers whether an account may perform an administrative action.
type RoleChecker interface {
	HasRole(role string, account common.Address) bool
}

// Clock supplies the ledger's only time source. Timestamps are assumed
// monotonic non-decreasing; a regression is treated as zero elapsed time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Engine orchestrates the staking reward ledger: it keeps pool and position
// accrual state consistent by checkpointing before every mutation, touching
// only the pool and at most one position per call.
type Engine struct {
	state   engineState
	assets  AssetLedger
	roles   RoleChecker
	clock   Clock
	pauses  nativecommon.PauseView
	custody common.Address

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	newPoolID func() string
}

// NewEngine constructs a staking engine that settles asset movements against
// the provided custody account.
func NewEngine(custody common.Address) *Engine {
	return &Engine{
		custody:   custody,
		clock:     ClockFunc(time.Now),
		newPoolID: uuid.NewString,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssetLedger wires the custody collaborator used for deposits and payouts.
func (e *Engine) SetAssetLedger(ledger AssetLedger) { e.assets = ledger }

// SetRoles wires the access-control collaborator for admin operations.
func (e *Engine) SetRoles(roles RoleChecker) { e.roles = roles }

// SetClock overrides the time source. Primarily used by tests and replays.
func (e *Engine) SetClock(clock Clock) {
	if clock != nil {
		e.clock = clock
	}
}

// SetPauses wires the operator pause switch consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) now() (uint64, error) {
	if e.clock == nil {
		return 0, errNilClock
	}
	ts := e.clock.Now().Unix()
	if ts < 0 {
		ts = 0
	}
	return uint64(ts), nil
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if e.roles == nil || !e.roles.HasRole(RoleStakingAdmin, caller) {
		return errNotAuthorized
	}
	return nil
}

// CreatePool provisions a new staking pool. Admin only. The reward rate and
// minimum stake must both be positive.
func (e *Engine) CreatePool(ctx context.Context, caller common.Address, spec PoolSpec) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return "", err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return "", err
	}
	if strings.TrimSpace(spec.StakingAsset) == "" || strings.TrimSpace(spec.RewardAsset) == "" {
		return "", errInvalidAsset
	}
	if spec.RewardRate == nil || spec.RewardRate.Sign() <= 0 {
		return "", errInvalidRewardRate
	}
	if spec.MinStake == nil || spec.MinStake.Sign() <= 0 {
		return "", errInvalidMinStake
	}
	if err := checkRange(spec.RewardRate, spec.MinStake); err != nil {
		return "", err
	}

	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = e.newPoolID()
	}
	ctx, release, err := e.acquire(ctx, id)
	if err != nil {
		return "", err
	}
	defer release()
	_ = ctx

	existing, err := e.state.GetPool(id)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", errPoolExists
	}
	now, err := e.now()
	if err != nil {
		return "", err
	}
	pool := &Pool{
		ID:                   id,
		StakingAsset:         strings.TrimSpace(spec.StakingAsset),
		RewardAsset:          strings.TrimSpace(spec.RewardAsset),
		RewardRate:           new(big.Int).Set(spec.RewardRate),
		RewardPerTokenStored: big.NewInt(0),
		LastUpdateTime:       now,
		TotalStaked:          big.NewInt(0),
		LockupSeconds:        spec.LockupPeriod,
		MinStake:             new(big.Int).Set(spec.MinStake),
		Active:               true,
		CreatedAt:            now,
	}
	if err := e.state.PutPool(pool); err != nil {
		return "", fmt.Errorf("persist pool: %w", err)
	}
	e.state.AppendEvent(poolCreatedEvent(pool, caller))
	return id, nil
}

// SetPoolActive toggles whether a pool accepts new stakes. Withdrawals and
// claims are unaffected. Admin only.
func (e *Engine) SetPoolActive(ctx context.Context, caller common.Address, poolID string, active bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	ctx, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()
	_ = ctx

	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	if err := e.checkpoint(pool, nil, now); err != nil {
		return err
	}
	pool.Active = active
	if err := e.state.PutPool(pool); err != nil {
		return fmt.Errorf("persist pool: %w", err)
	}
	e.state.AppendEvent(poolStatusEvent(pool, caller))
	return nil
}

// SetRewardRate checkpoints the pool and applies the new emission rate from
// that instant forward. Past accrual is never recomputed. Admin only. A zero
// rate is permitted and halts emissions until the next change.
func (e *Engine) SetRewardRate(ctx context.Context, caller common.Address, poolID string, rate *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if rate == nil || rate.Sign() < 0 {
		return errInvalidRewardRate
	}
	if err := checkRange(rate); err != nil {
		return err
	}
	ctx, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()
	_ = ctx

	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	if err := e.checkpoint(pool, nil, now); err != nil {
		return err
	}
	previous := new(big.Int).Set(pool.RewardRate)
	pool.RewardRate = new(big.Int).Set(rate)
	if err := e.state.PutPool(pool); err != nil {
		return fmt.Errorf("persist pool: %w", err)
	}
	e.state.AppendEvent(rateUpdatedEvent(pool, previous, caller))
	return nil
}

// Stake deposits amount into the caller's position. The deposit is pulled
// from the account into pool custody before the ledger state is persisted.
func (e *Engine) Stake(ctx context.Context, poolID string, account common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errAmountNotPositive
	}
	if err := checkRange(amount); err != nil {
		return err
	}
	ctx, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()

	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if !pool.Active {
		return errPoolInactive
	}
	if amount.Cmp(pool.MinStake) < 0 {
		return errBelowMinStake
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(poolID, account)
	if err != nil {
		return err
	}
	if err := e.checkpoint(pool, pos, now); err != nil {
		return err
	}

	newAmount := new(big.Int).Add(pos.Amount, amount)
	newTotal := new(big.Int).Add(pool.TotalStaked, amount)
	if err := checkRange(newAmount, newTotal); err != nil {
		return err
	}

	// Funds move into custody first; the reentry guard on ctx keeps a
	// transfer callback out of this pool's mutation path.
	if err := e.assets.Transfer(ctx, pool.StakingAsset, account, e.custody, amount); err != nil {
		return err
	}

	if pos.Amount.Sign() == 0 {
		// First stake or reactivation: the lockup clock restarts here.
		pos.StakedAt = now
	}
	pos.Amount = newAmount
	pos.Active = true
	pool.TotalStaked = newTotal

	if err := e.persistBoth(pool, pos); err != nil {
		refund := e.assets.Transfer(ctx, pool.StakingAsset, e.custody, account, amount)
		return errors.Join(err, refund)
	}
	e.state.AppendEvent(stakedEvent(pos, amount, pool.TotalStaked))
	return nil
}

// Withdraw returns amount of the staking asset to the account. Rejected while
// the lockup is active or when amount exceeds the staked balance. A deactivated
// pool still honours withdrawals.
func (e *Engine) Withdraw(ctx context.Context, poolID string, account common.Address, amount *big.Int) error {
	if e == nil || e.state == nil || e.assets == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errAmountNotPositive
	}
	ctx, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()

	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(poolID, account)
	if err != nil {
		return err
	}
	if !pos.Active || pos.Amount.Sign() == 0 {
		return errPositionNotFound
	}
	if amount.Cmp(pos.Amount) > 0 {
		return errInsufficientStake
	}
	now, err := e.now()
	if err != nil {
		return err
	}
	if pool.LockupSeconds > 0 && now < pos.StakedAt+pool.LockupSeconds {
		return errLockupActive
	}

	prevPool, prevPos := pool.Clone(), pos.Clone()
	if err := e.checkpoint(pool, pos, now); err != nil {
		return err
	}

	pos.Amount = new(big.Int).Sub(pos.Amount, amount)
	if pos.Amount.Sign() == 0 {
		pos.Active = false
	}
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, amount)
	if pool.TotalStaked.Sign() < 0 {
		pool.TotalStaked = big.NewInt(0)
	}

	if err := e.persistBoth(pool, pos); err != nil {
		return err
	}
	// Payout strictly after state changes are durable.
	if err := e.assets.Transfer(ctx, pool.StakingAsset, e.custody, account, amount); err != nil {
		restore := e.persistBoth(prevPool, prevPos)
		return errors.Join(err, restore)
	}
	e.state.AppendEvent(withdrawnEvent(pos, amount, pool.TotalStaked))
	return nil
}

// ClaimReward pays out the position's pending rewards and zeroes them. A zero
// pending balance is a no-op, not an error; the paid amount is returned.
func (e *Engine) ClaimReward(ctx context.Context, poolID string, account common.Address) (*big.Int, error) {
	if e == nil || e.state == nil || e.assets == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	ctx, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	stored, err := e.state.GetPosition(poolID, account)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return big.NewInt(0), nil
	}
	pos := normalizePosition(stored, poolID, account)
	now, err := e.now()
	if err != nil {
		return nil, err
	}

	prevPool, prevPos := pool.Clone(), pos.Clone()
	if err := e.checkpoint(pool, pos, now); err != nil {
		return nil, err
	}

	payout := new(big.Int).Set(pos.PendingRewards)
	if payout.Sign() == 0 {
		if err := e.persistBoth(pool, pos); err != nil {
			return nil, err
		}
		return big.NewInt(0), nil
	}
	pos.PendingRewards = big.NewInt(0)

	if err := e.persistBoth(pool, pos); err != nil {
		return nil, err
	}
	if err := e.assets.Transfer(ctx, pool.RewardAsset, e.custody, account, payout); err != nil {
		restore := e.persistBoth(prevPool, prevPos)
		return nil, errors.Join(err, restore)
	}
	e.state.AppendEvent(rewardsClaimedEvent(pos, payout))
	return payout, nil
}

// RewardPerToken reports the cumulative reward per staked unit as of now,
// scaled by Precision.
func (e *Engine) RewardPerToken(ctx context.Context, poolID string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	return rewardPerToken(pool, now)
}

// Earned reports the rewards the account would receive if it claimed now.
func (e *Engine) Earned(ctx context.Context, poolID string, account common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(poolID, account)
	if err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	rpt, err := rewardPerToken(pool, now)
	if err != nil {
		return nil, err
	}
	return earned(pos, rpt)
}

// StakeInfo summarises the account's position. A never-staked account yields
// a zeroed, inactive summary rather than an error.
func (e *Engine) StakeInfo(ctx context.Context, poolID string, account common.Address) (*StakeInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(poolID, account)
	if err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	rpt, err := rewardPerToken(pool, now)
	if err != nil {
		return nil, err
	}
	pending, err := earned(pos, rpt)
	if err != nil {
		return nil, err
	}
	info := &StakeInfo{
		PoolID:     poolID,
		Account:    account.Hex(),
		Amount:     new(big.Int).Set(pos.Amount),
		StakedAt:   pos.StakedAt,
		Earned:     pending,
		Active:     pos.Active,
		ComputedAt: now,
	}
	if pos.Active && pool.LockupSeconds > 0 {
		info.LockupEndsAt = pos.StakedAt + pool.LockupSeconds
	}
	return info, nil
}

// Pool returns a snapshot of the pool's stored state.
func (e *Engine) Pool(ctx context.Context, poolID string) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	_, release, err := e.acquire(ctx, poolID)
	if err != nil {
		return nil, err
	}
	defer release()
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// rewardPerToken implements step 1 of the accrual algorithm. With nothing
// staked the stored value is frozen: no accrual, no division by zero.
func rewardPerToken(pool *Pool, now uint64) (*big.Int, error) {
	stored := new(big.Int).Set(bigOrZero(pool.RewardPerTokenStored))
	if pool.TotalStaked == nil || pool.TotalStaked.Sign() == 0 {
		return stored, nil
	}
	var elapsed uint64
	if now > pool.LastUpdateTime {
		elapsed = now - pool.LastUpdateTime
	}
	if elapsed == 0 || pool.RewardRate == nil || pool.RewardRate.Sign() == 0 {
		return stored, nil
	}
	accrued := new(big.Int).Mul(pool.RewardRate, new(big.Int).SetUint64(elapsed))
	delta, err := mulDiv(accrued, Precision, pool.TotalStaked)
	if err != nil {
		return nil, err
	}
	stored.Add(stored, delta)
	if err := checkRange(stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// earned implements step 2: amount * (rpt - paid) / Precision + pending.
func earned(pos *Position, rpt *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(rpt, bigOrZero(pos.RewardPerTokenPaid))
	if diff.Sign() < 0 {
		diff = big.NewInt(0)
	}
	gross, err := mulDiv(bigOrZero(pos.Amount), diff, Precision)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(gross, bigOrZero(pos.PendingRewards))
	if err := checkRange(total); err != nil {
		return nil, err
	}
	return total, nil
}

// checkpoint flushes accrual into stored state ahead of a mutation. Reward up
// to now is attributed using the distribution that existed before the change.
func (e *Engine) checkpoint(pool *Pool, pos *Position, now uint64) error {
	rpt, err := rewardPerToken(pool, now)
	if err != nil {
		return err
	}
	pool.RewardPerTokenStored = rpt
	if now > pool.LastUpdateTime {
		pool.LastUpdateTime = now
	}
	if pos != nil {
		pending, err := earned(pos, rpt)
		if err != nil {
			return err
		}
		pos.PendingRewards = pending
		pos.RewardPerTokenPaid = new(big.Int).Set(rpt)
	}
	return nil
}

func (e *Engine) loadPool(poolID string) (*Pool, error) {
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	if pool.RewardRate == nil {
		pool.RewardRate = big.NewInt(0)
	}
	if pool.RewardPerTokenStored == nil {
		pool.RewardPerTokenStored = big.NewInt(0)
	}
	if pool.TotalStaked == nil {
		pool.TotalStaked = big.NewInt(0)
	}
	if pool.MinStake == nil {
		pool.MinStake = big.NewInt(0)
	}
	return pool, nil
}

func (e *Engine) loadPosition(poolID string, account common.Address) (*Position, error) {
	pos, err := e.state.GetPosition(poolID, account)
	if err != nil {
		return nil, err
	}
	return normalizePosition(pos, poolID, account), nil
}

func normalizePosition(pos *Position, poolID string, account common.Address) *Position {
	if pos == nil {
		pos = &Position{PoolID: poolID, Account: account}
	}
	if pos.Amount == nil {
		pos.Amount = big.NewInt(0)
	}
	if pos.RewardPerTokenPaid == nil {
		pos.RewardPerTokenPaid = big.NewInt(0)
	}
	if pos.PendingRewards == nil {
		pos.PendingRewards = big.NewInt(0)
	}
	return pos
}

func (e *Engine) persistBoth(pool *Pool, pos *Position) error {
	if err := e.state.PutPosition(pos); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	if err := e.state.PutPool(pool); err != nil {
		return fmt.Errorf("persist pool: %w", err)
	}
	return nil
}
