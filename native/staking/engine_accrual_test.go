package staking

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestScenarioClaimThenSplit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(100, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountA, 1000)
	f.ledger.fund("STK", accountB, 1000)
	f.ledger.fund("RWD", custody, 1_000_000)

	if err := f.engine.Stake(ctx, poolID, accountA, big.NewInt(100)); err != nil {
		t.Fatalf("stake A: %v", err)
	}

	f.clock.advance(10)
	earnedA, err := f.engine.Earned(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("earned A: %v", err)
	}
	if earnedA.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("earned A at t=10: got %s want 1000", earnedA)
	}

	paid, err := f.engine.ClaimReward(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("claim A: %v", err)
	}
	if paid.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("claim A paid: got %s want 1000", paid)
	}
	if got := f.ledger.balance("RWD", accountA); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("reward balance A: got %s want 1000", got)
	}

	// Claiming again with no elapsed time is a no-op, not an error.
	paid, err = f.engine.ClaimReward(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if paid.Sign() != 0 {
		t.Fatalf("second claim paid: got %s want 0", paid)
	}

	if err := f.engine.Stake(ctx, poolID, accountB, big.NewInt(100)); err != nil {
		t.Fatalf("stake B: %v", err)
	}

	f.clock.advance(10)
	earnedA, err = f.engine.Earned(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("earned A: %v", err)
	}
	earnedB, err := f.engine.Earned(ctx, poolID, accountB)
	if err != nil {
		t.Fatalf("earned B: %v", err)
	}
	if earnedA.Cmp(big.NewInt(500)) != 0 || earnedB.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("split at t=20: A=%s B=%s want 500/500", earnedA, earnedB)
	}
}

func TestProRataSplit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(300, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountA, 1000)
	f.ledger.fund("STK", accountB, 1000)

	if err := f.engine.Stake(ctx, poolID, accountA, big.NewInt(200)); err != nil {
		t.Fatalf("stake A: %v", err)
	}
	if err := f.engine.Stake(ctx, poolID, accountB, big.NewInt(100)); err != nil {
		t.Fatalf("stake B: %v", err)
	}

	f.clock.advance(10)
	earnedA, err := f.engine.Earned(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("earned A: %v", err)
	}
	earnedB, err := f.engine.Earned(ctx, poolID, accountB)
	if err != nil {
		t.Fatalf("earned B: %v", err)
	}
	if earnedA.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("earned A: got %s want 2000", earnedA)
	}
	if earnedB.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("earned B: got %s want 1000", earnedB)
	}
}

func TestNoRetroPay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(100, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountB, 1000)

	// Pool sits empty for 10 seconds; nobody is owed that emission.
	f.clock.advance(10)
	if err := f.engine.Stake(ctx, poolID, accountB, big.NewInt(100)); err != nil {
		t.Fatalf("stake B: %v", err)
	}
	earnedB, err := f.engine.Earned(ctx, poolID, accountB)
	if err != nil {
		t.Fatalf("earned B: %v", err)
	}
	if earnedB.Sign() != 0 {
		t.Fatalf("earned B at join: got %s want 0", earnedB)
	}

	f.clock.advance(10)
	earnedB, err = f.engine.Earned(ctx, poolID, accountB)
	if err != nil {
		t.Fatalf("earned B: %v", err)
	}
	if earnedB.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("earned B: got %s want 1000", earnedB)
	}
}

func TestRewardPerTokenMonotonic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(100, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountA, 10_000)
	f.ledger.fund("RWD", custody, 1_000_000)

	last := big.NewInt(0)
	step := func(name string, op func() error) {
		t.Helper()
		if err := op(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		rpt, err := f.engine.RewardPerToken(ctx, poolID)
		if err != nil {
			t.Fatalf("reward per token after %s: %v", name, err)
		}
		if rpt.Cmp(last) < 0 {
			t.Fatalf("reward per token decreased after %s: %s -> %s", name, last, rpt)
		}
		last = rpt
	}

	step("stake 100", func() error { return f.engine.Stake(ctx, poolID, accountA, big.NewInt(100)) })
	f.clock.advance(7)
	step("stake 50", func() error { return f.engine.Stake(ctx, poolID, accountA, big.NewInt(50)) })
	f.clock.advance(3)
	step("withdraw 120", func() error { return f.engine.Withdraw(ctx, poolID, accountA, big.NewInt(120)) })
	f.clock.advance(5)
	step("claim", func() error { _, err := f.engine.ClaimReward(ctx, poolID, accountA); return err })
	f.clock.advance(11)
	step("rate change", func() error { return f.engine.SetRewardRate(ctx, admin, poolID, big.NewInt(40)) })
}

func TestConservationUnderConstantRate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(1000, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountA, 10_000)
	f.ledger.fund("STK", accountB, 10_000)
	f.ledger.fund("RWD", custody, 10_000_000)

	claimed := big.NewInt(0)
	claim := func(account common.Address) {
		t.Helper()
		paid, err := f.engine.ClaimReward(ctx, poolID, account)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		claimed.Add(claimed, paid)
	}

	if err := f.engine.Stake(ctx, poolID, accountA, big.NewInt(37)); err != nil {
		t.Fatalf("stake A: %v", err)
	}
	f.clock.advance(13)
	if err := f.engine.Stake(ctx, poolID, accountB, big.NewInt(91)); err != nil {
		t.Fatalf("stake B: %v", err)
	}
	f.clock.advance(29)
	claim(accountA)
	if err := f.engine.Withdraw(ctx, poolID, accountA, big.NewInt(37)); err != nil {
		t.Fatalf("withdraw A: %v", err)
	}
	f.clock.advance(17)
	claim(accountB)
	if err := f.engine.Stake(ctx, poolID, accountA, big.NewInt(11)); err != nil {
		t.Fatalf("restake A: %v", err)
	}
	f.clock.advance(31)

	earnedA, err := f.engine.Earned(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("earned A: %v", err)
	}
	earnedB, err := f.engine.Earned(ctx, poolID, accountB)
	if err != nil {
		t.Fatalf("earned B: %v", err)
	}

	// Pool was continuously occupied from t=0 to t=90 at rate 1000/s.
	emitted := big.NewInt(1000 * 90)
	total := new(big.Int).Add(claimed, earnedA)
	total.Add(total, earnedB)
	if total.Cmp(emitted) > 0 {
		t.Fatalf("paid out more than emitted: %s > %s", total, emitted)
	}
	// Floor rounding loses at most one unit per checkpoint; this sequence
	// checkpoints well under 16 times.
	dust := new(big.Int).Sub(emitted, total)
	if dust.Cmp(big.NewInt(16)) > 0 {
		t.Fatalf("rounding dust too large: %s", dust)
	}
}

func TestRateChangeCheckpointsFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(100, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountA, 1000)

	if err := f.engine.Stake(ctx, poolID, accountA, big.NewInt(100)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.clock.advance(10)
	if err := f.engine.SetRewardRate(ctx, admin, poolID, big.NewInt(50)); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	f.clock.advance(10)

	got, err := f.engine.Earned(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("earned: %v", err)
	}
	// 10s at 100/s under the old rate, then 10s at 50/s.
	if got.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("earned after rate change: got %s want 1500", got)
	}
}

func TestEmptyPoolFreezesAccrual(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(100, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.ledger.fund("STK", accountA, 1000)

	if err := f.engine.Stake(ctx, poolID, accountA, big.NewInt(100)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.clock.advance(10)
	if err := f.engine.Withdraw(ctx, poolID, accountA, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	frozen, err := f.engine.RewardPerToken(ctx, poolID)
	if err != nil {
		t.Fatalf("reward per token: %v", err)
	}

	f.clock.advance(100)
	after, err := f.engine.RewardPerToken(ctx, poolID)
	if err != nil {
		t.Fatalf("reward per token: %v", err)
	}
	if frozen.Cmp(after) != 0 {
		t.Fatalf("accrual not frozen while empty: %s -> %s", frozen, after)
	}

	// Earned balance from before the full withdrawal survives the gap.
	pending, err := f.engine.Earned(ctx, poolID, accountA)
	if err != nil {
		t.Fatalf("earned: %v", err)
	}
	if pending.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("pending after withdraw: got %s want 1000", pending)
	}
}

func TestOverflowRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	poolID, err := f.createPool(1, 1, 0)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	err = f.engine.Stake(ctx, poolID, accountA, huge)
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected arithmetic error, got %v", err)
	}
	// The rejected operation must not leave partial state behind.
	pool, err := f.engine.Pool(ctx, poolID)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.TotalStaked.Sign() != 0 {
		t.Fatalf("total staked mutated by rejected op: %s", pool.TotalStaked)
	}
}
