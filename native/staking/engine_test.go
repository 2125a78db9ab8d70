package staking

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type memState struct {
	pools     map[string]*Pool
	positions map[string]*Position
	events    []*Event
	poolErr   error
	posErr    error
}

func newMemState() *memState {
	return &memState{
		pools:     make(map[string]*Pool),
		positions: make(map[string]*Position),
	}
}

func posKey(poolID string, account common.Address) string {
	return poolID + "/" + account.Hex()
}

func (m *memState) GetPool(id string) (*Pool, error) {
	return m.pools[id].Clone(), nil
}

func (m *memState) PutPool(pool *Pool) error {
	if m.poolErr != nil {
		return m.poolErr
	}
	m.pools[pool.ID] = pool.Clone()
	return nil
}

func (m *memState) GetPosition(poolID string, account common.Address) (*Position, error) {
	return m.positions[posKey(poolID, account)].Clone(), nil
}

func (m *memState) PutPosition(pos *Position) error {
	if m.posErr != nil {
		return m.posErr
	}
	m.positions[posKey(pos.PoolID, pos.Account)] = pos.Clone()
	return nil
}

func (m *memState) AppendEvent(evt *Event) {
	m.events = append(m.events, evt)
}

type memLedger struct {
	balances map[string]map[common.Address]*big.Int
	// onTransfer, when set, runs inside Transfer before balances move. Used
	// to exercise the reentrancy guard.
	onTransfer func(ctx context.Context)
	failNext   bool
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[string]map[common.Address]*big.Int)}
}

func (l *memLedger) fund(asset string, account common.Address, amount int64) {
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[common.Address]*big.Int)
	}
	l.balances[asset][account] = big.NewInt(amount)
}

func (l *memLedger) balance(asset string, account common.Address) *big.Int {
	if l.balances[asset] == nil || l.balances[asset][account] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.balances[asset][account])
}

func (l *memLedger) Transfer(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error {
	if l.onTransfer != nil {
		l.onTransfer(ctx)
	}
	if l.failNext {
		l.failNext = false
		return ErrInsufficientBalance
	}
	have := l.balance(asset, from)
	if have.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[common.Address]*big.Int)
	}
	l.balances[asset][from] = new(big.Int).Sub(have, amount)
	l.balances[asset][to] = new(big.Int).Add(l.balance(asset, to), amount)
	return nil
}

func (l *memLedger) BalanceOf(_ context.Context, asset string, account common.Address) (*big.Int, error) {
	return l.balance(asset, account), nil
}

type memRoles map[common.Address]bool

func (r memRoles) HasRole(role string, account common.Address) bool {
	return role == RoleStakingAdmin && r[account]
}

type memClock struct{ unix int64 }

func (c *memClock) Now() time.Time        { return time.Unix(c.unix, 0) }
func (c *memClock) advance(seconds int64) { c.unix += seconds }

func common20(suffix byte) common.Address {
	var a common.Address
	a[len(a)-1] = suffix
	return a
}

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	custody  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	accountA = common.HexToAddress("0x0000000000000000000000000000000000000001")
	accountB = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type fixture struct {
	engine *Engine
	state  *memState
	ledger *memLedger
	clock  *memClock
}

func newFixture() *fixture {
	state := newMemState()
	ledger := newMemLedger()
	clock := &memClock{unix: 0}
	engine := NewEngine(custody)
	engine.SetState(state)
	engine.SetAssetLedger(ledger)
	engine.SetRoles(memRoles{admin: true})
	engine.SetClock(clock)
	return &fixture{engine: engine, state: state, ledger: ledger, clock: clock}
}

func (f *fixture) createPool(rate, minStake int64, lockup uint64) (string, error) {
	return f.engine.CreatePool(context.Background(), admin, PoolSpec{
		StakingAsset: "STK",
		RewardAsset:  "RWD",
		RewardRate:   big.NewInt(rate),
		LockupPeriod: lockup,
		MinStake:     big.NewInt(minStake),
	})
}
