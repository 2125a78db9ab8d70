package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stakeledger/native/staking"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := Open(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "stakingd.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testAddress(suffix byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = suffix
	return addr
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite"})
	require.ErrorIs(t, err, ErrDSNRequired)

	_, err = Open(Config{Driver: "oracle", DSN: "somewhere"})
	require.Error(t, err)
}

func TestPoolRoundTrip(t *testing.T) {
	store := openTestStorage(t)

	missing, err := store.GetPool("nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	pool := &staking.Pool{
		ID:                   "pool-1",
		StakingAsset:         "QVT",
		RewardAsset:          "USDQ",
		RewardRate:           big.NewInt(100),
		RewardPerTokenStored: big.NewInt(0),
		LastUpdateTime:       1_700_000_000,
		TotalStaked:          big.NewInt(0),
		LockupSeconds:        3600,
		MinStake:             big.NewInt(10),
		Active:               true,
		CreatedAt:            1_700_000_000,
	}
	require.NoError(t, store.PutPool(pool))

	pool.RewardPerTokenStored = big.NewInt(42)
	pool.TotalStaked = big.NewInt(500)
	require.NoError(t, store.PutPool(pool))

	got, err := store.GetPool("pool-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "QVT", got.StakingAsset)
	require.Zero(t, got.RewardPerTokenStored.Cmp(big.NewInt(42)))
	require.Zero(t, got.TotalStaked.Cmp(big.NewInt(500)))
	require.True(t, got.Active)
}

func TestPositionRoundTrip(t *testing.T) {
	store := openTestStorage(t)
	account := testAddress(0xaa)

	missing, err := store.GetPosition("pool-1", account)
	require.NoError(t, err)
	require.Nil(t, missing)

	pos := &staking.Position{
		PoolID:             "pool-1",
		Account:            account,
		Amount:             big.NewInt(100),
		StakedAt:           1_700_000_000,
		RewardPerTokenPaid: big.NewInt(0),
		PendingRewards:     big.NewInt(0),
		Active:             true,
	}
	require.NoError(t, store.PutPosition(pos))

	pos.Amount = big.NewInt(250)
	pos.PendingRewards = big.NewInt(7)
	require.NoError(t, store.PutPosition(pos))

	got, err := store.GetPosition("pool-1", account)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, account, got.Account)
	require.Zero(t, got.Amount.Cmp(big.NewInt(250)))
	require.Zero(t, got.PendingRewards.Cmp(big.NewInt(7)))

	other, err := store.GetPosition("pool-1", testAddress(0xbb))
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestTransferMovesBalances(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()
	alice := testAddress(0x01)
	custody := testAddress(0xff)

	require.NoError(t, store.Credit(ctx, "QVT", alice, big.NewInt(1000)))

	require.NoError(t, store.Transfer(ctx, "QVT", alice, custody, big.NewInt(400)))

	aliceBal, err := store.BalanceOf(ctx, "QVT", alice)
	require.NoError(t, err)
	require.Zero(t, aliceBal.Cmp(big.NewInt(600)))

	custodyBal, err := store.BalanceOf(ctx, "QVT", custody)
	require.NoError(t, err)
	require.Zero(t, custodyBal.Cmp(big.NewInt(400)))
}

func TestTransferRejectsShortfall(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()
	alice := testAddress(0x01)
	custody := testAddress(0xff)

	require.NoError(t, store.Credit(ctx, "QVT", alice, big.NewInt(100)))

	err := store.Transfer(ctx, "QVT", alice, custody, big.NewInt(101))
	require.ErrorIs(t, err, staking.ErrInsufficientBalance)

	// A failed transfer must not move anything.
	aliceBal, err := store.BalanceOf(ctx, "QVT", alice)
	require.NoError(t, err)
	require.Zero(t, aliceBal.Cmp(big.NewInt(100)))

	custodyBal, err := store.BalanceOf(ctx, "QVT", custody)
	require.NoError(t, err)
	require.Zero(t, custodyBal.Sign())
}

func TestTransferIsolatesAssets(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()
	alice := testAddress(0x01)

	require.NoError(t, store.Credit(ctx, "QVT", alice, big.NewInt(100)))

	err := store.Transfer(ctx, "USDQ", alice, testAddress(0xff), big.NewInt(1))
	require.ErrorIs(t, err, staking.ErrInsufficientBalance)
}

func TestAppendEventAndQuery(t *testing.T) {
	store := openTestStorage(t)

	store.AppendEvent(&staking.Event{
		Type:       "staking.staked",
		Attributes: map[string]string{"pool": "pool-1", "amount": "100"},
	})
	store.AppendEvent(&staking.Event{
		Type:       "staking.rewardsClaimed",
		Attributes: map[string]string{"pool": "pool-1", "paid": "42"},
	})

	events, err := store.Events(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	require.Equal(t, "staking.rewardsClaimed", events[0].Type)
	require.Equal(t, "42", events[0].Attributes["paid"])
	require.Equal(t, "staking.staked", events[1].Type)
}

func TestIdempotencyKeyReplay(t *testing.T) {
	store := openTestStorage(t)
	ctx := context.Background()

	missing, err := store.LookupIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.Nil(t, missing)

	record := IdempotencyKey{
		Key:       "key-1",
		RequestID: "req-1",
		Method:    "POST",
		Path:      "/v1/pools/pool-1/stake",
		Status:    200,
		Response:  `{"ok":true}`,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveIdempotencyKey(ctx, record))

	// A duplicate save keeps the first response.
	dup := record
	dup.Status = 500
	dup.Response = `{"ok":false}`
	require.NoError(t, store.SaveIdempotencyKey(ctx, dup))

	got, err := store.LookupIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 200, got.Status)
	require.Equal(t, `{"ok":true}`, got.Response)
}

func TestStorageSatisfiesEngineCollaborators(t *testing.T) {
	store := openTestStorage(t)
	engine := staking.NewEngine(testAddress(0xff))
	engine.SetState(store)
	engine.SetAssetLedger(store)
	_ = engine
}
