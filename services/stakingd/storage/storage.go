package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"stakeledger/native/staking"
)

// ErrDSNRequired is returned when the backing store location is missing.
var ErrDSNRequired = errors.New("stakingd storage DSN must be configured")

// Config selects the database backend.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string
}

// Storage persists pools, positions, custody balances, events and
// idempotency keys. It implements both the engine state interface and the
// AssetLedger collaborator.
type Storage struct {
	db *gorm.DB
	// ledgerMu serialises balance transfers across pools; the engine's
	// per-pool lock does not cover the shared custody account.
	ledgerMu sync.Mutex
}

// Open initialises the backing store and applies the schema.
func Open(cfg Config) (*Storage, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&poolRow{}, &positionRow{}, &accountRow{}, &IdempotencyKey{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetPool loads a pool by id, returning nil when absent.
func (s *Storage) GetPool(id string) (*staking.Pool, error) {
	var row poolRow
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pool: %w", err)
	}
	return row.toPool()
}

// PutPool upserts the pool's stored state.
func (s *Storage) PutPool(pool *staking.Pool) error {
	row := fromPool(pool)
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("persist pool: %w", err)
	}
	return nil
}

// GetPosition loads the position for (pool, account), nil when absent.
func (s *Storage) GetPosition(poolID string, account common.Address) (*staking.Position, error) {
	var row positionRow
	err := s.db.First(&row, "pool_id = ? AND account = ?", poolID, account.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	return row.toPosition()
}

// PutPosition upserts the position's stored state.
func (s *Storage) PutPosition(pos *staking.Position) error {
	row := fromPosition(pos)
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	return nil
}

// AppendEvent records a ledger event. Event persistence is best effort and
// never fails the originating operation.
func (s *Storage) AppendEvent(evt *staking.Event) {
	if evt == nil {
		return
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		slog.Warn("encode event attributes", "type", evt.Type, "error", err)
		return
	}
	row := eventRow{Type: evt.Type, Attributes: string(attrs), CreatedAt: time.Now().UTC()}
	if err := s.db.Create(&row).Error; err != nil {
		slog.Warn("persist event", "type", evt.Type, "error", err)
	}
}

// Events returns the most recent ledger events, newest first.
func (s *Storage) Events(ctx context.Context, limit int) ([]staking.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make([]staking.Event, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("decode event attributes: %w", err)
			}
		}
		out = append(out, staking.Event{Type: row.Type, Attributes: attrs})
	}
	return out, nil
}

func (s *Storage) balanceTx(tx *gorm.DB, asset string, account common.Address) (*big.Int, error) {
	var row accountRow
	err := tx.First(&row, "address = ? AND asset = ?", account.Hex(), asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return parseAmount("balance", row.Balance)
}

func (s *Storage) putBalanceTx(tx *gorm.DB, asset string, account common.Address, balance *big.Int) error {
	row := accountRow{
		Address:   account.Hex(),
		Asset:     asset,
		Balance:   formatAmount(balance),
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	return nil
}

// Transfer atomically moves amount between custody records. It fails with
// staking.ErrInsufficientBalance when the source cannot cover it.
func (s *Storage) Transfer(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fromBal, err := s.balanceTx(tx, asset, from)
		if err != nil {
			return err
		}
		if fromBal.Cmp(amount) < 0 {
			return staking.ErrInsufficientBalance
		}
		toBal, err := s.balanceTx(tx, asset, to)
		if err != nil {
			return err
		}
		if err := s.putBalanceTx(tx, asset, from, new(big.Int).Sub(fromBal, amount)); err != nil {
			return err
		}
		return s.putBalanceTx(tx, asset, to, new(big.Int).Add(toBal, amount))
	})
}

// BalanceOf reads the custody record for (asset, account).
func (s *Storage) BalanceOf(ctx context.Context, asset string, account common.Address) (*big.Int, error) {
	return s.balanceTx(s.db.WithContext(ctx), asset, account)
}

// Credit mints balance onto an account record. Used by deposit reconciliation
// and tests; the ledger core never calls it.
func (s *Storage) Credit(ctx context.Context, asset string, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.balanceTx(tx, asset, account)
		if err != nil {
			return err
		}
		return s.putBalanceTx(tx, asset, account, new(big.Int).Add(balance, amount))
	})
}

// LookupIdempotencyKey returns the stored response for key, nil when unseen.
func (s *Storage) LookupIdempotencyKey(ctx context.Context, key string) (*IdempotencyKey, error) {
	var row IdempotencyKey
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query idempotency key: %w", err)
	}
	return &row, nil
}

// SaveIdempotencyKey records the response to replay for a key. A concurrent
// duplicate insert is ignored; the first stored response wins.
func (s *Storage) SaveIdempotencyKey(ctx context.Context, record IdempotencyKey) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("persist idempotency key: %w", err)
	}
	return nil
}
