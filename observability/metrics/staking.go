package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics bundles the Prometheus instruments for ledger operations.
type StakingMetrics struct {
	opsTotal     *prometheus.CounterVec
	totalStaked  *prometheus.GaugeVec
	rewardsPaid  *prometheus.CounterVec
	poolRate     *prometheus.GaugeVec
	replayedKeys prometheus.Counter
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the process-wide staking instrument set.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operations_total",
				Help: "Count of ledger operations by type and result.",
			}, []string{"op", "result"}),
			totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_pool_total_staked",
				Help: "Currently staked amount per pool, in base units.",
			}, []string{"pool"}),
			rewardsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rewards_paid_total",
				Help: "Cumulative rewards paid out per pool, in base units.",
			}, []string{"pool"}),
			poolRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_pool_reward_rate",
				Help: "Configured reward emission per second, per pool.",
			}, []string{"pool"}),
			replayedKeys: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_idempotent_replays_total",
				Help: "Requests answered from the idempotency key store.",
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.opsTotal,
			stakingRegistry.totalStaked,
			stakingRegistry.rewardsPaid,
			stakingRegistry.poolRate,
			stakingRegistry.replayedKeys,
		)
	})
	return stakingRegistry
}

// ObserveOp records the outcome of a ledger operation.
func (m *StakingMetrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.opsTotal.WithLabelValues(op, result).Inc()
}

// SetTotalStaked publishes the pool's staked amount. Values beyond float64
// precision are reported approximately; the ledger remains exact.
func (m *StakingMetrics) SetTotalStaked(pool string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.totalStaked.WithLabelValues(pool).Set(value)
}

// AddRewardsPaid accumulates a payout against the pool's counter.
func (m *StakingMetrics) AddRewardsPaid(pool string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.rewardsPaid.WithLabelValues(pool).Add(value)
}

// SetPoolRate publishes the pool's configured emission rate.
func (m *StakingMetrics) SetPoolRate(pool string, rate *big.Int) {
	if m == nil || rate == nil {
		return
	}
	value, _ := new(big.Float).SetInt(rate).Float64()
	m.poolRate.WithLabelValues(pool).Set(value)
}

// ObserveIdempotentReplay counts a response served from the key store.
func (m *StakingMetrics) ObserveIdempotentReplay() {
	if m == nil {
		return
	}
	m.replayedKeys.Inc()
}
