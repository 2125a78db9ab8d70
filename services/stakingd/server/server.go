package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/native/staking"
	"stakeledger/observability/metrics"
	"stakeledger/services/stakingd/storage"
)

// Config bundles the dependencies for the HTTP API.
type Config struct {
	Engine            *staking.Engine
	Store             *storage.Storage
	Auth              *Authenticator
	RequestsPerMinute int
	Burst             int
}

// Server exposes the staking ledger over HTTP/JSON.
type Server struct {
	engine *staking.Engine
	store  *storage.Storage
	auth   *Authenticator
	router http.Handler
}

// New constructs a configured router with authentication, idempotency and
// rate limiting applied.
func New(cfg Config) *Server {
	srv := &Server{engine: cfg.Engine, store: cfg.Store, auth: cfg.Auth}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	limiter := newRateLimiter(cfg.RequestsPerMinute, cfg.Burst)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)

		api.Get("/pools/{poolID}", s.handleGetPool)
		api.Get("/pools/{poolID}/positions/{account}", s.handleGetPosition)

		api.Group(func(mutating chi.Router) {
			mutating.Use(limiter.middleware)
			mutating.Use(func(next http.Handler) http.Handler {
				return withIdempotency(s.store, next)
			})

			mutating.Post("/pools", s.handleCreatePool)
			mutating.Put("/pools/{poolID}/reward-rate", s.handleSetRewardRate)
			mutating.Put("/pools/{poolID}/status", s.handleSetPoolStatus)
			mutating.Post("/pools/{poolID}/stake", s.handleStake)
			mutating.Post("/pools/{poolID}/withdraw", s.handleWithdraw)
			mutating.Post("/pools/{poolID}/claim", s.handleClaim)
			mutating.Post("/accounts/{account}/credit", s.handleCredit)
		})
	})

	return otelhttp.NewHandler(r, "stakingd")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		ID           string `json:"id"`
		StakingAsset string `json:"stakingAsset"`
		RewardAsset  string `json:"rewardAsset"`
		RewardRate   string `json:"rewardRate"`
		LockupSecs   uint64 `json:"lockupSeconds"`
		MinStake     string `json:"minStake"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	rate, err := parseAmount("rewardRate", req.RewardRate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	minStake, err := parseAmount("minStake", req.MinStake)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	poolID, err := s.engine.CreatePool(r.Context(), caller, staking.PoolSpec{
		ID:           req.ID,
		StakingAsset: req.StakingAsset,
		RewardAsset:  req.RewardAsset,
		RewardRate:   rate,
		LockupPeriod: req.LockupSecs,
		MinStake:     minStake,
	})
	metrics.Staking().ObserveOp("create_pool", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Staking().SetPoolRate(poolID, rate)
	writeJSON(w, http.StatusCreated, map[string]string{"poolId": poolID})
}

func (s *Server) handleSetRewardRate(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	poolID := chi.URLParam(r, "poolID")

	var req struct {
		Rate string `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	rate, err := parseAmount("rate", req.Rate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.engine.SetRewardRate(r.Context(), caller, poolID, rate)
	metrics.Staking().ObserveOp("set_reward_rate", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Staking().SetPoolRate(poolID, rate)
	writeJSON(w, http.StatusOK, map[string]string{"poolId": poolID, "rate": formatAmount(rate)})
}

func (s *Server) handleSetPoolStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	poolID := chi.URLParam(r, "poolID")

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	err = s.engine.SetPoolActive(r.Context(), caller, poolID, req.Active)
	metrics.Staking().ObserveOp("set_pool_status", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"poolId": poolID, "active": req.Active})
}

// resolveAccount enforces that the caller acts on its own account unless it
// holds the admin role.
func (s *Server) resolveAccount(r *http.Request, raw string) (common.Address, int, string) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		return common.Address{}, http.StatusUnauthorized, "missing identity"
	}
	if raw == "" {
		return caller, 0, ""
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, http.StatusBadRequest, "account is not a valid address"
	}
	account := common.HexToAddress(raw)
	if account != caller && !s.auth.IsAdmin(caller) {
		return common.Address{}, http.StatusForbidden, "cannot act on another account"
	}
	return account, 0, ""
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	account, status, msg := s.resolveAccount(r, req.Account)
	if status != 0 {
		http.Error(w, msg, status)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.engine.Stake(r.Context(), poolID, account, amount)
	metrics.Staking().ObserveOp("stake", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishPoolGauges(r, poolID)
	info, err := s.engine.StakeInfo(r.Context(), poolID, account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	account, status, msg := s.resolveAccount(r, req.Account)
	if status != 0 {
		http.Error(w, msg, status)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.engine.Withdraw(r.Context(), poolID, account, amount)
	metrics.Staking().ObserveOp("withdraw", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishPoolGauges(r, poolID)
	info, err := s.engine.StakeInfo(r.Context(), poolID, account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	account, status, msg := s.resolveAccount(r, req.Account)
	if status != 0 {
		http.Error(w, msg, status)
		return
	}

	paid, err := s.engine.ClaimReward(r.Context(), poolID, account)
	metrics.Staking().ObserveOp("claim", err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Staking().AddRewardsPaid(poolID, paid)
	writeJSON(w, http.StatusOK, map[string]string{
		"poolId":  poolID,
		"account": account.Hex(),
		"paid":    formatAmount(paid),
	})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	caller, err := CallerFromContext(r.Context())
	if err != nil {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !s.auth.IsAdmin(caller) {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		http.Error(w, "account is not a valid address", http.StatusBadRequest)
		return
	}
	account := common.HexToAddress(raw)

	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		http.Error(w, "asset must be set", http.StatusBadRequest)
		return
	}

	if err := s.store.Credit(r.Context(), req.Asset, account, amount); err != nil {
		slog.Error("credit account", "account", account.Hex(), "error", err)
		http.Error(w, "credit failed", http.StatusInternalServerError)
		return
	}
	balance, err := s.store.BalanceOf(r.Context(), req.Asset, account)
	if err != nil {
		http.Error(w, "balance lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"asset":   req.Asset,
		"balance": formatAmount(balance),
	})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	pool, err := s.engine.Pool(r.Context(), poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	rpt, err := s.engine.RewardPerToken(r.Context(), poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"poolId":         pool.ID,
		"stakingAsset":   pool.StakingAsset,
		"rewardAsset":    pool.RewardAsset,
		"rewardRate":     formatAmount(pool.RewardRate),
		"rewardPerToken": formatAmount(rpt),
		"totalStaked":    formatAmount(pool.TotalStaked),
		"lockupSeconds":  pool.LockupSeconds,
		"minStake":       formatAmount(pool.MinStake),
		"active":         pool.Active,
		"createdAt":      pool.CreatedAt,
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		http.Error(w, "account is not a valid address", http.StatusBadRequest)
		return
	}

	info, err := s.engine.StakeInfo(r.Context(), poolID, common.HexToAddress(raw))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) publishPoolGauges(r *http.Request, poolID string) {
	pool, err := s.engine.Pool(r.Context(), poolID)
	if err != nil {
		return
	}
	metrics.Staking().SetTotalStaked(poolID, pool.TotalStaked)
}

// writeEngineError maps ledger error categories onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, staking.ErrPoolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, staking.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, staking.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, staking.ErrState):
		status = http.StatusConflict
	case errors.Is(err, staking.ErrArithmetic):
		status = http.StatusUnprocessableEntity
	default:
		slog.Error("staking operation failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}
