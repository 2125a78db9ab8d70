package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "stakeledger/native/common"
	"stakeledger/native/staking"
	"stakeledger/observability/logging"
	telemetry "stakeledger/observability/otel"
	"stakeledger/services/stakingd/config"
	"stakeledger/services/stakingd/server"
	"stakeledger/services/stakingd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/stakingd/config.yaml", "path to stakingd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STAKELEDGER_ENV"))
	logging.Setup("stakingd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stakingd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("stakingd: load config: %v", err)
	}

	store, err := storage.Open(storage.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		log.Fatalf("stakingd: open storage: %v", err)
	}
	defer store.Close()

	auth := server.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Admins())

	engine := staking.NewEngine(cfg.Custody())
	engine.SetState(store)
	engine.SetAssetLedger(store)
	engine.SetRoles(auth)
	if len(cfg.PausedModules) > 0 {
		paused := make(nativecommon.Pauses, len(cfg.PausedModules))
		for _, module := range cfg.PausedModules {
			paused[strings.TrimSpace(module)] = true
		}
		engine.SetPauses(paused)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if manifest := strings.TrimSpace(cfg.PoolsManifest); manifest != "" {
		admins := cfg.Admins()
		if len(admins) == 0 {
			log.Fatalf("stakingd: pools manifest requires at least one admin account")
		}
		if err := bootstrapPools(rootCtx, engine, admins[0], manifest); err != nil {
			log.Fatalf("stakingd: bootstrap pools: %v", err)
		}
	}

	srv := server.New(server.Config{
		Engine:            engine,
		Store:             store,
		Auth:              auth,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("stakingd: listening on %s", cfg.ListenAddress)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("stakingd: http server error: %v", err)
		os.Exit(1)
	}
}

// bootstrapPools creates manifest pools that do not exist yet. Existing pools
// keep their live parameters; the manifest never overwrites them.
func bootstrapPools(ctx context.Context, engine *staking.Engine, admin common.Address, path string) error {
	manifest, err := config.LoadPoolsManifest(path)
	if err != nil {
		return err
	}
	for _, def := range manifest.Pools {
		existing, err := engine.Pool(ctx, def.ID)
		if err != nil && !errors.Is(err, staking.ErrPoolNotFound) {
			return err
		}
		if existing != nil {
			continue
		}
		rate, err := def.ParsedRewardRate()
		if err != nil {
			return err
		}
		minStake, err := def.ParsedMinStake()
		if err != nil {
			return err
		}
		if _, err := engine.CreatePool(ctx, admin, staking.PoolSpec{
			ID:           def.ID,
			StakingAsset: def.StakingAsset,
			RewardAsset:  def.RewardAsset,
			RewardRate:   rate,
			LockupPeriod: def.LockupSeconds,
			MinStake:     minStake,
		}); err != nil {
			return err
		}
		log.Printf("stakingd: bootstrapped pool %s", def.ID)
	}
	return nil
}
