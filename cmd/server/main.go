// Command server runs the cardvault API: the custodial registry, payment
// rail, and withdrawal protocols behind one HTTP surface.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cardvault/internal/accessgate"
	authHandler "cardvault/internal/auth/handler"
	authService "cardvault/internal/auth/service"
	"cardvault/internal/auth/store/challenge"
	"cardvault/internal/factory"
	httpapi "cardvault/internal/http"
	jwttoken "cardvault/internal/jwt_token"
	"cardvault/internal/ledger"
	ledgerMemory "cardvault/internal/ledger/store/memory"
	ledgerPostgres "cardvault/internal/ledger/store/postgres"
	"cardvault/internal/platform/config"
	"cardvault/internal/platform/database"
	"cardvault/internal/platform/httpserver"
	"cardvault/internal/platform/logger"
	platformMetrics "cardvault/internal/platform/metrics"
	"cardvault/internal/platform/redis"
	"cardvault/internal/recovery"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	kafkasink "cardvault/pkg/platform/audit/sink/kafka"
	auditMemory "cardvault/pkg/platform/audit/store/memory"
	auditPostgres "cardvault/pkg/platform/audit/store/postgres"
	"cardvault/pkg/platform/tx"

	adminService "cardvault/internal/admin"
	adminHandler "cardvault/internal/admin/handler"
	payHandler "cardvault/internal/payments/handler"
	payMetrics "cardvault/internal/payments/metrics"
	payService "cardvault/internal/payments/service"
	settlementStore "cardvault/internal/payments/store/settlement"
	regHandler "cardvault/internal/registry/handler"
	regMetrics "cardvault/internal/registry/metrics"
	regService "cardvault/internal/registry/service"
	channelStore "cardvault/internal/registry/store/channel"
	registryCache "cardvault/internal/registry/store/cache"
	fundStore "cardvault/internal/registry/store/fund"
	setupStore "cardvault/internal/registry/store/setup"
	wdHandler "cardvault/internal/withdrawal/handler"
	wdMetrics "cardvault/internal/withdrawal/metrics"
	wdService "cardvault/internal/withdrawal/service"
	requestStore "cardvault/internal/withdrawal/store/request"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New("cardvault")

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roles, master, err := bootstrapRoles(cfg, log)
	if err != nil {
		return err
	}
	gate, err := accessgate.New(roles)
	if err != nil {
		return err
	}

	// Persistence: postgres when configured, otherwise in-process stores with
	// a serializing runner.
	healthChecks := map[string]httpapi.HealthCheck{}
	var (
		runner      tx.Runner
		ledgerSt    ledger.Store
		channels    registryCache.ChannelStore
		funds       registryCache.FundStore
		setups      regService.SetupStore
		settlements payService.SettlementStore
		requests    wdService.RequestStore
		auditStore  audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		runner = tx.NewSQLRunner(db)
		ledgerSt = ledgerPostgres.New(db)
		channels = channelStore.NewPostgres(db)
		funds = fundStore.NewPostgres(db)
		setups = setupStore.NewPostgres(db)
		settlements = settlementStore.NewPostgres(db)
		requests = requestStore.NewPostgres(db)
		auditStore = auditPostgres.New(db)
		healthChecks["postgres"] = db.PingContext
		log.Info("using postgres persistence")
	} else {
		runner = tx.NewSerialRunner()
		ledgerSt = ledgerMemory.New()
		channels = channelStore.NewMemory()
		funds = fundStore.NewMemory()
		setups = setupStore.NewMemory()
		settlements = settlementStore.NewMemory()
		requests = requestStore.NewMemory()
		auditStore = auditMemory.New()
		log.Warn("no database configured, state is in-memory only")
	}

	// Optional redis: registry read cache and shared auth challenges.
	var challenges authService.ChallengeStore = challenge.NewMemory()
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		channels = registryCache.NewChannels(channels, redisClient.Client, config.RegistryCacheTTL, log)
		funds = registryCache.NewFunds(funds, redisClient.Client, config.RegistryCacheTTL, log)
		challenges = challenge.NewRedis(redisClient.Client)
		healthChecks["redis"] = redisClient.Health
		log.Info("redis cache enabled")
	}

	// Audit trail: fail-closed outbox, best-effort kafka stream.
	auditOpts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafkasink.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		auditOpts = append(auditOpts, audit.WithSink(sink))
		log.Info("kafka audit sink enabled", "topic", cfg.KafkaTopic)
	}
	auditor := audit.NewPublisher(auditStore, auditOpts...)

	ledgerSvc, err := ledger.NewService(ledgerSt)
	if err != nil {
		return err
	}
	if err := seedMaster(ctx, ledgerSvc, master, cfg.MasterSeed); err != nil {
		return err
	}
	accountFactory, err := factory.New(ledgerSvc, master)
	if err != nil {
		return err
	}

	registry, err := regService.New(ledgerSvc, accountFactory, gate, channels, funds, setups, auditor, runner, master)
	if err != nil {
		return err
	}
	registry.WithMetrics(regMetrics.New())

	payments, err := payService.New(ledgerSvc, gate, funds, settlements, auditor, runner, master)
	if err != nil {
		return err
	}
	payments.WithMetrics(payMetrics.New())

	withdrawals, err := wdService.New(ledgerSvc, gate, funds, requests, auditor, runner, cfg.GenesisID)
	if err != nil {
		return err
	}
	withdrawals.WithMetrics(wdMetrics.New())
	if cfg.WithdrawalWaitTime != wdService.DefaultWaitTime {
		if err := withdrawals.SetWaitTime(ctx, roles.Owner, cfg.WithdrawalWaitTime); err != nil {
			return err
		}
	}

	recoverySvc, err := recovery.New(ledgerSvc, gate, auditor, runner, master)
	if err != nil {
		return err
	}
	admin, err := adminService.New(gate, auditor)
	if err != nil {
		return err
	}

	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	auth, err := authService.New(challenges, tokens)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:         log,
		Metrics:        platformMetrics.New(),
		TokenValidator: tokens,
		Public: []httpapi.Registrar{
			authHandler.New(auth, log),
		},
		Authenticated: []httpapi.Registrar{
			regHandler.New(registry, log),
			payHandler.New(payments, log),
			wdHandler.New(withdrawals, log),
			adminHandler.New(admin, recoverySvc, log),
		},
		HealthChecks: healthChecks,
	})

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting cardvault", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// bootstrapRoles builds the role assignment from config. Owner is mandatory;
// in development mode missing addresses are generated so the server still
// comes up.
func bootstrapRoles(cfg config.Server, log *slog.Logger) (accessgate.Roles, domain.Address, error) {
	owner, err := parseOrGenerate(cfg.OwnerAddress, "owner", log)
	if err != nil {
		return accessgate.Roles{}, domain.ZeroAddress, err
	}
	master, err := parseOrGenerate(cfg.MasterAddress, "master", log)
	if err != nil {
		return accessgate.Roles{}, domain.ZeroAddress, err
	}

	roles := accessgate.Roles{Owner: owner}
	if cfg.PauserAddress != "" {
		pauser, err := domain.ParseAddress(cfg.PauserAddress)
		if err != nil {
			return accessgate.Roles{}, domain.ZeroAddress, err
		}
		roles.Pauser = pauser
	}
	if cfg.SettlerAddress != "" {
		settler, err := domain.ParseAddress(cfg.SettlerAddress)
		if err != nil {
			return accessgate.Roles{}, domain.ZeroAddress, err
		}
		key, err := hex.DecodeString(cfg.SettlerPublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return accessgate.Roles{}, domain.ZeroAddress, errors.New("settler requires a hex-encoded ed25519 public key")
		}
		roles.Settler = settler
		roles.SettlerKey = ed25519.PublicKey(key)
	}
	return roles, master, nil
}

func parseOrGenerate(raw, role string, log *slog.Logger) (domain.Address, error) {
	if raw != "" {
		return domain.ParseAddress(raw)
	}
	address, err := domain.NewAddress()
	if err != nil {
		return domain.ZeroAddress, err
	}
	log.Warn("generated ephemeral address, set it explicitly in production",
		"role", role,
		"address", address,
	)
	return address, nil
}

// seedMaster ensures the master holding account exists and carries enough
// native balance for opt-in minimums. Re-running against an existing account
// is a no-op.
func seedMaster(ctx context.Context, ledgerSvc *ledger.Service, master domain.Address, seed uint64) error {
	err := ledgerSvc.CreateAccount(ctx, master)
	if err != nil {
		if !dErrors.Is(err, dErrors.CodeConflict) {
			return err
		}
		return nil
	}
	return ledgerSvc.Seed(ctx, master, seed)
}
