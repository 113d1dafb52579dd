package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/config"
	"github.com/settlus/settlegate/internal/handler"
	"github.com/settlus/settlegate/internal/keeper"
	"github.com/settlus/settlegate/internal/middleware"
	"github.com/settlus/settlegate/internal/pkg/logger"
	"github.com/settlus/settlegate/internal/repository"
	"github.com/settlus/settlegate/internal/service"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.InitWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Chain backend (memory devnet or JSON-RPC)
	var (
		backend service.Chain
		mem     *chain.Memory
		client  *chain.Client
	)
	switch cfg.Chain.Mode {
	case "rpc":
		client, err = chain.Dial(rootCtx, chain.ClientOptions{
			RPCURL:        cfg.Chain.RPCURL,
			ChainID:       cfg.Chain.ChainID,
			OperatorKey:   cfg.Chain.OperatorKey,
			CallTimeout:   cfg.Chain.CallTimeout(),
			CallRetries:   cfg.Chain.CallRetries,
			GasMultiplier: uint64(cfg.Keeper.GasMultiplier),
		})
		if err != nil {
			log.Fatalf("Failed to connect to chain: %v", err)
		}
		defer client.Close()
		logger.Info("✅ Connected to chain", "chain_id", client.ChainID().String(), "operator", client.Operator().Hex())
		backend = client
	default:
		mem = chain.NewMemory(common.HexToAddress(cfg.Registry.Address))
		logger.Info("Using in-memory devnet chain")
		backend = mem
	}

	// 4. Initialize Persistence
	// Ledger/Event Persistence (Postgres > Memory only)
	var (
		managerOpts []service.ManagerOption
		eventRepo   service.EventRepo
		idemStore   middleware.IdempotencyStore
		healthDeps  = map[string]func(context.Context) error{}
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to database", "driver", cfg.Database.Driver)
			if sqlDB, err := db.DB(); err == nil {
				healthDeps["database"] = sqlDB.PingContext
			}
			managerOpts = append(managerOpts, service.WithLedgerRepo(repository.NewGormLedgerRepo(db)))
			eventRepo = repository.NewGormEventRepo(db)
			idemStore = repository.NewGormIdempotencyStore(db, time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
		} else {
			logger.Error("⚠️ Failed to connect to DB, ledgers will not survive a restart", "error", err)
		}
	}

	// Schedule index and idempotency (Redis > DB > Memory)
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			defer redisClient.Close()
			healthDeps["redis"] = redisClient.Ping
			managerOpts = append(managerOpts, service.WithSchedule(repository.NewRedisScheduleIndex(redisClient.Client, cfg.Redis.ScheduleKey)))
			idemStore = repository.NewRedisIdempotencyStore(redisClient.Client, time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if idemStore == nil {
		idemStore = middleware.NewInMemIdempotencyStore()
	}

	// 5. Initialize Core Services
	eventSvc, err := service.NewEventService(cfg.Events.LogDir, cfg.Events.BufferSize, eventRepo)
	if err != nil {
		log.Fatalf("Failed to initialize event service: %v", err)
	}
	if eventRepo != nil {
		eventSvc.StartCleanup(rootCtx,
			time.Duration(cfg.Database.EventRetentionDays)*24*time.Hour,
			time.Duration(cfg.Database.CleanupIntervalHours)*time.Hour)
	}
	managerOpts = append(managerOpts, service.WithEvents(eventSvc))

	tenantManager, err := service.NewTenantManagerFromConfig(cfg, backend, managerOpts...)
	if err != nil {
		log.Fatalf("Failed to initialize tenant registry: %v", err)
	}
	restored, err := tenantManager.Restore(rootCtx)
	if err != nil {
		log.Fatalf("Failed to restore ledgers: %v", err)
	}
	logger.Info("Registry ready", "tenants", restored, "owner", tenantManager.Owner().Hex())

	accounts, err := service.NewAccountDirectory(cfg.Accounts)
	if err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}
	tenantSvc := service.NewTenantService(tenantManager)

	// 6. Keeper
	var k *keeper.Keeper
	var checker *keeper.TxChecker
	if cfg.Keeper.Enabled {
		k, checker = buildKeeper(rootCtx, cfg, tenantManager, backend, client)
		if k != nil {
			k.Start(rootCtx)
		}
	}

	// 7. Setup Router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestLogMiddleware())

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status, code := "ok", http.StatusOK
		deps := gin.H{}
		for name, ping := range healthDeps {
			if err := ping(ctx); err != nil {
				deps[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		c.JSON(code, gin.H{"status": status, "service": "settlegate", "chain": cfg.Chain.Mode, "deps": deps})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	handler.RegisterRoutes(r, cfg, accounts, idemStore, handler.Handlers{
		Tenants: handler.NewTenantHandler(tenantSvc),
		Settle:  handler.NewSettleHandler(tenantSvc),
		Events:  handler.NewEventHandler(eventSvc),
		Admin:   handler.NewAdminHandler(tenantSvc, mem),
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 SettleGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if k != nil {
		k.Stop()
	}
	if checker != nil {
		checker.Wait()
	}
	eventSvc.Close()

	logger.Info("Server exiting")
}

// buildKeeper wires the configured driver. The contract driver needs the
// rpc chain; the local driver settles the in-process registry.
func buildKeeper(ctx context.Context, cfg *config.Config, m *service.TenantManager, backend service.Chain, client *chain.Client) (*keeper.Keeper, *keeper.TxChecker) {
	var opts []keeper.Option
	var checker *keeper.TxChecker
	var driver keeper.Driver
	var wallet common.Address

	switch cfg.Keeper.Driver {
	case "contract":
		if client == nil || !common.IsHexAddress(cfg.Keeper.ManagerAddress) {
			logger.Error("contract keeper needs chain.mode=rpc and keeper.manager_address")
			return nil, nil
		}
		checker = keeper.NewTxChecker(client.Eth())
		checker.Start(ctx)
		wallet = client.Operator()
		driver = keeper.NewContractDriver(client, client.Eth(), common.HexToAddress(cfg.Keeper.ManagerAddress), wallet, checker)
		opts = append(opts, keeper.WithHeads(client.Eth()))
	default:
		account := cfg.Keeper.Account
		if account == "" && len(cfg.Registry.Settlers) > 0 {
			account = cfg.Registry.Settlers[0]
		}
		if !common.IsHexAddress(account) {
			logger.Error("local keeper needs keeper.account or a registry settler")
			return nil, nil
		}
		wallet = common.HexToAddress(account)
		driver = keeper.NewLocalDriver(m, wallet, service.SettleAllParams{})
	}

	if cfg.Keeper.SlackWebhookURL != "" {
		monitor, err := keeper.NewBalanceMonitor(backend, wallet, cfg.Keeper.BalanceCheckEvery,
			cfg.Keeper.DangerThreshold, cfg.Keeper.DecreaseThreshold, keeper.NewSlackNotifier(cfg.Keeper.SlackWebhookURL))
		if err != nil {
			logger.Error("balance monitor disabled", "error", err)
		} else {
			opts = append(opts, keeper.WithBalanceMonitor(monitor))
		}
	}
	return keeper.New(driver, cfg.Keeper.Interval(), opts...), checker
}
