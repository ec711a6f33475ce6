package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"x402-market.backend/internal/config"
	"x402-market.backend/internal/infrastructure/blockchain"
	"x402-market.backend/internal/infrastructure/jobs"
	"x402-market.backend/internal/infrastructure/models"
	"x402-market.backend/internal/infrastructure/repositories"
	"x402-market.backend/internal/interfaces/http/handlers"
	"x402-market.backend/internal/interfaces/http/middleware"
	"x402-market.backend/internal/usecases"
	pkgcrypto "x402-market.backend/pkg/crypto"
	"x402-market.backend/pkg/jwt"
	"x402-market.backend/pkg/logger"
	"x402-market.backend/pkg/redis"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt:    false,
			TranslateError: true,
		})
	}
	dialChain = func(rpcURL string) (*blockchain.EVMClient, error) {
		return blockchain.NewEVMClient(rpcURL)
	}
	runServer = func(r *gin.Engine, port string) error { return r.Run(":" + port) }
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	// Load .env file
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := loadCfg()

	// Initialize Logger
	initLog(cfg.Server.Env)
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	// Initialize Redis
	if err := initRedis(cfg.Redis.URL, cfg.Redis.Password); err != nil {
		logger.Error(context.Background(), "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(context.Background(), "Redis initialized")

	// Set Gin mode
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database using GORM
	db, err := openDB(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Printf("⚠️ Database not available: %v (endpoints will return errors)", err)
	} else {
		log.Println("✅ Connected to PostgreSQL via GORM")
		if err := db.AutoMigrate(&models.Service{}, &models.Provider{}, &models.AccessLog{}, &models.Claim{}); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Connect to the chain; a wrong RPC or missing contracts is fatal.
	chainClient, err := dialChain(cfg.Blockchain.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to chain rpc: %w", err)
	}
	defer chainClient.Close()

	startupCtx := context.Background()
	if got := chainClient.ChainID().Int64(); got != cfg.Blockchain.ChainID {
		return fmt.Errorf("chain id mismatch: rpc reports %d, configured %d", got, cfg.Blockchain.ChainID)
	}
	if err := verifyContractCode(startupCtx, chainClient, cfg.Blockchain); err != nil {
		return err
	}

	contractClient := usecases.NewContractClient(chainClient, cfg.Blockchain)
	tokenInfo, err := contractClient.FetchTokenInfo(startupCtx)
	if err != nil {
		return fmt.Errorf("failed to read token metadata: %w", err)
	}
	log.Printf("💰 Payment token: %s (%s, %d decimals)", tokenInfo.Name, tokenInfo.Symbol, tokenInfo.Decimals)

	relayer, err := usecases.NewRelayer(chainClient, cfg.Blockchain, cfg.Gateway)
	if err != nil {
		return fmt.Errorf("failed to initialize relayer: %w", err)
	}
	if err := relayer.SyncNonce(startupCtx); err != nil {
		return fmt.Errorf("failed to sync relayer nonce: %w", err)
	}
	log.Printf("🔑 Relayer: %s", relayer.Address())

	// Hold the delegation API key only as a bcrypt hash from here on.
	var apiKeyHash string
	if cfg.Gateway.APIKey != "" {
		apiKeyHash, err = pkgcrypto.HashAPIKey(cfg.Gateway.APIKey)
		if err != nil {
			return fmt.Errorf("failed to hash gateway api key: %w", err)
		}
		cfg.Gateway.APIKey = ""
	}

	// Initialize JWT service
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	// Initialize repositories
	serviceRepo := repositories.NewServiceRepository(db)
	providerRepo := repositories.NewProviderRepository(db)
	accessLogRepo := repositories.NewAccessLogRepository(db)
	claimRepo := repositories.NewClaimRepository(db)
	uow := repositories.NewUnitOfWork(db)

	// Initialize usecases
	requirements := usecases.NewRequirementsBuilder(cfg, tokenInfo)
	verifier := usecases.NewSignatureVerifier(cfg.Blockchain, tokenInfo, contractClient)
	reconciler := jobs.NewSettlementReconcilerJob(chainClient)
	gatewayUsecase := usecases.NewGatewayUsecase(serviceRepo, providerRepo, accessLogRepo, uow, verifier, relayer, requirements, reconciler, cfg.Gateway)
	reconciler.BindRecorder(gatewayUsecase)
	relayer.OnOptimisticRevert(gatewayUsecase.MarkMisbehavingPayer)
	serviceUsecase := usecases.NewServiceUsecase(serviceRepo, providerRepo, relayer, requirements, cfg)
	revenueUsecase := usecases.NewRevenueUsecase(providerRepo, serviceRepo, claimRepo, uow, contractClient, relayer, tokenInfo)
	authUsecase := usecases.NewAuthUsecase(providerRepo, jwtService)

	// Initialize handlers
	serviceHandler := handlers.NewServiceHandler(serviceUsecase)
	gatewayHandler := handlers.NewGatewayHandler(gatewayUsecase)
	agentHandler := handlers.NewAgentHandler(serviceUsecase, gatewayUsecase)
	revenueHandler := handlers.NewRevenueHandler(revenueUsecase)
	authHandler := handlers.NewAuthHandler(authUsecase)
	discoveryHandler := handlers.NewDiscoveryHandler(serviceUsecase, cfg.Server.BaseURL)

	// Start background jobs
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reconciler.Start(ctx)

	// Initialize router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	applyCORSMiddleware(r)
	registerHealthRoute(r)
	registerRoutes(r, routeDeps{
		serviceHandler:   serviceHandler,
		gatewayHandler:   gatewayHandler,
		agentHandler:     agentHandler,
		revenueHandler:   revenueHandler,
		authHandler:      authHandler,
		discoveryHandler: discoveryHandler,
		authMiddleware:   middleware.AuthMiddleware(jwtService),
		apiKeyMiddleware: middleware.APIKeyMiddleware(apiKeyHash),
	})

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("🛑 Shutting down server...")
		reconciler.Stop()
		cancel()
	}()

	// Start server
	log.Printf("🚀 x402 Market Gateway starting on port %s", cfg.Server.Port)
	log.Printf("🔌 Gateway: %s/gateway/:service_id", cfg.Server.BaseURL)
	log.Printf("❤️ Health: http://localhost:%s/health", cfg.Server.Port)

	if err := runServer(r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// verifyContractCode refuses to start against addresses with no deployed
// bytecode. A typo here would otherwise surface as opaque revert errors on
// the first payment.
func verifyContractCode(ctx context.Context, client *blockchain.EVMClient, cfg config.BlockchainConfig) error {
	contracts := map[string]string{
		"service registry":  cfg.ServiceRegistryAddress,
		"escrow":            cfg.EscrowAddress,
		"payment processor": cfg.PaymentProcessorAddress,
		"payment token":     cfg.TokenAddress,
	}
	for name, addr := range contracts {
		if addr == "" {
			return fmt.Errorf("%s address is not configured", name)
		}
		code, err := client.CodeAt(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to check %s code at %s: %w", name, addr, err)
		}
		if len(code) == 0 {
			return fmt.Errorf("no contract code at %s address %s", name, addr)
		}
	}
	return nil
}
