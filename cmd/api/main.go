package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "backend/api/swagger" // swagger docs
	"backend/internal/cache"
	"backend/internal/config"
	"backend/internal/database"
	"backend/internal/handler"
	"backend/internal/middleware"
	"backend/internal/notifier"
	"backend/internal/repository"
	"backend/internal/service"
	"backend/internal/websocket"
	"backend/internal/worker"
	"backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Price Override Approval API
// @version         1.0
// @description     Retail POS backend for discount approvals: tier routing, single-use register tokens, counter-offers and realtime manager notification.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		stdlog.Println("No configs/.env file found or error loading it")
	}

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Config load failed: %v", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		stdlog.Fatalf("Logger setup failed: %v", err)
	}
	defer log.Sync()

	db, err := database.NewConnection(cfg.Database.DSN())
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("database migration failed", zap.Error(err))
	}
	if err := database.SeedTierPolicies(db); err != nil {
		log.Fatal("tier policy seed failed", zap.Error(err))
	}
	log.Info("connected to postgres",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name))

	// Redis backs access-token revocation. Without it logout still clears
	// cookies, but issued tokens stay valid until they expire.
	var cacheClient *cache.Client
	if cfg.Redis.Addr != "" {
		cacheClient, err = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer cacheClient.Close()
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	// NATS carries events for users with no live socket to the mobile
	// push pipeline. An empty URL disables it.
	publisher, err := notifier.New(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("nats connection failed", zap.Error(err))
	}
	defer publisher.Close()
	if publisher != nil {
		log.Info("connected to nats", zap.String("url", cfg.NATS.URL))
	}

	// Repositories
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	productRepo := repository.NewProductRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	counterOfferRepo := repository.NewCounterOfferRepository(db)
	tierPolicyRepo := repository.NewTierPolicyRepository(db)
	delegationRepo := repository.NewDelegationRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	statsRepo := repository.NewStatisticsRepository(db)

	// The hub doubles as the Notifier every workflow service publishes
	// through, so approval events and presence share one delivery path.
	hub := websocket.NewHub(cfg.WS, presenceRepo, publisher, log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// Services
	tierService := service.NewTierService(tierPolicyRepo)
	userService := service.NewUserService(userRepo, cacheClient, cfg.JWT)
	productService := service.NewProductService(productRepo, auditRepo, txManager)
	customerService := service.NewCustomerService(customerRepo, auditRepo, txManager)
	approvalService := service.NewApprovalService(
		approvalRepo, tierPolicyRepo, delegationRepo, productRepo, userRepo,
		auditRepo, txManager, tierService, hub, cfg.Approval.TokenGrace, log)
	tokenService := service.NewTokenService(approvalRepo, auditRepo, txManager)
	counterOfferService := service.NewCounterOfferService(
		counterOfferRepo, approvalRepo, tierPolicyRepo, delegationRepo,
		userRepo, auditRepo, txManager, hub, cfg.Approval.TokenGrace)
	delegationService := service.NewDelegationService(
		delegationRepo, userRepo, auditRepo, txManager, hub, log)
	presenceService := service.NewPresenceService(presenceRepo)
	saleService := service.NewSaleService(
		saleRepo, approvalRepo, productRepo, customerRepo, auditRepo, txManager)
	auditService := service.NewAuditService(auditRepo)
	statisticsService := service.NewStatisticsService(statsRepo)

	// Middleware and handlers
	auth := middleware.NewAuthMiddleware(cfg.JWT, cacheClient, log)

	userHandler := handler.NewUserHandler(userService, auth)
	productHandler := handler.NewProductHandler(productService)
	customerHandler := handler.NewCustomerHandler(customerService)
	approvalHandler := handler.NewApprovalHandler(approvalService, tokenService, tierService)
	counterOfferHandler := handler.NewCounterOfferHandler(counterOfferService)
	delegationHandler := handler.NewDelegationHandler(delegationService)
	presenceHandler := handler.NewPresenceHandler(presenceService)
	saleHandler := handler.NewSaleHandler(saleService)
	auditHandler := handler.NewAuditHandler(auditService)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService)

	// Router
	if cfg.Server.Env == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint; the token travels in the query string because
	// browsers cannot set headers on the upgrade request.
	jwtSecret := []byte(cfg.JWT.Secret)
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, c, jwtSecret)
	})

	api := router.Group("")
	userHandler.RegisterRoutes(api)
	productHandler.RegisterRoutes(api, auth)
	customerHandler.RegisterRoutes(api, auth)
	approvalHandler.RegisterRoutes(api, auth)
	counterOfferHandler.RegisterRoutes(api, auth)
	delegationHandler.RegisterRoutes(api, auth)
	presenceHandler.RegisterRoutes(api, auth)
	saleHandler.RegisterRoutes(api, auth)
	auditHandler.RegisterRoutes(api, auth)
	statisticsHandler.RegisterRoutes(api, auth)

	// Background sweepers: pending requests past their tier timeout and
	// delegations past their window.
	manager := worker.NewManager(log)
	manager.Register(worker.NewTimeoutSweeper(approvalService, cfg.Approval.SweepInterval, log))
	manager.Register(worker.NewDelegationSweeper(delegationService, cfg.Approval.DelegationSweep, log))
	if err := manager.StartAll(context.Background()); err != nil {
		log.Fatal("worker startup failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	manager.StopAll()
	stopHub()
}
