package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "stockroom/api/swagger" // swagger docs
	"stockroom/internal/config"
	"stockroom/internal/database"
	"stockroom/internal/handler"
	"stockroom/internal/logger"
	"stockroom/internal/metrics"
	"stockroom/internal/middleware"
	"stockroom/internal/repository"
	"stockroom/internal/service"
	"stockroom/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Stockroom API
// @version         1.0
// @description     School stockroom inventory and material request workflow.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "console").Fatal("failed to load config", zap.Error(err))
	}

	log := logger.NewForEnvironment(cfg.App.Env, cfg.Log.Level)
	if cfg.Log.Format != "" {
		log = logger.New(cfg.Log.Level, cfg.Log.Format)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewConnection(cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	log.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	created, err := database.SeedAdmin(ctx, db, cfg.Seed.AdminUsername, cfg.Seed.AdminPassword, cfg.Seed.AdminFullName)
	if err != nil {
		log.Fatal("failed to seed admin account", zap.Error(err))
	}
	if created {
		log.Warn("created bootstrap admin account, change its password", zap.String("username", cfg.Seed.AdminUsername))
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	bookRepo := repository.NewBookRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	userService := service.NewUserService(userRepo, requestRepo, auditRepo, txManager, cfg.JWT.Secret, cfg.JWT.Expiration, log)
	materialService := service.NewMaterialService(materialRepo, auditRepo, txManager, wsHub, log)
	bookService := service.NewBookService(bookRepo, auditRepo, txManager, wsHub, log)
	requestService := service.NewRequestService(requestRepo, materialRepo, auditRepo, txManager, wsHub, m, log)
	auditService := service.NewAuditService(auditRepo)
	statisticsService := service.NewStatisticsService(repository.NewStatisticsRepository(db))

	auth := middleware.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Expiration, cfg.IsProduction())
	middleware.SetupValidator()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logger.GinMiddleware(log), logger.Recovery(log), m.GinMiddleware())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ws_clients": wsHub.ClientCount()})
	})
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, auth.ParseToken)
	})

	// API Routing
	handler.NewUserHandler(userService, auth).RegisterRoutes(router.Group(""))
	handler.NewMaterialHandler(materialService, auth).RegisterRoutes(router.Group(""))
	handler.NewBookHandler(bookService, auth).RegisterRoutes(router.Group(""))
	handler.NewRequestHandler(requestService, auth).RegisterRoutes(router.Group(""))
	handler.NewAuditHandler(auditService, auth).RegisterRoutes(router.Group(""))
	handler.NewStatisticsHandler(statisticsService, auth).RegisterRoutes(router.Group(""))

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
