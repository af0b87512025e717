package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lexgig/lexgig-backend/internal/actor"
	"github.com/lexgig/lexgig-backend/internal/clock"
	"github.com/lexgig/lexgig-backend/internal/config"
	"github.com/lexgig/lexgig-backend/internal/feed"
	"github.com/lexgig/lexgig-backend/internal/handler"
	"github.com/lexgig/lexgig-backend/internal/middleware"
	"github.com/lexgig/lexgig-backend/internal/migration"
	"github.com/lexgig/lexgig-backend/internal/repository"
	"github.com/lexgig/lexgig-backend/internal/routes"
	"github.com/lexgig/lexgig-backend/internal/service"
	"github.com/lexgig/lexgig-backend/internal/ws"
	pkgcache "github.com/lexgig/lexgig-backend/pkg/cache"
	"github.com/lexgig/lexgig-backend/pkg/idgen"
	"github.com/lexgig/lexgig-backend/pkg/jwt"
	pkglogger "github.com/lexgig/lexgig-backend/pkg/logger"
	pkgredis "github.com/lexgig/lexgig-backend/pkg/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// @title           LexGig Coordinator API
// @version         1.0
// @description     Gig lifecycle, bidding and buyer/seller messaging
//
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	dotenvFiles := config.LoadDotEnv()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	log := pkglogger.GetLogger()
	log.Info().Str("env", env).Strs("env_files", dotenvFiles).Msg("starting")

	cfg, err := config.Load(config.Path(env))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.LogResolved(cfg)

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
	}
	if err := migration.Run(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
		)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, continuing with in-process feed and no cache")
			redisClient = nil
		}
	}

	if err := idgen.Init(cfg.Messaging.NodeID); err != nil {
		log.Fatal().Err(err).Msg("failed to init snowflake node")
	}

	// Message feed: redis pub/sub across instances, in-process otherwise
	var messageFeed feed.Feed
	if redisClient != nil {
		messageFeed = feed.NewRedis(redisClient)
	} else {
		messageFeed = feed.NewMemory()
	}
	cacheService := pkgcache.NewService(redisClient, cfg.Messaging.ConversationCacheTTL)

	// One single-writer actor per gig and per conversation
	gigActors := actor.NewGroup(cfg.Messaging.ActorIdleTimeout)
	conversationActors := actor.NewGroup(cfg.Messaging.ActorIdleTimeout)

	gigRepo := repository.NewGigRepository(db)
	bidRepo := repository.NewBidRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	messageService := service.NewMessageService(messageRepo, conversationRepo, messageFeed, conversationActors, clock.System{})

	wsHub := ws.NewHub(redisClient, messageFeed, messageService)
	go wsHub.Run()

	gigService := service.NewGigService(gigRepo, bidRepo, gigActors, wsHub)
	moderationService := service.NewModerationService(gigRepo, gigActors, wsHub)
	conversationService := service.NewConversationService(conversationRepo, gigRepo, cacheService)

	jwtManager := jwt.NewManager(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiresIn)*time.Second)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	allowOrigins := cfg.CORS.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3000"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitAndTrim(allowOrigins, ","),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining"},
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":  "ok",
			"service": "lexgig-backend",
			"time":    time.Now().Unix(),
		}
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
		if cacheService.IsAvailable() {
			body["redis"] = cacheService.Ping(c.Request.Context()) == nil
		}
		c.JSON(status, body)
	})

	routes.Setup(router, &routes.Handlers{
		Gig:          handler.NewGigHandler(gigService),
		Moderation:   handler.NewModerationHandler(moderationService),
		Conversation: handler.NewConversationHandler(conversationService, messageService),
		WS:           handler.NewWSHandler(wsHub, allowOrigins, cfg.Messaging.MaxSocketsPerMember),
	}, jwtManager, redisClient)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "not found"}})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	wsHub.Stop()
	gigActors.Close()
	conversationActors.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.GetDSN())
	default:
		mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("invalid mysql DSN: %w", err)
		}
		if mysqlCfg.Params == nil {
			mysqlCfg.Params = map[string]string{}
		}
		mysqlCfg.Params["time_zone"] = "'+00:00'"
		dialector = mysql.Open(mysqlCfg.FormatDSN())
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
	return db, nil
}

// splitAndTrim splits a string by delimiter and drops empty parts
func splitAndTrim(s, delimiter string) []string {
	var parts []string
	for _, part := range strings.Split(s, delimiter) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
