package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/masslabs/passport/internal/api/handlers"
	"github.com/masslabs/passport/internal/catalog"
	"github.com/masslabs/passport/internal/config"
	"github.com/masslabs/passport/internal/models"
	"github.com/masslabs/passport/internal/notify"
	"github.com/masslabs/passport/internal/reminder"
	"github.com/masslabs/passport/internal/repository"
	"github.com/masslabs/passport/internal/service"
	"github.com/masslabs/passport/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting passport service", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	vehicleRepo := repository.NewVehicleRepository(db)
	recordRepo := repository.NewServiceRecordRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	// 加载规则目录
	catalogs, err := catalog.LoadSet(cfg.CatalogDir, logger)
	if err != nil {
		logger.Fatal("Failed to load rule catalog", zap.Error(err))
	}

	policy, err := reminder.PolicyFromConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to build reminder policy", zap.Error(err))
	}

	// 通知网关
	gateways := buildGateways(ctx, cfg, logger)

	renderer, err := notify.NewRenderer(cfg.WorkshopName, nil)
	if err != nil {
		logger.Fatal("Failed to compile notification templates", zap.Error(err))
	}

	guard, closeGuard := buildGuard(ctx, cfg, logger)
	defer closeGuard()

	dispatcher := notify.NewDispatcher(
		logger,
		notify.OptionsFromConfig(cfg),
		gateways,
		reminderRepo,
		vehicleRepo,
		renderer,
		guard,
	)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)

	// 创建合规服务
	complianceService := service.NewComplianceService(
		logger,
		service.Options{
			Interval:     cfg.BatchInterval,
			Workers:      cfg.AggregationWorkers,
			AutoDispatch: cfg.AutoDispatch,
		},
		catalogs,
		policy,
		vehicleRepo,
		recordRepo,
		reminderRepo,
		dispatcher,
		wsHub,
	)
	dispatcher.OnUpdate(complianceService.OnReminderUpdate)

	vehicleOps := service.NewVehicleOps(logger, vehicleRepo, recordRepo, complianceService)
	passportService := service.NewPassportService(vehicleRepo, recordRepo, catalogs, policy.Lead, cfg.PublicBaseURL)

	// 新连接的客户端先收到本组织当前的提醒队列
	wsHub.SetInitDataProvider(func(orgID string) *ws.InitData {
		items, err := complianceService.ListReminders(ctx, orgID)
		if err != nil {
			logger.Error("Failed to load reminders for websocket init", zap.String("org_id", orgID), zap.Error(err))
			return nil
		}
		return &ws.InitData{Reminders: items, Summary: summarize(items)}
	})
	go wsHub.Run(ctx)

	// 启动定时批处理
	if err := complianceService.Start(ctx); err != nil {
		logger.Fatal("Failed to start compliance service", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		[]byte(cfg.JWTSecret),
		complianceService,
		vehicleOps,
		passportService,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止批处理，正在运行的批处理只提交已处理完的车辆
	complianceService.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// buildGateways 按配置创建短信与邮件网关，未配置的渠道不发送
func buildGateways(ctx context.Context, cfg *config.Config, logger *zap.Logger) map[models.Channel]notify.Gateway {
	gateways := make(map[models.Channel]notify.Gateway)

	switch cfg.SMSProvider {
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioFromNumber == "" {
			logger.Warn("Twilio credentials not set, SMS disabled")
			break
		}
		gateways[models.ChannelSMS] = notify.NewTwilioGateway(logger, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	case "sns":
		gw, err := notify.NewSNSGateway(ctx, logger, cfg.AWSRegion)
		if err != nil {
			logger.Error("Failed to create SNS gateway, SMS disabled", zap.Error(err))
			break
		}
		gateways[models.ChannelSMS] = gw
	default:
		logger.Warn("Unknown SMS provider, SMS disabled", zap.String("provider", cfg.SMSProvider))
	}

	if cfg.SMTPHost != "" {
		gw, err := notify.NewSMTPGateway(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.SMTPFromEmail,
			FromName:  cfg.SMTPFromName,
		})
		if err != nil {
			logger.Error("Failed to create SMTP gateway, email disabled", zap.Error(err))
		} else {
			gateways[models.ChannelEmail] = gw
		}
	} else {
		logger.Warn("SMTP host not set, email disabled")
	}

	for ch := range gateways {
		logger.Info("Notification channel enabled", zap.String("channel", string(ch)))
	}
	return gateways
}

// buildGuard 配置了 Redis 时使用分布式去重锁，否则使用进程内锁
func buildGuard(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Guard, func()) {
	if cfg.RedisAddr == "" {
		return notify.NewMemoryGuard(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unavailable, using in-process dedup lock", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = client.Close()
		return notify.NewMemoryGuard(), func() {}
	}

	logger.Info("Using Redis dedup lock", zap.String("addr", cfg.RedisAddr))
	return notify.NewRedisGuard(client), func() { _ = client.Close() }
}

// summarize 各状态的提醒数量
func summarize(items []models.ReminderItem) map[models.ReminderStatus]int {
	out := make(map[models.ReminderStatus]int)
	for _, it := range items {
		out[it.Status]++
	}
	return out
}
