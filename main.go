package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"bookswap_go/config"
	"bookswap_go/controllers"
	"bookswap_go/logger"
	"bookswap_go/middleware"
	"bookswap_go/models"
	"bookswap_go/routes"
	"bookswap_go/services"
	"bookswap_go/websocket"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 加载 .env 文件
	envErr := godotenv.Load()

	if err := config.LoadFile(config.GetEnv("CONFIG_FILE", "config.yaml")); err != nil {
		panic(err)
	}

	// 初始化日志系统
	if err := logger.Init(config.GetEnv("GIN_MODE", "debug"), config.GetEnv("LOG_LEVEL", "")); err != nil {
		panic(err)
	}
	defer logger.Sync()

	log := logger.L()
	if envErr != nil {
		log.Info("no .env file found, using system environment variables")
	}

	if err := run(log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverConfig := config.GetServerConfig()

	// 1. 数据库
	if err := config.InitDatabase(); err != nil {
		return err
	}
	defer config.CloseDatabase()

	if err := models.AutoMigrate(config.DB); err != nil {
		return err
	}

	// 2. Redis（可选）
	redisConfig := config.GetRedisConfig()
	if serverConfig.RedisEnabled {
		if err := config.InitializeRedis(); err != nil {
			log.Warn("redis initialization failed, continuing without cache and realtime fan-out", zap.Error(err))
		}
	} else {
		log.Info("redis is disabled in configuration")
	}
	defer config.CloseRedis()
	rdb := config.RedisClient

	// 3. 服务
	db := config.DB
	jwtService := config.NewJWTService(config.GetJWTConfig())
	events := services.NewEventPublisher(rdb)

	authService := services.NewAuthService(db, rdb, jwtService)
	listingService := services.NewListingService(db, rdb, events)
	interactionService := services.NewInteractionService(db)
	matchService := services.NewMatchService(db, events)
	matchBookService := services.NewMatchBookService(db)
	exchangeService := services.NewExchangeService(db, matchBookService, events)
	transactionService := services.NewTransactionService(db, events)
	ratingService := services.NewRatingService(db)
	userService := services.NewUserService(db, listingService, ratingService)
	chatService := services.NewChatService(db, rdb, events)

	paymentConfig := config.GetPaymentConfig()
	var enqueuer services.TaskEnqueuer
	var taskClient *asynq.Client
	if rdb != nil {
		taskClient = asynq.NewClient(redisConfig.AsynqOpt())
		defer taskClient.Close()
		enqueuer = taskClient
	}
	paymentService := services.NewPaymentService(db, services.NewStripeGateway(paymentConfig), enqueuer, events, paymentConfig)

	// 4. 中间件与路由
	corsConfig := middleware.CORSConfigFromEnv()
	middleware.StartAccessLogWorkers()
	r := config.SetupRouter(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.CORS(corsConfig),
	)

	limiter := middleware.NewRateLimiter(middleware.GetRateLimitConfig())
	hub := websocket.NewHub(chatService, authService, rdb, corsConfig.AllowOrigins)

	routes.SetupRoutes(r, &routes.Handlers{
		Auth:        controllers.NewAuthController(authService),
		User:        controllers.NewUserController(userService),
		Listing:     controllers.NewListingController(listingService, interactionService),
		Match:       controllers.NewMatchController(interactionService, matchService, matchBookService),
		Exchange:    controllers.NewExchangeController(exchangeService),
		Payment:     controllers.NewPaymentController(paymentService),
		Transaction: controllers.NewTransactionController(transactionService, ratingService),
		Chat:        controllers.NewChatController(chatService),
		RequireAuth: middleware.AuthMiddleware(authService),
		RateLimit:   limiter.Middleware(),
		WebSocket:   hub.HandleConnection,
	})

	// 5. 后台任务
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})

	if rdb != nil {
		taskServer := asynq.NewServer(redisConfig.AsynqOpt(), asynq.Config{
			Concurrency: config.GetEnvInt("TASK_CONCURRENCY", 5),
			Queues:      map[string]int{services.PaymentQueue: 1},
		})
		mux := asynq.NewServeMux()
		paymentService.RegisterTasks(mux)

		if err := taskServer.Start(mux); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			taskServer.Shutdown()
			return nil
		})
	}

	// 6. HTTP 服务
	srv := config.NewHTTPServer(r)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("mode", serverConfig.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// 请求已全部结束，写完缓冲中的访问日志
		middleware.StopAccessLogWorkers()
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
