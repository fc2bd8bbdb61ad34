package app

import (
	"context"
	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/controller"
	"llm_eval_backend/internal/repository"
	"llm_eval_backend/internal/service"
	"llm_eval_backend/internal/worker"
	"llm_eval_backend/pkg/configwatcher"
	"llm_eval_backend/pkg/database"
	"llm_eval_backend/pkg/logger"
	"llm_eval_backend/pkg/monitoring"
	"llm_eval_backend/pkg/security"
	"llm_eval_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	ConfigDir       string
	services        *services
	queue           *worker.Client
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	question       *repository.QuestionRepository
	standardAnswer *repository.StandardAnswerRepository
	crowdsourcing  *repository.CrowdsourcingRepository
	dataset        *repository.DatasetRepository
	llm            *repository.LlmRepository
	batch          *repository.EvaluationBatchRepository
	evaluation     *repository.EvaluationRepository
}

type services struct {
	progress      *service.ProgressHub
	storage       *service.StorageService
	judge         *service.JudgeService
	question      *service.StandardQuestionService
	rubric        *service.RubricService
	crowdsourcing *service.CrowdsourcingService
	dataset       *service.DatasetService
	llm           *service.LlmService
	batch         *service.EvaluationBatchService
	evaluation    *service.EvaluationService
}

type controllers struct {
	question       *controller.QuestionController
	standardAnswer *controller.StandardAnswerController
	crowdsourcing  *controller.CrowdsourcingController
	dataset        *controller.DatasetController
	llm            *controller.LlmController
	batch          *controller.EvaluationBatchController
	evaluation     *controller.EvaluationController
	health         *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		question:       repository.NewQuestionRepository(db),
		standardAnswer: repository.NewStandardAnswerRepository(db),
		crowdsourcing:  repository.NewCrowdsourcingRepository(db),
		dataset:        repository.NewDatasetRepository(db),
		llm:            repository.NewLlmRepository(db),
		batch:          repository.NewEvaluationBatchRepository(db),
		evaluation:     repository.NewEvaluationRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.progress = service.NewProgressHub(rdb)
	s.storage = service.NewStorageService(cfg)
	s.judge = service.NewJudgeService(cfg.AI)

	s.question = service.NewStandardQuestionService(repos.question)
	s.rubric = service.NewRubricService(repos.standardAnswer, repos.question)
	s.crowdsourcing = service.NewCrowdsourcingService(repos.crowdsourcing, repos.question, repos.standardAnswer)
	s.dataset = service.NewDatasetService(repos.dataset, repos.question)
	s.llm = service.NewLlmService(repos.llm, repos.question, repos.dataset)

	s.batch = service.NewEvaluationBatchService(
		repos.batch,
		repos.evaluation,
		repos.dataset,
		repos.standardAnswer,
		repos.llm,
		repos.question,
		cfg.Evaluation,
	)
	s.batch.Judge = s.judge
	s.batch.Storage = s.storage
	s.batch.Cache = rdb
	s.batch.Progress = s.progress
	if a.queue != nil {
		s.batch.Queue = a.queue
	}

	s.evaluation = service.NewEvaluationService(repos.evaluation, repos.batch, repos.standardAnswer, repos.llm, s.batch)
	s.evaluation.Storage = s.storage
	s.evaluation.Cache = rdb

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		question:       controller.NewQuestionController(s.question),
		standardAnswer: controller.NewStandardAnswerController(s.rubric),
		crowdsourcing:  controller.NewCrowdsourcingController(s.crowdsourcing),
		dataset:        controller.NewDatasetController(s.dataset),
		llm:            controller.NewLlmController(s.llm),
		batch:          controller.NewEvaluationBatchController(s.batch, s.progress),
		evaluation:     controller.NewEvaluationController(s.evaluation),
		health:         controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ClientIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 配置热更新；未启用队列时接管重启前遗留的运行中批次
func (a *App) startBackgroundTasks(ctx context.Context, s *services) {
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.batch.UpdateEvaluationConfig(newCfg.Evaluation)
	})

	if a.ConfigDir != "" {
		go func() {
			file := filepath.Join(a.ConfigDir, "config.yaml")
			err := configwatcher.WatchConfig(ctx, file, func(newCfg *config.Config) {
				for _, cb := range a.configCallbacks {
					cb(newCfg)
				}
			})
			if err != nil {
				logger.Log.Warn("配置监听启动失败", zap.Error(err))
			}
		}()
	}

	if a.queue == nil {
		s.batch.RecoverInterrupted()
	}
}

// startProgressRelay 只在 HTTP 进程中订阅，worker 进程只负责发布
func (a *App) startProgressRelay(ctx context.Context, s *services) {
	go s.progress.Run(ctx)
}

func newBase(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.ForceMigrate || cfg.Server.Mode != "release")
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}
	if cfg.Queue.Enabled {
		app.queue = worker.NewClient(cfg.Redis.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	}

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}
	return app
}

func NewApp(cfg *config.Config, configDir string) *App {
	app := newBase(cfg)
	app.ConfigDir = configDir
	if cfg.MigrateOnly || cfg.WorkerOnly {
		return app
	}

	repos := app.initRepositories(app.DB)
	services := app.initServices(repos, cfg, app.Redis)
	app.services = services
	controllers := app.initControllers(services, app.DB, app.Redis)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

// RunWorker 只消费评测队列，不提供 HTTP 服务
func (a *App) RunWorker() {
	if !a.Config.Queue.Enabled {
		log.Fatal("worker mode requires queue.enabled")
	}
	repos := a.initRepositories(a.DB)
	s := a.initServices(repos, a.Config, a.Redis)
	a.services = s

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.startBackgroundTasks(ctx, s)

	srv := worker.NewServer(a.Config.Redis.RedisAddr(), a.Config.Redis.Password, a.Config.Redis.DB, a.Config.Queue.Concurrency, s.batch)
	logger.Log.Info("评测 worker 启动", zap.Int("concurrency", a.Config.Queue.Concurrency))
	// asynq 自行处理退出信号
	if err := srv.Run(); err != nil {
		logger.Log.Fatal("worker stopped", zap.Error(err))
	}
	a.close()
}

func (a *App) Run() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	a.startBackgroundTasks(ctx, a.services)
	a.startProgressRelay(ctx, a.services)

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	a.close()

	log.Println("Server exiting")
}

func (a *App) close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			logger.Log.Warn("关闭队列客户端失败", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = logger.Log.Sync()
}
