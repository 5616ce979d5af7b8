package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"oraclebot/internal/analysis"
	"oraclebot/internal/calibration"
	"oraclebot/internal/config"
	"oraclebot/internal/db"
	"oraclebot/internal/decision"
	"oraclebot/internal/executor"
	"oraclebot/internal/handler"
	"oraclebot/internal/logger"
	"oraclebot/internal/pipeline"
	"oraclebot/internal/position"
	"oraclebot/internal/provider/gamma"
	"oraclebot/internal/provider/llm"
	"oraclebot/internal/provider/news"
	gormrepository "oraclebot/internal/repository/gorm"
	"oraclebot/internal/risk"
	"oraclebot/internal/scheduler"
	"oraclebot/internal/stream"
)

func main() {
	cfgPath := os.Getenv("OB_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if raw := os.Getenv("OB_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.Ping(dbConn); err != nil {
		log.Fatal("db unreachable", zap.Error(err))
	}
	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	gammaHTTP := &http.Client{Timeout: cfg.Gamma.Timeout}
	gammaClient := gamma.NewClient(gammaHTTP, cfg.Gamma.BaseURL)

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		log.Warn("llm api key env is empty", zap.String("env", cfg.LLM.APIKeyEnv))
	}
	llmClient := llm.NewClient(cfg.LLM, apiKey, log)

	var newsFetcher *news.Fetcher
	if cfg.News.Enabled {
		newsFetcher = news.NewFetcher(cfg.News, log)
	}

	tracker := calibration.NewTracker(store, cfg.Calibration, log)
	riskGate := risk.NewGate(cfg.Risk, log)
	rehydrateRiskGate(riskGate, store, log)

	var exec executor.OrderExecutor
	if strings.EqualFold(cfg.Executor.Mode, "live") {
		log.Info("live execution enabled", zap.String("base_url", cfg.Executor.BaseURL))
		exec = executor.NewLive(cfg.Executor, log)
	} else {
		log.Info("paper execution mode")
		exec = executor.NewPaper(log)
	}

	pipe := &pipeline.Pipeline{
		Repo:      store,
		Markets:   gammaClient,
		Ensemble:  analysis.NewEnsemble(llmClient, cfg.LLM.Model, cfg.Ensemble, log),
		Consensus: analysis.NewConsensusBuilder(tracker, cfg.Analysis, log),
		Validator: analysis.NewValidator(cfg.Analysis, log),
		Blender:   analysis.NewBlender(store, cfg.Analysis, log),
		Engine:    decision.NewEvaluator(store, cfg.Trading, log),
		Risk:      riskGate,
		Cfg:       cfg.Trading,
		Logger:    log,
	}
	if newsFetcher != nil {
		pipe.News = newsFetcher
	}

	positions := &position.Manager{
		Book:        store,
		Markets:     gammaClient,
		Reanalyzer:  pipe,
		Risk:        riskGate,
		Exec:        exec,
		Settlements: tracker,
		Cfg:         cfg.Exit,
		Logger:      log,
	}
	pipe.Trader = positions

	var marks *stream.Cache
	if cfg.Stream.Enabled {
		marks = stream.NewCache(cfg.Stream, log)
		pipe.Stream = marks
		positions.Marks = marks
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	ops := &handler.Handler{Repo: store, Risk: riskGate, Positions: positions, Logger: log}
	ops.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if marks != nil {
		go marks.Run(ctx)
	}

	runner := scheduler.NewRunner(log)
	if cfg.Cron.Enabled {
		if err := runner.Add(cfg.Cron.Scan, "scan", func(ctx context.Context) {
			if err := pipe.ScanOnce(ctx); err != nil {
				log.Warn("scan cycle failed", zap.Error(err))
			}
		}); err != nil {
			log.Fatal("register scan cycle failed", zap.Error(err))
		}
		if err := runner.Add(cfg.Cron.Monitor, "monitor", func(ctx context.Context) {
			if err := positions.MonitorOnce(ctx); err != nil {
				log.Warn("monitor cycle failed", zap.Error(err))
			}
		}); err != nil {
			log.Fatal("register monitor cycle failed", zap.Error(err))
		}
		if cfg.Calibration.Enabled {
			if err := runner.Add(cfg.Cron.Calibration, "calibration", func(ctx context.Context) {
				if err := tracker.Recompute(ctx); err != nil {
					log.Warn("calibration cycle failed", zap.Error(err))
				}
			}); err != nil {
				log.Fatal("register calibration cycle failed", zap.Error(err))
			}
		}
		runner.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	runner.Stop(shutdownCtx)
}

// rehydrateRiskGate reloads today's realized PnL so a restart cannot forget
// losses already taken.
func rehydrateRiskGate(gate *risk.Gate, store *gormrepository.Store, log *zap.Logger) {
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	closed, err := store.ListClosedPositionsSince(ctx, todayStart)
	if err != nil {
		log.Warn("risk gate rehydrate failed", zap.Error(err))
		return
	}
	gate.Rehydrate(closed)
	if len(closed) > 0 {
		log.Info("risk gate rehydrated",
			zap.Int("closed_today", len(closed)),
			zap.String("daily_pnl", gate.DailyPnL().String()))
	}
}
