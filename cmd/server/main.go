package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"meal-optimizer/internal/clipper"
	"meal-optimizer/internal/config"
	"meal-optimizer/internal/database"
	"meal-optimizer/internal/httpapi"
	"meal-optimizer/internal/jobs"
	"meal-optimizer/internal/llm"
	"meal-optimizer/internal/logging"
	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/pantry"
	"meal-optimizer/internal/planner"
	"meal-optimizer/internal/telegram"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. Storage
	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	runs := planner.NewPlanRepository(db.SQL)
	history := metrics.NewStore(db.SQL)
	pantryRepo := pantry.NewRepository(db.SQL, logger)

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorSet := metrics.NewCollectors(reg)

	// 4. Solvers
	pool := jobs.NewPool(cfg.MaxConcurrentSolves)
	var queue *jobs.Queue
	queue = jobs.NewQueue(pool,
		jobs.WithLogger(logger),
		jobs.WithRunRecorder(runs),
		jobs.WithCapacity(cfg.JobQueueSize),
		jobs.WithObserver(func(job jobs.Job) {
			collectorSet.SetJobsInFlight(queue.Pending())
			if job.Result == nil {
				return
			}
			p := job.Problem()
			collectorSet.ObserveSolve(string(job.Result.Status), time.Duration(job.LatencyMS)*time.Millisecond, len(p.Recipes), job.Result.TimedOut)
			if err := history.Record(context.Background(), metrics.SolveMetric{
				Feature:   job.Feature,
				Status:    string(job.Result.Status),
				Recipes:   len(p.Recipes),
				Days:      p.PlanningHorizon.Days,
				LatencyMS: job.LatencyMS,
				TimedOut:  job.Result.TimedOut,
			}); err != nil {
				logger.Warn("Failed to record job metric", zap.String("job_id", job.ID), zap.Error(err))
			}
		}),
	)

	server := httpapi.NewServer(httpapi.Options{
		Pool:              pool,
		Queue:             queue,
		Runs:              runs,
		History:           history,
		DB:                db,
		DBPath:            cfg.DatabasePath,
		Collectors:        collectorSet,
		Gatherer:          reg,
		Logger:            logger,
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		SuggestRatePerSec: cfg.SuggestRatePerSec,
		MaxSolveTimeout:   time.Duration(cfg.SolveTimeoutMS) * time.Millisecond,
	})
	router := server.Router()
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, every request runs as the default tenant")
	}

	// 5. Optional Telegram Bot
	if cfg.TelegramEnabled() {
		deps := telegram.Deps{
			Pantry:         pantryRepo,
			Pool:           pool,
			Clipper:        clipper.NewClipper(pantryRepo, logger),
			Stats:          history,
			DBPath:         cfg.DatabasePath,
			AllowedUserIDs: cfg.TelegramAllowedUserIDs,
			Logger:         logger,
		}
		if cfg.GeminiAPIKey != "" {
			gemini, err := llm.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, "")
			if err != nil {
				logger.Fatal("Failed to create Gemini client", zap.Error(err))
			}
			defer gemini.Close()
			deps.Narrator = llm.NewNarrator(gemini, logger)
		}
		bot, err := telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramWebhookURL, deps)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram Bot", zap.Error(err))
		}
		router.POST("/telegram/webhook", gin.WrapH(bot.Handler()))
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := queue.Shutdown(ctxShutdown); err != nil {
		logger.Error("Jobs did not finish before shutdown", zap.Error(err))
	}
	logger.Info("Server exiting")
}
