package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"dealsense/internal/audit"
	"dealsense/internal/buffer"
	"dealsense/internal/calls"
	"dealsense/internal/config"
	"dealsense/internal/extraction"
	"dealsense/internal/httpapi"
	"dealsense/internal/llm"
	"dealsense/internal/orchestrator"
	"dealsense/internal/transcription"
	"dealsense/internal/ws"
	"dealsense/pkg/logger"
	"dealsense/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional .env for local development; real environments set vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		repo  calls.Repository
		buf   buffer.Buffer
		side  buffer.SideStore
		guard orchestrator.LiveCallGuard
	)

	bufOpts := buffer.Options{MaxChunks: cfg.Call.BufferMaxChunks, TTL: cfg.Call.BufferTTL}

	if cfg.Call.MemoryOnly {
		log.Warn("memory-only mode: no postgres, no redis, state is process-local")
		repo = calls.NewMemoryRepo()
		mem := buffer.NewMemory(bufOpts)
		buf, side = mem, mem
	} else {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = calls.NewPostgresRepo(db)

		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		red := buffer.NewRedis(rdb, bufOpts)
		buf, side = red, red

		if cfg.Call.MaxConcurrent > 0 {
			guard = orchestrator.NewRedisLiveCallGuard(rdb, cfg.Call.MaxConcurrent, 0)
		}
	}

	var answerer llm.Answerer
	var model extraction.ModelClient
	if cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
		if err != nil {
			log.Error("llm init failed", "err", err)
			os.Exit(1)
		}
		answerer, model = client, client
	} else {
		log.Warn("no llm api key: queries get static answers, summaries use the fallback parser")
		answerer = llm.StaticAnswerer{}
	}

	trans, err := transcription.ForMode(cfg.Call.TranscriptionMode)
	if err != nil {
		log.Error("transcription init failed", "err", err)
		os.Exit(1)
	}

	trail := audit.NewService(audit.NewMemoryRepo())

	hub := ws.NewHub(log)
	orch := orchestrator.New(orchestrator.Options{
		Repo:               repo,
		Buffer:             buf,
		Side:               side,
		Hub:                hub,
		Transcriber:        trans,
		Answerer:           answerer,
		Pipeline:           extraction.New(model),
		Logger:             log,
		Guard:              guard,
		Trail:              trail,
		QueryWindowSeconds: float64(cfg.Call.QueryWindowSeconds),
		SellerName:         cfg.Call.SellerName,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{Repo: repo, Orch: orch, Trail: trail}, ws.NewHandler(hub, orch, log))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Let in-flight summaries land before the process exits.
	orch.WaitExtractions()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
