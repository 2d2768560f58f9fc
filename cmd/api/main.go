package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/nexusvoice/backend/internal/assets"
	"github.com/nexusvoice/backend/internal/config"
	"github.com/nexusvoice/backend/internal/handler"
	"github.com/nexusvoice/backend/internal/service/account"
	"github.com/nexusvoice/backend/internal/service/ai"
	"github.com/nexusvoice/backend/internal/service/conversation"
	"github.com/nexusvoice/backend/internal/service/roleassist"
	"github.com/nexusvoice/backend/internal/service/search"
	"github.com/nexusvoice/backend/internal/service/tts"
	"github.com/nexusvoice/backend/internal/store"
	"github.com/nexusvoice/backend/internal/store/memory"
	"github.com/nexusvoice/backend/internal/store/postgres"
	"github.com/nexusvoice/backend/internal/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Storage: postgres when configured, in-memory otherwise.
	var dataStore store.Store
	if cfg.Database.Enabled() {
		pool, poolErr := pgxpool.New(ctx, cfg.Database.URL)
		if poolErr != nil {
			log.Fatalf("failed to create database pool: %v", poolErr)
		}
		defer pool.Close()
		if pingErr := pool.Ping(ctx); pingErr != nil {
			log.Fatalf("failed to reach database: %v", pingErr)
		}
		dataStore = postgres.New(pool)
		log.Println("Postgres store initialized")
	} else {
		dataStore = memory.New()
		log.Println("DATABASE_URL 未配置，使用内存存储（仅适用于开发环境）")
	}

	var aiService ai.ChatService
	if cfg.AI.Enabled() {
		svc, aiErr := ai.NewService(ctx, cfg.AI)
		if aiErr != nil {
			log.Fatalf("failed to initialize AI service: %v", aiErr)
		}
		aiService = svc
		log.Println("AI service initialized successfully")
	} else {
		log.Fatal("Ark 凭证未配置，无法启动聊天服务")
	}

	audioStore, err := assets.NewDiskStore(os.Getenv("AUDIO_DIR"))
	if err != nil {
		log.Fatalf("failed to prepare audio storage: %v", err)
	}

	ttsService := tts.New(cfg.Speech, audioStore)
	if ttsService.Enabled() {
		log.Println("TTS service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	searchService := search.NewTavilyClient(cfg.Search)
	if searchService.Enabled() {
		log.Println("Tavily search service initialized successfully")
	} else {
		log.Println("Tavily 凭证未配置，深研模式将返回空检索结果")
	}

	chatService := conversation.NewService(dataStore, aiService, ttsService)
	roleAssistService := roleassist.NewService(dataStore, aiService, searchService, ttsService)
	accountService := account.NewService(dataStore, cfg.Auth)
	registry := stream.NewRegistry()

	router := handler.NewRouter(handler.Deps{
		Store:      dataStore,
		Account:    accountService,
		Chat:       chatService,
		RoleAssist: roleAssistService,
		Registry:   registry,
		Auth:       cfg.Auth,
		AudioDir:   audioStore.Dir(),
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("NexusVoice backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
