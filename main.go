package main

import (
	"context"
	"log"
	"os"
	"time"

	"tutorchat/internal/api"
	"tutorchat/internal/config"
	"tutorchat/internal/redis"
	"tutorchat/internal/service/analyzer"
	"tutorchat/internal/service/completion"
	"tutorchat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfgPath := os.Getenv("TUTORCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("TUTORCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer cache.Close()
	}

	provider := cfg.BasicConfig.DefaultProvider
	if provider == "" {
		provider = "openai"
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		log.Fatalf("provider %s not configured", provider)
	}
	completer, err := completion.NewService(context.Background(), provider, provCfg)
	if err != nil {
		log.Fatalf("init completion service: %v", err)
	}

	analyzerClient := analyzer.NewClient(cfg.BasicConfig.AnalyzerBaseURL)

	store := storage.NewTranscriptStore(db)
	cacheTTL := time.Duration(cfg.BasicConfig.HistoryCacheTTLSecs) * time.Second
	handlers := api.NewHandler(completer, analyzerClient, store, cache,
		cfg.BasicConfig.HistoryLimit, cacheTTL, cfg.BasicConfig.MaxUploadBytes)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":3000"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
