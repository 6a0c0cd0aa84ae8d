package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/npezzotti/chatrelay/internal/api"
	"github.com/npezzotti/chatrelay/internal/config"
	"github.com/npezzotti/chatrelay/internal/database"
	"github.com/npezzotti/chatrelay/internal/server"
	"github.com/npezzotti/chatrelay/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

var (
	addr           string
	store          string
	dsn            string
	mongoDatabase  string
	migrate        bool
	defaultRoom    string
	historyLimit   int
	maxFileSize    int64
	allowedOrigins stringSliceFlag
)

func openStore(ctx context.Context, cfg *config.Config) (database.ChatRepository, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		if cfg.RunMigrations {
			if err := database.Migrate(cfg.DatabaseDSN); err != nil {
				return nil, err
			}
		}
		return database.NewPgChatRepository(cfg.DatabaseDSN)
	case config.StoreMongo:
		return database.NewMongoChatRepository(ctx, cfg.DatabaseDSN, cfg.MongoDatabase)
	default:
		return database.NewMemoryChatRepository(), nil
	}
}

func main() {
	logger := log.New(os.Stderr, "[chatrelay] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("CHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&store, "store", envOr("CHAT_STORE", config.StoreMemory), "message store: postgres, mongo or memory")
	flag.StringVar(&dsn, "dsn", envOr("CHAT_DATABASE_DSN", ""), "database connection string")
	flag.StringVar(&mongoDatabase, "mongo-db", envOr("CHAT_MONGO_DATABASE", config.DefaultMongoDB), "mongo database name")
	flag.BoolVar(&migrate, "migrate", envBool("CHAT_MIGRATE", false), "apply postgres migrations on startup")
	flag.StringVar(&defaultRoom, "default-room", envOr("CHAT_DEFAULT_ROOM", config.DefaultRoom), "room every user joins on login")
	flag.IntVar(&historyLimit, "history-limit", envInt("CHAT_HISTORY_LIMIT", config.DefaultHistoryLimit), "messages returned on login")
	flag.Int64Var(&maxFileSize, "max-file-size", int64(envInt("CHAT_MAX_FILE_SIZE", config.DefaultMaxFileSize)), "maximum upload size in bytes")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("CHAT_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, store, dsn, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.MongoDatabase = mongoDatabase
	cfg.RunMigrations = migrate
	cfg.DefaultRoom = defaultRoom
	cfg.HistoryLimit = historyLimit
	cfg.MaxFileSize = maxFileSize

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := openStore(openCtx, cfg)
	openCancel()
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()
	logger.Printf("using %s message store", cfg.StoreDriver)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, db, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
