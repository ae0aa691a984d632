package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"capsules/internal/config"
	"capsules/internal/conversation"
	"capsules/internal/db"
	"capsules/internal/friendship"
	"capsules/internal/logger"
	"capsules/internal/middleware"
	"capsules/internal/profile"
	"capsules/internal/storage"
)

func main() {
	// 1. Config & Flags
	configFile := flag.String("config", "config", "config file name (without extension)")
	flag.Parse()

	v, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		log.Fatalf("❌ Invalid config: %v", err)
	}
	appLog := logger.NewLogger(cfg)

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	defer database.Conn.Close()
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// 4. Connect to Object Storage (Platform Layer)
	store, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Failed to connect to object storage: %v", err)
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("❌ Failed to prepare bucket %q: %v", cfg.Storage.Bucket, err)
	}
	log.Println("✅ Connected to Object Storage")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Initialize Profile Feature
	profileRepo := profile.NewRepository(database.Conn)
	profileService := profile.NewService(profileRepo, cfg.JWT.Secret)
	profileHandler := profile.NewHandler(profileService)

	// 6. Initialize Friendship Feature
	friendRepo := friendship.NewRepository(database.Conn)
	friendService := friendship.NewService(friendRepo, appLog)
	friendHandler := friendship.NewHandler(friendService)

	// 7. Initialize Conversation Feature
	resolver := storage.NewResolver(store, appLog, cfg.Resolver)
	broker := conversation.NewBroker(redisClient, appLog)

	hub := conversation.NewHub(appLog)
	go hub.Run(ctx)

	convRepo := conversation.NewRepository(database.Conn)
	convService := conversation.NewService(convRepo, broker, store, appLog)
	convHandler := conversation.NewHandler(hub, convService, convRepo, resolver, broker, appLog)

	authMiddleware := middleware.NewAuthMiddleware(profileService)

	// 8. Define Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/me", profileHandler.Me)
		r.Get("/api/profiles/search", profileHandler.Search)
		friendHandler.Routes(r)
		convHandler.Routes(r)
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Server starting on %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
