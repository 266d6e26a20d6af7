package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	apimiddleware "marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/api/router"
	"marketchat/internal/adapter/repository"
	domainrepo "marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/auth"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/internal/infrastructure/pubsub"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Setup(cfg.Environment)
	defer logger.Sync()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// every long-running piece shares ctx, so one failing stops the rest
	group, ctx := errgroup.WithContext(sigCtx)

	var (
		firebaseApp     *fbapp.App
		firestoreClient *firestore.Client
	)
	if cfg.UsesFirebase() {
		opt := firebaseCredentials(cfg.Firebase)

		firebaseApp, err = fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.Firebase.ProjectID}, opt)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}

		firestoreClient, err = firestore.NewClient(ctx, cfg.Firebase.ProjectID, opt)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()
	}

	var (
		chatRepo    domainrepo.ChatRepository
		userRepo    domainrepo.UserRepository
		productRepo domainrepo.ProductRepository
	)

	switch cfg.StoreDriver {
	case config.StoreFirestore:
		chatRepo = repository.NewFirestoreChatRepository(firestoreClient)
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open Postgres: %v", err)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to reach Postgres: %v", err)
		}
		if err := repository.MigratePostgres(ctx, db); err != nil {
			log.Fatalf("Failed to migrate Postgres schema: %v", err)
		}
		chatRepo = repository.NewPostgresChatRepository(db)
	default:
		chatRepo = repository.NewMemoryChatRepository()
	}

	// Products and users belong to the marketplace. Without Firestore they come
	// from an in-memory directory, optionally seeded from a file.
	if firestoreClient != nil {
		userRepo = repository.NewFirestoreUserRepository(firestoreClient)
		productRepo = repository.NewFirestoreProductRepository(firestoreClient)
	} else {
		directory := repository.NewMemoryDirectory()
		if cfg.MemorySeedPath != "" {
			if err := loadSeed(directory, cfg.MemorySeedPath); err != nil {
				log.Fatalf("Failed to load directory seed: %v", err)
			}
			logger.Info("Loaded directory seed from %s", cfg.MemorySeedPath)
		}
		userRepo = directory.Users()
		productRepo = directory.Products()
	}

	var (
		resolver      auth.IdentityResolver
		authenticator *auth.Authenticator
	)
	switch cfg.AuthProvider {
	case config.AuthFirebase:
		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Auth: %v", err)
		}
		resolver = auth.NewFirebaseResolver(authClient)
	default:
		authenticator = auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry)
		resolver = authenticator
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics, err := metrics.New(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	chatUseCase := usecase.NewChatUseCase(chatRepo, userRepo, productRepo, nil).WithMetrics(appMetrics)

	wsManager := websocket.NewManager(chatUseCase.IsParticipant).WithMetrics(appMetrics)

	var routeLimiter apimiddleware.Limiter
	if cfg.RateLimitEnabled {
		limiter := ratelimit.NewRateLimiter(nil)
		limiter.StartCleanupRoutine(ctx)
		chatUseCase.WithRateLimiter(limiter)
		wsManager.WithRateLimiter(limiter)
		routeLimiter = limiter
	}

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		relay := pubsub.NewRedisRelay(redisClient, cfg.Redis.Channel)
		wsManager.WithRelay(relay)
		group.Go(func() error {
			// publish falls back to local delivery, so a dead relay is not fatal
			if err := relay.Run(ctx, wsManager); err != nil {
				logger.Error("Broadcast relay stopped: %v", err)
			}
			return nil
		})
	}

	chatUseCase.WithBroadcaster(wsManager)
	wsManager.Start(ctx)

	// Tokens can only be minted locally when we are the issuer.
	var devTokens handler.TokenIssuer
	if cfg.IsDevelopment() && authenticator != nil {
		devTokens = authenticator
	}
	handler.Setup(chatUseCase, wsManager, devTokens)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.Metrics(appMetrics, "/metrics", "/ws"))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(resolver)
	wsHandler := handler.NewWebSocketHandler(wsManager, authMiddleware)

	router.Setup(e, authMiddleware, wsHandler, router.Options{
		Environment: cfg.Environment,
		Limiter:     routeLimiter,
		Gatherer:    registry,
	})

	group.Go(func() error {
		logger.Info("Starting server on port %s (store=%s, auth=%s)", cfg.ServerPort, cfg.StoreDriver, cfg.AuthProvider)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("Stopped with error: %v", err)
	}
}

func firebaseCredentials(fc config.FirebaseConfig) option.ClientOption {
	if fc.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(fc.ServiceAccountJSON))
	}

	path := fc.ServiceAccountPath
	if path == "" {
		path = "./firebase-service-account.json"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Fatalf("Service account file does not exist: %s", path)
	}

	logger.Info("Using Firebase service account from file: %s", path)
	return option.WithCredentialsFile(path)
}

func loadSeed(directory *repository.MemoryDirectory, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return directory.LoadSeed(f)
}
