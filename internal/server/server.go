package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"dolt-chroma-sync/internal/chunker"
	"dolt-chroma-sync/internal/config"
	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/handlers"
	"dolt-chroma-sync/internal/repositories"
	"dolt-chroma-sync/internal/routes"
	"dolt-chroma-sync/internal/services"
	"dolt-chroma-sync/internal/workers"
)

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewServer wires the full sync stack and returns the HTTP server. Dolt,
// ChromaDB, and the local state file are required; Redis is optional and
// only disables async jobs when missing.
func NewServer() (*http.Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Versioning engine
	logger.Printf("Connecting to Dolt: %s:%d/%s", cfg.DoltHost, cfg.DoltPort, cfg.DoltDatabase)
	doltClient, err := db.NewDoltClient(db.DoltConfig{
		DSN:      cfg.DoltDSN(),
		Database: cfg.DoltDatabase,
		Timeout:  cfg.BackendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dolt connection failed: %w", err)
	}

	// Vector store
	logger.Printf("Connecting to ChromaDB: %s:%d", cfg.ChromaHost, cfg.ChromaPort)
	chromaClient := db.NewChromaDBClient(db.ChromaDBConfig{
		Host:     cfg.ChromaHost,
		Port:     cfg.ChromaPort,
		Tenant:   cfg.ChromaTenant,
		Database: cfg.ChromaDatabase,
		Timeout:  cfg.BackendTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := chromaClient.Heartbeat(ctx); err != nil {
		doltClient.Close()
		return nil, fmt.Errorf("chromadb connection failed: %w", err)
	}

	// Local sync-state bookkeeping
	stateDB, err := db.NewLocalStateDB(cfg.StateDBPath)
	if err != nil {
		doltClient.Close()
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Repositories
	versionRepo := repositories.NewDoltVersionRepository(doltClient)
	vectorRepo := repositories.NewChromaVectorRepository(chromaClient)
	stateRepo := repositories.NewSQLiteSyncStateRepository(stateDB)
	deletionRepo := repositories.NewSQLiteDeletionRepository(stateDB)
	jobRepo := initializeJobQueue(cfg, logger)

	// Services
	ck := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	delta := services.NewDoltDeltaService(versionRepo, logger)
	detector := services.NewLocalChangeDetector(vectorRepo, delta, deletionRepo, ck,
		cfg.RepoPath, cfg.DetectionWorkers, cfg.DetectionTimeout, logger)
	stager := services.NewStagerService(versionRepo, deletionRepo, cfg.RepoPath, logger)
	syncService := services.NewSyncService(versionRepo, vectorRepo, stateRepo, deletionRepo,
		delta, detector, stager, ck, cfg.RepoPath, cfg.AutoCommit, logger)
	editorService := services.NewDocumentEditorService(vectorRepo, deletionRepo, ck, cfg.RepoPath, logger)

	// Background worker (only with a job queue)
	var syncWorker *workers.SyncWorker
	var jobHandler *handlers.JobHandler
	if jobRepo != nil {
		syncWorker = workers.NewSyncWorker(workers.SyncWorkerConfig{
			WorkerConfig: workers.DefaultWorkerConfig("sync-worker"),
			Jobs:         jobRepo,
			Pipelines:    syncService,
			Logger:       logger,
		})
		if err := syncWorker.Start(context.Background()); err != nil {
			logger.Printf("WARN: failed to start sync worker: %v", err)
		} else {
			jobHandler = handlers.NewJobHandler(jobRepo, syncWorker, logger)
			logger.Println("Sync worker started")
		}
	}

	healthBackends := map[string]handlers.Pinger{
		"dolt":     doltClient,
		"chromadb": vectorRepo,
		"redis":    nil,
	}
	if jobRepo != nil {
		healthBackends["redis"] = jobRepo
	}

	h := &routes.Handlers{
		Home:        handlers.HomeHandler,
		Health:      handlers.NewHealthHandler(healthBackends),
		Sync:        handlers.NewSyncHandler(syncService, jobRepo, logger),
		Collections: handlers.NewCollectionHandler(editorService, vectorRepo, logger),
		Jobs:        jobHandler,
	}

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h)

	// Add Swagger endpoints
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", cfg.ServerPort)),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	logger.Printf("Sync server ready on port %d (repo: %s, auto-commit: %v)",
		cfg.ServerPort, cfg.RepoPath, cfg.AutoCommit)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: corsMiddleware(router),
	}, nil
}

// initializeJobQueue connects the Redis-backed job repository. A missing
// Redis only disables async pipeline runs.
func initializeJobQueue(cfg *config.Config, logger *log.Logger) repositories.JobRepository {
	host, port := splitAddr(cfg.RedisAddr)

	redisConfig := db.DefaultRedisConfig()
	redisConfig.Host = host
	redisConfig.Port = port
	redisConfig.Password = cfg.RedisPassword
	redisConfig.DB = cfg.RedisDB

	logger.Printf("Connecting to Redis: %s:%d (DB: %d)", redisConfig.Host, redisConfig.Port, redisConfig.DB)
	redisClient, err := db.NewRedisClient(redisConfig)
	if err != nil {
		logger.Printf("WARN: failed to create Redis client: %v", err)
		logger.Println("   Async sync jobs will be disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Printf("WARN: Redis connection failed: %v", err)
		logger.Println("   Async sync jobs will be disabled")
		logger.Println("   Hint: ensure Redis is running (docker run -d -p 6379:6379 redis:7-alpine)")
		redisClient.Close()
		return nil
	}

	logger.Println("Redis connected")
	return repositories.NewRedisJobRepository(redisClient.GetClient())
}

// splitAddr parses "host:port", falling back to the default Redis port.
func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6379
	}
	return host, port
}
