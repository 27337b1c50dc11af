package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the sync engine. Values come
// from the environment, with a .env file loaded first when present.
type Config struct {
	// Dolt SQL server (versioning engine)
	DoltHost     string
	DoltPort     int
	DoltUser     string
	DoltPassword string
	DoltDatabase string

	// ChromaDB (vector store)
	ChromaHost     string
	ChromaPort     int
	ChromaTenant   string
	ChromaDatabase string

	// Local sync-state SQLite file. Must live outside the versioned data dir.
	StateDBPath string

	// Redis (job queue)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HTTP API
	ServerPort int

	// Repository identity used to key sync-state and deletion records.
	RepoPath string

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Behaviour
	AutoCommit       bool
	BackendTimeout   time.Duration
	DetectionTimeout time.Duration
	DetectionWorkers int
	WorkerCount      int
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DoltHost:     getEnv("DOLT_HOST", "localhost"),
		DoltPort:     getEnvInt("DOLT_PORT", 3306),
		DoltUser:     getEnv("DOLT_USER", "root"),
		DoltPassword: getEnv("DOLT_PASSWORD", ""),
		DoltDatabase: getEnv("DOLT_DATABASE", "vectordocs"),

		ChromaHost:     getEnv("CHROMA_HOST", "localhost"),
		ChromaPort:     getEnvInt("CHROMA_PORT", 8001),
		ChromaTenant:   getEnv("CHROMA_TENANT", "default_tenant"),
		ChromaDatabase: getEnv("CHROMA_DATABASE", "default_database"),

		StateDBPath: getEnv("SYNC_STATE_DB", "sync_state.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ServerPort: getEnvInt("SERVER_PORT", 8080),

		RepoPath: getEnv("REPO_PATH", ""),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 50),

		AutoCommit:       getEnvBool("SYNC_AUTO_COMMIT", false),
		BackendTimeout:   getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		DetectionTimeout: getEnvDuration("DETECTION_TIMEOUT", 45*time.Second),
		DetectionWorkers: getEnvInt("DETECTION_WORKERS", 4),
		WorkerCount:      getEnvInt("SYNC_WORKERS", 1),
	}

	if cfg.RepoPath == "" {
		cfg.RepoPath = cfg.DoltDatabase
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.DetectionWorkers < 1 {
		cfg.DetectionWorkers = 1
	}
	return cfg, nil
}

// DoltDSN builds the MySQL-protocol DSN for the Dolt SQL server.
func (c *Config) DoltDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.DoltUser, c.DoltPassword, c.DoltHost, c.DoltPort, c.DoltDatabase)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
