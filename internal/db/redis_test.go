package db

import (
	"context"
	"testing"
	"time"
)

// TestNewRedisClient tests client initialization
func TestNewRedisClient(t *testing.T) {
	tests := []struct {
		name   string
		config RedisConfig
	}{
		{
			name: "default config",
			config: RedisConfig{
				Host: "localhost",
				Port: 6379,
			},
		},
		{
			name: "custom config with all fields",
			config: RedisConfig{
				Host:         "redis.example.com",
				Port:         6380,
				Password:     "secret",
				DB:           1,
				PoolSize:     20,
				MinIdleConns: 10,
				MaxRetries:   5,
				DialTimeout:  10 * time.Second,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 5 * time.Second,
			},
		},
		{
			name:   "empty config uses defaults",
			config: RedisConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRedisClient(tt.config)
			if err != nil {
				t.Fatalf("NewRedisClient() error = %v", err)
			}
			if client == nil {
				t.Fatal("Expected non-nil client")
			}
			if client.GetClient() == nil {
				t.Error("Expected non-nil underlying client")
			}
			if client.config.PoolSize == 0 {
				t.Error("Expected pool size default to be applied")
			}
			if client.config.DialTimeout == 0 {
				t.Error("Expected dial timeout default to be applied")
			}
			client.Close()
		})
	}
}

// TestDefaultRedisConfig verifies the default configuration values
func TestDefaultRedisConfig(t *testing.T) {
	config := DefaultRedisConfig()

	if config.Host != "localhost" {
		t.Errorf("Expected host localhost, got %s", config.Host)
	}
	if config.Port != 6379 {
		t.Errorf("Expected port 6379, got %d", config.Port)
	}
	if config.PoolSize != 10 {
		t.Errorf("Expected pool size 10, got %d", config.PoolSize)
	}
	if config.MinIdleConns != 5 {
		t.Errorf("Expected min idle conns 5, got %d", config.MinIdleConns)
	}
	if config.DialTimeout != 5*time.Second {
		t.Errorf("Expected dial timeout 5s, got %v", config.DialTimeout)
	}
}

// TestRedisClient_Ping tests connectivity against a live Redis
func TestRedisClient_Ping(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, err := NewRedisClient(DefaultRedisConfig())
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	stats := client.PoolStats()
	if stats == nil {
		t.Error("Expected non-nil pool stats")
	}
}

// TestRedisClient_Close tests client cleanup
func TestRedisClient_Close(t *testing.T) {
	client, err := NewRedisClient(DefaultRedisConfig())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx); err == nil {
		t.Error("Expected ping to fail after close")
	}
}
