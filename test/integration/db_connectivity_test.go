package integration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	chroma "github.com/amikos-tech/chroma-go"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// TestDoltConnectivity tests basic connection to a dolt sql-server
func TestDoltConnectivity(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Dolt speaks the MySQL wire protocol (default port 3306)
	db, err := sql.Open("mysql", "root:@tcp(localhost:3306)/dolt_repo?parseTime=true")
	if err != nil {
		t.Fatalf("Failed to open Dolt connection: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		t.Skipf("Dolt not available: %v", err)
	}

	var branch string
	if err := db.QueryRowContext(ctx, "SELECT active_branch()").Scan(&branch); err != nil {
		t.Fatalf("Failed to query active branch: %v", err)
	}
	if branch == "" {
		t.Fatal("Expected a non-empty active branch")
	}

	t.Logf("✅ Dolt connected successfully (branch: %s)", branch)
}

// TestChromaDBConnectivity tests basic connection to ChromaDB
// NOTE: ChromaDB Go client (v0.3.0-alpha.1) has v1/v2 API compatibility issues
// The db connection layer uses a custom HTTP wrapper instead
func TestChromaDBConnectivity(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := chroma.NewClient(chroma.WithBasePath("http://localhost:8000"))
	if err != nil {
		t.Fatalf("Failed to create ChromaDB client: %v", err)
	}

	collections, err := client.ListCollections(ctx)
	if err != nil {
		// The alpha client trips over the v2 API on newer servers
		t.Logf("⚠️  ChromaDB client has API version issues (expected): %v", err)
		t.Skip("Skipping due to known client API compatibility issues - production code uses the HTTP wrapper")
		return
	}

	t.Logf("✅ ChromaDB connected successfully. Found %d collections", len(collections))
}

// TestSQLiteStateFile tests that the local state database can be created and queried
func TestSQLiteStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open SQLite database: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS probe (id INTEGER PRIMARY KEY, note TEXT)`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO probe (note) VALUES (?)`, "hello"); err != nil {
		t.Fatalf("Failed to insert row: %v", err)
	}

	var note string
	if err := db.QueryRow(`SELECT note FROM probe WHERE id = 1`).Scan(&note); err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}
	if note != "hello" {
		t.Fatalf("Expected note=hello, got %s", note)
	}

	t.Logf("✅ SQLite state file works at %s", path)
}

// TestRedisConnectivity tests basic connection to Redis
func TestRedisConnectivity(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	defer client.Close()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if pong != "PONG" {
		t.Fatalf("Expected PONG, got %s", pong)
	}

	t.Logf("✅ Redis connected successfully")
}

// TestRedisQueueOperations tests the Redis primitives the job queue is built on
func TestRedisQueueOperations(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   0,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// List push/pop (used for the pending job queue)
	queueKey := "test:syncjobs:queue"
	err := client.LPush(ctx, queueKey, "job-1", "job-2").Err()
	if err != nil {
		t.Fatalf("Failed to push to queue: %v", err)
	}

	first, err := client.RPop(ctx, queueKey).Result()
	if err != nil {
		t.Fatalf("Failed to pop from queue: %v", err)
	}
	if first != "job-1" {
		t.Fatalf("Expected FIFO order (job-1 first), got %s", first)
	}

	t.Logf("✅ Queue operations preserve FIFO order")

	// Set membership (used for the per-status job indexes)
	statusKey := "test:syncjob:status:pending"
	err = client.SAdd(ctx, statusKey, "job-1", "job-2").Err()
	if err != nil {
		t.Fatalf("Failed to add to status set: %v", err)
	}

	members, err := client.SMembers(ctx, statusKey).Result()
	if err != nil {
		t.Fatalf("Failed to get status set members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}

	t.Logf("✅ Status index operations work correctly")

	// Cleanup
	client.Del(ctx, queueKey, statusKey)
}
