package db

import (
	"context"
	"testing"
	"time"

	"dolt-chroma-sync/internal/models"
)

// TestNewChromaDBClient tests client initialization
func TestNewChromaDBClient(t *testing.T) {
	tests := []struct {
		name   string
		config ChromaDBConfig
	}{
		{
			name: "default config",
			config: ChromaDBConfig{
				Host: "localhost",
				Port: 8001,
			},
		},
		{
			name: "custom config with tenant and database",
			config: ChromaDBConfig{
				Host:     "chromadb.example.com",
				Port:     9000,
				Tenant:   "custom_tenant",
				Database: "custom_db",
				Timeout:  60 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewChromaDBClient(tt.config)

			if client == nil {
				t.Fatal("Expected non-nil client")
			}
			if client.httpClient == nil {
				t.Error("Expected non-nil HTTP client")
			}

			// Verify defaults are applied
			if client.tenant == "" {
				t.Error("Expected tenant to be set")
			}
			if client.database == "" {
				t.Error("Expected database to be set")
			}
		})
	}
}

// newTestChromaClient returns a client against the local test instance,
// skipping the test when the instance is not reachable.
func newTestChromaClient(t *testing.T) *ChromaDBClient {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client := NewChromaDBClient(ChromaDBConfig{
		Host: "localhost",
		Port: 8001,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Heartbeat(ctx); err != nil {
		t.Skipf("ChromaDB not available: %v", err)
	}
	return client
}

// TestChromaDBClient_Heartbeat tests heartbeat functionality
func TestChromaDBClient_Heartbeat(t *testing.T) {
	client := newTestChromaClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
}

// TestChromaDBClient_ListCollections tests listing collections
func TestChromaDBClient_ListCollections(t *testing.T) {
	client := newTestChromaClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	collections, err := client.ListCollections(ctx)
	if err != nil {
		t.Fatalf("List collections failed: %v", err)
	}
	t.Logf("Found %d collections", len(collections))
}

// TestChromaDBClient_CollectionLifecycle tests create, get, rename, and
// delete for a collection
func TestChromaDBClient_CollectionLifecycle(t *testing.T) {
	client := newTestChromaClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	testCollectionName := "test_go_client_collection"
	renamedName := testCollectionName + "_renamed"

	// Cleanup before test (ignore errors)
	_ = client.DeleteCollection(ctx, testCollectionName)
	_ = client.DeleteCollection(ctx, renamedName)

	collection, err := client.CreateCollection(ctx, testCollectionName, map[string]interface{}{
		"hnsw:space": "cosine",
	})
	if err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	t.Logf("Created collection: %s (ID: %s)", collection.Name, collection.ID)

	fetched, err := client.GetCollection(ctx, testCollectionName)
	if err != nil {
		t.Fatalf("Failed to get collection: %v", err)
	}
	if fetched.Name != testCollectionName {
		t.Errorf("Expected collection name %s, got %s", testCollectionName, fetched.Name)
	}

	// Rename via UpdateCollection
	if err := client.UpdateCollection(ctx, testCollectionName, renamedName, nil); err != nil {
		t.Fatalf("Failed to rename collection: %v", err)
	}
	if _, err := client.GetCollection(ctx, renamedName); err != nil {
		t.Fatalf("Failed to get renamed collection: %v", err)
	}

	if err := client.DeleteCollection(ctx, renamedName); err != nil {
		t.Fatalf("Failed to delete collection: %v", err)
	}

	// Verify deletion
	if _, err := client.GetCollection(ctx, renamedName); err == nil {
		t.Error("Expected error when getting deleted collection")
	}
}

// TestChromaDBClient_Documents tests the document round trip: add, count,
// get, update, and delete
func TestChromaDBClient_Documents(t *testing.T) {
	client := newTestChromaClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	testCollectionName := "test_docs_collection"

	// Cleanup and create fresh collection
	_ = client.DeleteCollection(ctx, testCollectionName)
	if _, err := client.CreateCollection(ctx, testCollectionName, nil); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	defer client.DeleteCollection(ctx, testCollectionName)

	count, err := client.CountCollection(ctx, testCollectionName)
	if err != nil {
		t.Fatalf("Failed to count collection: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected count 0 for new collection, got %d", count)
	}

	ids := []string{"doc1_chunk_0", "doc1_chunk_1", "doc2_chunk_0"}
	documents := []string{
		"This is the first half of document one",
		"and this is the second half of document one",
		"Document two fits in a single chunk",
	}
	metadatas := []map[string]interface{}{
		{models.MetaSourceID: "doc1", models.MetaChunkIndex: 0},
		{models.MetaSourceID: "doc1", models.MetaChunkIndex: 1},
		{models.MetaSourceID: "doc2", models.MetaChunkIndex: 0},
	}

	if err := client.AddDocuments(ctx, testCollectionName, ids, documents, metadatas); err != nil {
		t.Fatalf("Failed to add documents: %v", err)
	}

	count, err = client.CountCollection(ctx, testCollectionName)
	if err != nil {
		t.Fatalf("Failed to count collection: %v", err)
	}
	if count != len(ids) {
		t.Errorf("Expected count %d, got %d", len(ids), count)
	}

	// Fetch by ID
	resp, err := client.GetDocuments(ctx, testCollectionName, []string{"doc2_chunk_0"}, nil, 0, 0)
	if err != nil {
		t.Fatalf("Failed to get documents: %v", err)
	}
	if len(resp.IDs) != 1 || resp.IDs[0] != "doc2_chunk_0" {
		t.Errorf("Expected exactly doc2_chunk_0, got %v", resp.IDs)
	}

	// Fetch by metadata filter
	resp, err = client.GetDocuments(ctx, testCollectionName, nil,
		map[string]interface{}{models.MetaSourceID: "doc1"}, 0, 0)
	if err != nil {
		t.Fatalf("Failed to get documents by filter: %v", err)
	}
	if len(resp.IDs) != 2 {
		t.Errorf("Expected 2 chunks of doc1, got %d", len(resp.IDs))
	}

	// Update in place
	err = client.UpdateDocuments(ctx, testCollectionName,
		[]string{"doc2_chunk_0"},
		[]string{"Document two was revised"},
		[]map[string]interface{}{{models.MetaSourceID: "doc2", models.MetaChunkIndex: 0}})
	if err != nil {
		t.Fatalf("Failed to update documents: %v", err)
	}

	resp, err = client.GetDocuments(ctx, testCollectionName, []string{"doc2_chunk_0"}, nil, 0, 0)
	if err != nil {
		t.Fatalf("Failed to get updated document: %v", err)
	}
	if len(resp.Documents) != 1 || resp.Documents[0] != "Document two was revised" {
		t.Errorf("Update did not take effect: %v", resp.Documents)
	}

	// Delete
	if err := client.DeleteDocuments(ctx, testCollectionName, []string{"doc1_chunk_0", "doc1_chunk_1"}); err != nil {
		t.Fatalf("Failed to delete documents: %v", err)
	}
	count, err = client.CountCollection(ctx, testCollectionName)
	if err != nil {
		t.Fatalf("Failed to count collection: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected count 1 after delete, got %d", count)
	}
}

// TestChromaDBClient_Query tests similarity search
func TestChromaDBClient_Query(t *testing.T) {
	client := newTestChromaClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	testCollectionName := "test_query_collection"

	_ = client.DeleteCollection(ctx, testCollectionName)
	if _, err := client.CreateCollection(ctx, testCollectionName, nil); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	defer client.DeleteCollection(ctx, testCollectionName)

	ids := []string{"a_chunk_0", "b_chunk_0"}
	documents := []string{
		"Dolt is a version controlled SQL database",
		"Bread recipes call for flour and yeast",
	}
	metadatas := []map[string]interface{}{
		{models.MetaSourceID: "a"},
		{models.MetaSourceID: "b"},
	}
	if err := client.AddDocuments(ctx, testCollectionName, ids, documents, metadatas); err != nil {
		t.Fatalf("Failed to add documents: %v", err)
	}

	resp, err := client.Query(ctx, testCollectionName, []string{"version control for databases"}, 1, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(resp.IDs) != 1 || len(resp.IDs[0]) != 1 {
		t.Fatalf("Expected a single result, got %v", resp.IDs)
	}
	t.Logf("Top result: %s", resp.IDs[0][0])
}

// TestChromaDBClient_ContextTimeout tests that an expired context aborts
// the request
func TestChromaDBClient_ContextTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client := NewChromaDBClient(ChromaDBConfig{
		Host: "localhost",
		Port: 8001,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	if err := client.Heartbeat(ctx); err == nil {
		t.Error("Expected error with expired context")
	}
}
