package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChromaDBClient wraps HTTP calls to the ChromaDB v2 API.
// This avoids compatibility issues with the official Go client library.
type ChromaDBClient struct {
	baseURL    string
	httpClient *http.Client
	tenant     string
	database   string
}

// ChromaDBConfig holds configuration for the ChromaDB connection.
type ChromaDBConfig struct {
	Host     string
	Port     int
	Tenant   string // default: "default_tenant"
	Database string // default: "default_database"
	Timeout  time.Duration
}

// Collection represents a ChromaDB collection.
type Collection struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

// GetResponse represents the response from a get request.
type GetResponse struct {
	IDs       []string                 `json:"ids"`
	Documents []string                 `json:"documents"`
	Metadatas []map[string]interface{} `json:"metadatas"`
}

// NewChromaDBClient creates a new ChromaDB client with v2 API support.
func NewChromaDBClient(config ChromaDBConfig) *ChromaDBClient {
	if config.Tenant == "" {
		config.Tenant = "default_tenant"
	}
	if config.Database == "" {
		config.Database = "default_database"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	// ChromaDB v2 API uses tenant and database in the path
	baseURL := fmt.Sprintf("http://%s:%d/api/v2/tenants/%s/databases/%s",
		config.Host, config.Port, config.Tenant, config.Database)

	return &ChromaDBClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		tenant:   config.Tenant,
		database: config.Database,
	}
}

// Heartbeat checks if ChromaDB is alive.
func (c *ChromaDBClient) Heartbeat(ctx context.Context) error {
	// baseURL format: http://host:port/api/v2/tenants/X/databases/Y
	hostPort := strings.TrimPrefix(c.baseURL, "http://")
	if idx := strings.Index(hostPort, "/"); idx > 0 {
		hostPort = hostPort[:idx]
	}
	heartbeatURL := fmt.Sprintf("http://%s/api/v2/heartbeat", hostPort)

	req, err := http.NewRequestWithContext(ctx, "GET", heartbeatURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create heartbeat request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat failed with status: %d", resp.StatusCode)
	}
	return nil
}

// ListCollections returns all collections.
func (c *ChromaDBClient) ListCollections(ctx context.Context) ([]Collection, error) {
	var collections []Collection
	if err := c.doJSON(ctx, "GET", c.baseURL+"/collections", nil, &collections); err != nil {
		return nil, fmt.Errorf("list collections failed: %w", err)
	}
	return collections, nil
}

// CreateCollection creates a new collection.
func (c *ChromaDBClient) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) (*Collection, error) {
	if metadata == nil {
		metadata = map[string]interface{}{
			"hnsw:space": "cosine",
		}
	}
	payload := map[string]interface{}{
		"name":     name,
		"metadata": metadata,
	}

	var collection Collection
	if err := c.doJSON(ctx, "POST", c.baseURL+"/collections", payload, &collection); err != nil {
		return nil, fmt.Errorf("create collection %q failed: %w", name, err)
	}
	return &collection, nil
}

// GetCollection retrieves a collection by name.
func (c *ChromaDBClient) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var collection Collection
	err := c.doJSON(ctx, "GET", fmt.Sprintf("%s/collections/%s", c.baseURL, name), nil, &collection)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("collection not found: %s", name)
		}
		return nil, fmt.Errorf("get collection %q failed: %w", name, err)
	}
	return &collection, nil
}

// UpdateCollection renames a collection and/or replaces its metadata. Empty
// newName keeps the current name; nil metadata keeps the current metadata.
func (c *ChromaDBClient) UpdateCollection(ctx context.Context, name, newName string, metadata map[string]interface{}) error {
	collection, err := c.GetCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	payload := map[string]interface{}{}
	if newName != "" {
		payload["new_name"] = newName
	}
	if metadata != nil {
		payload["new_metadata"] = metadata
	}
	if len(payload) == 0 {
		return nil
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "PUT", url, payload, nil); err != nil {
		return fmt.Errorf("update collection %q failed: %w", name, err)
	}
	return nil
}

// DeleteCollection deletes a collection.
func (c *ChromaDBClient) DeleteCollection(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, name)
	if err := c.doJSON(ctx, "DELETE", url, nil, nil); err != nil {
		return fmt.Errorf("delete collection %q failed: %w", name, err)
	}
	return nil
}

// CountCollection returns the number of chunk rows in a collection.
func (c *ChromaDBClient) CountCollection(ctx context.Context, name string) (int, error) {
	collection, err := c.GetCollection(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}

	var count int
	url := fmt.Sprintf("%s/collections/%s/count", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "GET", url, nil, &count); err != nil {
		return 0, fmt.Errorf("count collection %q failed: %w", name, err)
	}
	return count, nil
}

// AddDocuments adds document rows to a collection. Embeddings may be nil when
// the server computes them.
func (c *ChromaDBClient) AddDocuments(ctx context.Context, collectionName string, ids []string, documents []string, metadatas []map[string]interface{}) error {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	payload := map[string]interface{}{
		"ids":       ids,
		"documents": documents,
	}
	if metadatas != nil {
		payload["metadatas"] = metadatas
	}

	url := fmt.Sprintf("%s/collections/%s/add", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "POST", url, payload, nil); err != nil {
		return fmt.Errorf("add documents to %q failed: %w", collectionName, err)
	}
	return nil
}

// UpdateDocuments updates existing rows in place. Nil documents or metadatas
// leaves the respective field untouched.
func (c *ChromaDBClient) UpdateDocuments(ctx context.Context, collectionName string, ids []string, documents []string, metadatas []map[string]interface{}) error {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	payload := map[string]interface{}{
		"ids": ids,
	}
	if documents != nil {
		payload["documents"] = documents
	}
	if metadatas != nil {
		payload["metadatas"] = metadatas
	}

	url := fmt.Sprintf("%s/collections/%s/update", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "POST", url, payload, nil); err != nil {
		return fmt.Errorf("update documents in %q failed: %w", collectionName, err)
	}
	return nil
}

// DeleteDocuments deletes rows from a collection by ID.
func (c *ChromaDBClient) DeleteDocuments(ctx context.Context, collectionName string, ids []string) error {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	payload := map[string]interface{}{"ids": ids}
	url := fmt.Sprintf("%s/collections/%s/delete", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "POST", url, payload, nil); err != nil {
		return fmt.Errorf("delete documents from %q failed: %w", collectionName, err)
	}
	return nil
}

// GetDocuments retrieves rows from a collection. ids and where are both
// optional; limit <= 0 fetches everything.
func (c *ChromaDBClient) GetDocuments(ctx context.Context, collectionName string, ids []string, where map[string]interface{}, limit, offset int) (*GetResponse, error) {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	payload := map[string]interface{}{
		"include": []string{"documents", "metadatas"},
	}
	if len(ids) > 0 {
		payload["ids"] = ids
	}
	if len(where) > 0 {
		payload["where"] = where
	}
	if limit > 0 {
		payload["limit"] = limit
	} else {
		// Default to fetching all rows (use a large limit)
		payload["limit"] = 100000
	}
	if offset > 0 {
		payload["offset"] = offset
	}

	var getResp GetResponse
	url := fmt.Sprintf("%s/collections/%s/get", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "POST", url, payload, &getResp); err != nil {
		return nil, fmt.Errorf("get documents from %q failed: %w", collectionName, err)
	}
	return &getResp, nil
}

// QueryResponse represents the response from a similarity query.
type QueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float32                `json:"distances"`
}

// Query searches for similar documents by text.
func (c *ChromaDBClient) Query(ctx context.Context, collectionName string, queryTexts []string, nResults int, where map[string]interface{}) (*QueryResponse, error) {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	payload := map[string]interface{}{
		"query_texts": queryTexts,
		"n_results":   nResults,
	}
	if len(where) > 0 {
		payload["where"] = where
	}

	var queryResp QueryResponse
	url := fmt.Sprintf("%s/collections/%s/query", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, "POST", url, payload, &queryResp); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", collectionName, err)
	}
	return &queryResp, nil
}

// Close closes idle HTTP connections.
func (c *ChromaDBClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// httpStatusError carries a non-2xx response.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	se, ok := err.(*httpStatusError)
	return ok && se.status == status
}

// doJSON performs one JSON request/response round trip.
func (c *ChromaDBClient) doJSON(ctx context.Context, method, url string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &httpStatusError{status: resp.StatusCode, body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
