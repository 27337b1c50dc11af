package services

// Table names inside the versioning engine.
const (
	TableDocuments   = "documents"
	TableCollections = "collections"
	TableSyncLog     = "document_sync_log"
	TableSyncState   = "chroma_sync_state"
)

// doltSchema holds the DDL for the versioned tables, applied idempotently
// before the first commit of a fresh repository.
var doltSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		doc_id          VARCHAR(255) NOT NULL,
		collection_name VARCHAR(255) NOT NULL,
		content         LONGTEXT,
		content_hash    VARCHAR(64),
		title           VARCHAR(512),
		doc_type        VARCHAR(64),
		metadata        JSON,
		PRIMARY KEY (doc_id, collection_name)
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		collection_name VARCHAR(255) NOT NULL,
		display_name    VARCHAR(255),
		description     TEXT,
		embedding_model VARCHAR(255),
		chunk_size      INT,
		chunk_overlap   INT,
		document_count  INT,
		metadata        JSON,
		PRIMARY KEY (collection_name)
	)`,
	`CREATE TABLE IF NOT EXISTS document_sync_log (
		doc_id           VARCHAR(255) NOT NULL,
		collection_name  VARCHAR(255) NOT NULL,
		content_hash     VARCHAR(64),
		chroma_chunk_ids JSON,
		sync_direction   VARCHAR(32) NOT NULL,
		sync_action      VARCHAR(32),
		synced_at        DATETIME,
		PRIMARY KEY (doc_id, collection_name, sync_direction)
	)`,
	`CREATE TABLE IF NOT EXISTS chroma_sync_state (
		collection_name     VARCHAR(255) NOT NULL,
		last_sync_commit    VARCHAR(64),
		last_sync_at        DATETIME,
		document_count      INT,
		chunk_count         INT,
		embedding_model     VARCHAR(255),
		sync_status         VARCHAR(32),
		local_changes_count INT,
		error_message       TEXT,
		metadata            JSON,
		PRIMARY KEY (collection_name)
	)`,
}
