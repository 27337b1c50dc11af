package models

import (
	"time"
)

// SyncStatus is the terminal (or in-flight) state of a sync pipeline.
type SyncStatus string

const (
	SyncStatusCompleted         SyncStatus = "completed"
	SyncStatusNoChanges         SyncStatus = "no_changes"
	SyncStatusLocalChangesExist SyncStatus = "local_changes_exist"
	SyncStatusConflicts         SyncStatus = "conflicts"
	SyncStatusFailed            SyncStatus = "failed"
	SyncStatusInProgress        SyncStatus = "in_progress"
)

// SyncDirection identifies which way content flowed.
type SyncDirection string

const (
	DirectionDoltToChroma  SyncDirection = "dolt_to_chroma"
	DirectionChromaToDolt  SyncDirection = "chroma_to_dolt"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncAction classifies one document operation in the sync log.
type SyncAction string

const (
	SyncActionAdded    SyncAction = "added"
	SyncActionModified SyncAction = "modified"
	SyncActionDeleted  SyncAction = "deleted"
)

// SyncResult is the outcome of one pipeline run.
type SyncResult struct {
	Status           SyncStatus     `json:"status"`
	Direction        SyncDirection  `json:"direction"`
	Added            int            `json:"added"`
	Modified         int            `json:"modified"`
	Deleted          int            `json:"deleted"`
	ChunksProcessed  int            `json:"chunks_processed"`
	CommitHash       string         `json:"commit_hash,omitempty"`
	Error            string         `json:"error,omitempty"`
	Message          string         `json:"message,omitempty"`
	StagedFromVector bool           `json:"staged_from_vector,omitempty"`
	LocalChanges     *LocalChanges  `json:"local_changes,omitempty"`
	Conflicts        []ConflictInfo `json:"conflicts,omitempty"`
}

// FailedResult builds a failure result with the given direction and error
// message.
func FailedResult(direction SyncDirection, err error) *SyncResult {
	return &SyncResult{Status: SyncStatusFailed, Direction: direction, Error: err.Error()}
}

// LocalChanges is the delta computed on the vector side relative to the
// versioned side for one collection.
type LocalChanges struct {
	New      []*Document       `json:"new"`
	Modified []*Document       `json:"modified"`
	Deleted  []DeletedDocument `json:"deleted"`
}

// HasChanges reports whether any document is new, modified, or deleted.
func (lc *LocalChanges) HasChanges() bool {
	if lc == nil {
		return false
	}
	return len(lc.New) > 0 || len(lc.Modified) > 0 || len(lc.Deleted) > 0
}

// Count returns the total number of changed documents.
func (lc *LocalChanges) Count() int {
	if lc == nil {
		return 0
	}
	return len(lc.New) + len(lc.Modified) + len(lc.Deleted)
}

// DeletedDocument identifies a document that disappeared from one side.
type DeletedDocument struct {
	DocID          string `json:"doc_id"`
	CollectionName string `json:"collection_name"`
	ContentHash    string `json:"content_hash,omitempty"`
}

// ConflictInfo carries one merge conflict: the document ID with both sides'
// row payloads serialized as JSON.
type ConflictInfo struct {
	DocID  string `json:"doc_id"`
	Ours   string `json:"ours"`
	Theirs string `json:"theirs"`
}

// SyncStateStatus values for SyncStateRecord.SyncStatus.
const (
	SyncStateSynced     = "synced"
	SyncStateInProgress = "in_progress"
	SyncStateFailed     = "failed"
)

// SyncStateRecord is the local pointer telling the engine what commit each
// (repo, branch, collection) has been synchronized to. These records live
// outside the versioned data so branch switches never rewrite them.
type SyncStateRecord struct {
	RepoPath       string    `json:"repo_path"`
	Branch         string    `json:"branch"`
	CollectionName string    `json:"collection_name"`
	LastSyncCommit string    `json:"last_sync_commit"`
	LastSyncAt     time.Time `json:"last_sync_at"`
	DocumentCount  int       `json:"document_count"`
	ChunkCount     int       `json:"chunk_count"`
	SyncStatus     string    `json:"sync_status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Deletion operation types.
const (
	OpDocumentDelete     = "document_delete"
	OpCollectionDelete   = "deletion"
	OpCollectionRename   = "rename"
	OpCollectionMetadata = "metadata_update"
)

// DeletionRecord tracks a deletion or collection-level operation observed on
// the vector store that the versioning engine cannot reconstruct on its own.
type DeletionRecord struct {
	ID                  int64     `json:"id"`
	RepoPath            string    `json:"repository_path"`
	CollectionName      string    `json:"collection_name"`
	DocID               string    `json:"doc_id,omitempty"`
	OperationType       string    `json:"operation_type"`
	OriginalContentHash string    `json:"original_content_hash,omitempty"`
	OriginalName        string    `json:"original_name,omitempty"`
	NewName             string    `json:"new_name,omitempty"`
	IsCommitted         bool      `json:"is_committed"`
	CreatedAt           time.Time `json:"created_at"`
}

// CommitDiff is the result of a commit-to-commit diff for one collection.
type CommitDiff struct {
	Added    []*Document       `json:"added"`
	Modified []*Document       `json:"modified"`
	Removed  []DeletedDocument `json:"removed"`
}

// HasChanges reports whether the diff touches any document.
func (d *CommitDiff) HasChanges() bool {
	if d == nil {
		return false
	}
	return len(d.Added) > 0 || len(d.Modified) > 0 || len(d.Removed) > 0
}

// StatusReport is returned by the status pipeline.
type StatusReport struct {
	Branch            string        `json:"branch"`
	HeadCommit        string        `json:"head_commit"`
	CollectionName    string        `json:"collection_name,omitempty"`
	LocalChanges      *LocalChanges `json:"local_changes,omitempty"`
	DoltHasChanges    bool          `json:"dolt_has_changes"`
	LastSyncCommit    string        `json:"last_sync_commit,omitempty"`
	PendingDeletions  int           `json:"pending_deletions"`
	PendingCollection int           `json:"pending_collection_operations"`
}

// Manifest declares the desired repository state: the target branch or
// commit, an optional remote, and the collections under management.
type Manifest struct {
	Branch      string   `json:"branch,omitempty"`
	Commit      string   `json:"commit,omitempty"`
	RemoteURL   string   `json:"remote_url,omitempty"`
	RemoteName  string   `json:"remote_name,omitempty"`
	Collections []string `json:"collections,omitempty"`
}
