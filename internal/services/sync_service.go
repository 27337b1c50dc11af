package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"dolt-chroma-sync/internal/chunker"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

// NoCollectionError reports an operation that needs a collection when none
// exists on either side. There is no implicit default collection.
type NoCollectionError struct {
	Name string
}

func (e *NoCollectionError) Error() string {
	if e.Name == "" {
		return "no collection available"
	}
	return "collection does not exist: " + e.Name
}

// SyncService orchestrates the bidirectional pipelines between the
// versioning engine and the vector store. A single mutex serializes
// pipelines per repository so the working set is never read mid-mutation.
type SyncService struct {
	version   repositories.VersionRepository
	vector    repositories.VectorRepository
	state     repositories.SyncStateRepository
	deletions repositories.DeletionRepository
	delta     *DoltDeltaService
	detector  *LocalChangeDetector
	stager    *StagerService
	chunker   *chunker.Chunker
	repoPath   string
	autoCommit bool
	logger     *log.Logger

	mu sync.Mutex
}

// NewSyncService wires the sync manager. autoCommit controls the
// clean-working-directory policy: commit stray changes instead of discarding
// them before replay reads.
func NewSyncService(
	version repositories.VersionRepository,
	vector repositories.VectorRepository,
	state repositories.SyncStateRepository,
	deletions repositories.DeletionRepository,
	delta *DoltDeltaService,
	detector *LocalChangeDetector,
	stager *StagerService,
	ck *chunker.Chunker,
	repoPath string,
	autoCommit bool,
	logger *log.Logger,
) *SyncService {
	return &SyncService{
		version:    version,
		vector:     vector,
		state:      state,
		deletions:  deletions,
		delta:      delta,
		detector:   detector,
		stager:     stager,
		chunker:    ck,
		repoPath:   repoPath,
		autoCommit: autoCommit,
		logger:     logger,
	}
}

// Initialize prepares a repository for syncing: applies the versioned
// schema, creates the first commit when the history is empty, then brings
// both sides together per collection. A collection without versioned history
// is imported from the vector store and committed; a collection that already
// has versioned documents gets a full sync.
func (s *SyncService) Initialize(ctx context.Context) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionBidirectional)

	if err := s.stager.EnsureSchema(ctx); err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}

	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}
	if head == "" {
		if err := s.version.AddAll(ctx); err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
		commit, err := s.version.Commit(ctx, "initialize sync schema")
		if err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
		if commit.Success {
			head = commit.Hash
		}
	}

	collections, err := s.knownCollections(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionBidirectional, err), nil
	}

	total := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionBidirectional,
		CommitHash: head,
	}
	for _, collection := range collections {
		docs, err := s.delta.AllDocuments(ctx, collection)
		if err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
		var r *models.SyncResult
		if len(docs) == 0 {
			r, err = s.importVectorCollectionLocked(ctx, collection)
		} else {
			r, err = s.fullSyncLocked(ctx, collection)
		}
		if err != nil {
			return models.FailedResult(models.DirectionBidirectional, err), nil
		}
		if r.CommitHash != "" {
			total.CommitHash = r.CommitHash
		}
		total.Added += r.Added
		total.Modified += r.Modified
		total.Deleted += r.Deleted
		total.ChunksProcessed += r.ChunksProcessed
	}
	if len(collections) == 0 {
		total.Status = models.SyncStatusNoChanges
		total.Message = "repository initialized with no collections"
	}
	return total, nil
}

// importVectorCollectionLocked versions a collection that exists only in the
// vector store: its chunks are reassembled into documents, staged into the
// versioned side, and committed, then rewritten with the local-change flag
// cleared.
func (s *SyncService) importVectorCollectionLocked(ctx context.Context, collection string) (*models.SyncResult, error) {
	exists, err := s.vector.CollectionExists(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	if !exists {
		return &models.SyncResult{
			Status:    models.SyncStatusNoChanges,
			Direction: models.DirectionChromaToDolt,
			Message:   collection + " is empty on both sides",
		}, nil
	}

	chunks, err := s.vector.GetChunks(ctx, collection, nil, nil)
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	byDoc := make(map[string][]*models.Chunk)
	var order []string
	for _, chunk := range chunks {
		if _, ok := byDoc[chunk.DocID]; !ok {
			order = append(order, chunk.DocID)
		}
		byDoc[chunk.DocID] = append(byDoc[chunk.DocID], chunk)
	}

	imported := &models.LocalChanges{}
	totalChunks := 0
	for _, docID := range order {
		doc, err := s.chunker.Reassemble(byDoc[docID])
		if err != nil {
			s.logger.Printf("WARN: skipping %s in %s: %v", docID, collection, err)
			continue
		}
		doc.CollectionName = collection
		if err := s.stager.upsertDocument(ctx, collection, doc); err != nil {
			return models.FailedResult(models.DirectionChromaToDolt, err), nil
		}
		imported.New = append(imported.New, doc)
		totalChunks += len(byDoc[docID])
	}
	if len(imported.New) == 0 {
		return &models.SyncResult{
			Status:    models.SyncStatusNoChanges,
			Direction: models.DirectionChromaToDolt,
			Message:   collection + " holds no reconstructible documents",
		}, nil
	}

	if info, err := s.vector.GetCollection(ctx, collection); err == nil {
		if err := s.stager.UpsertCollectionRecord(ctx, info, len(imported.New)); err != nil {
			s.logger.Printf("WARN: failed to record collection row for %s: %v", collection, err)
		}
	}

	if err := s.version.AddAll(ctx); err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	commit, err := s.version.Commit(ctx, fmt.Sprintf("initialize %s with %d document(s)", collection, len(imported.New)))
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	if !commit.Success {
		return &models.SyncResult{
			Status:    models.SyncStatusNoChanges,
			Direction: models.DirectionChromaToDolt,
			Message:   commit.Message,
		}, nil
	}

	s.settleCommittedChanges(ctx, collection, imported, commit.Hash)

	result := &models.SyncResult{
		Status:          models.SyncStatusCompleted,
		Direction:       models.DirectionChromaToDolt,
		CommitHash:      commit.Hash,
		Added:           len(imported.New),
		ChunksProcessed: totalChunks,
	}
	branch, err := s.version.CurrentBranch(ctx)
	if err != nil {
		s.logger.Printf("WARN: failed to read current branch: %v", err)
		return result, nil
	}
	if err := s.state.Upsert(ctx, &models.SyncStateRecord{
		RepoPath:       s.repoPath,
		Branch:         branch,
		CollectionName: collection,
		LastSyncCommit: commit.Hash,
		DocumentCount:  result.Added,
		ChunkCount:     totalChunks,
		SyncStatus:     models.SyncStateSynced,
	}); err != nil {
		s.logger.Printf("WARN: failed to upsert sync state for %s: %v", collection, err)
	}
	return result, nil
}

// Status reports both sides' pending work without mutating anything.
func (s *SyncService) Status(ctx context.Context, collection string) (*models.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, err := s.version.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current branch: %w", err)
	}
	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read head commit: %w", err)
	}
	doltDirty, err := s.version.HasChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read working-set status: %w", err)
	}

	report := &models.StatusReport{
		Branch:         branch,
		HeadCommit:     head,
		CollectionName: collection,
		DoltHasChanges: doltDirty,
	}

	if collection != "" {
		changes, err := s.detector.DetectChanges(ctx, collection)
		if err != nil {
			return nil, err
		}
		report.LocalChanges = changes

		if record, err := s.state.Get(ctx, s.repoPath, branch, collection); err == nil && record != nil {
			report.LastSyncCommit = record.LastSyncCommit
		}
		if pending, err := s.deletions.GetPendingDocumentDeletions(ctx, s.repoPath, collection); err == nil {
			report.PendingDeletions = len(pending)
		}
	}
	if ops, err := s.deletions.GetPendingCollectionOperations(ctx, s.repoPath); err == nil {
		report.PendingCollection = len(ops)
	}
	return report, nil
}

// Commit runs the vector-to-versioned pipeline: detect local changes per
// collection, stage them plus pending collection operations, commit, then
// settle the bookkeeping on both sides. An empty collection means every
// known collection.
func (s *SyncService) Commit(ctx context.Context, message, collection string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionChromaToDolt)
	return s.commitLocked(ctx, message, collection)
}

func (s *SyncService) commitLocked(ctx context.Context, message, collection string) (*models.SyncResult, error) {
	if message == "" {
		message = "sync commit"
	}
	if err := s.stager.EnsureSchema(ctx); err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}

	collections, err := s.resolveCollections(ctx, collection)
	if err != nil {
		var noCol *NoCollectionError
		if errors.As(err, &noCol) {
			return &models.SyncResult{
				Status:    models.SyncStatusNoChanges,
				Direction: models.DirectionChromaToDolt,
				Message:   noCol.Error(),
			}, nil
		}
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}

	// Stage each collection serially. The detector reads the vector store;
	// the stager writes the versioned tables.
	perCollection := make(map[string]*models.LocalChanges, len(collections))
	total := &models.SyncResult{Direction: models.DirectionChromaToDolt, StagedFromVector: true}
	for _, col := range collections {
		changes, err := s.detector.DetectChanges(ctx, col)
		if err != nil {
			return models.FailedResult(models.DirectionChromaToDolt, err), nil
		}
		if _, err := s.stager.StageLocalChanges(ctx, col, changes); err != nil {
			return models.FailedResult(models.DirectionChromaToDolt, err), nil
		}
		perCollection[col] = changes
		total.Added += len(changes.New)
		total.Modified += len(changes.Modified)
		total.Deleted += len(changes.Deleted)
	}

	appliedOps, err := s.stager.StageCollectionOperations(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}

	dirty, err := s.version.HasChanges(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	if !dirty {
		total.Status = models.SyncStatusNoChanges
		total.Message = "nothing to commit"
		return total, nil
	}

	if err := s.version.AddAll(ctx); err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	commit, err := s.version.Commit(ctx, message)
	if err != nil {
		return models.FailedResult(models.DirectionChromaToDolt, err), nil
	}
	if !commit.Success {
		total.Status = models.SyncStatusNoChanges
		total.Message = commit.Message
		return total, nil
	}
	total.CommitHash = commit.Hash
	total.Status = models.SyncStatusCompleted

	// Post-commit settlement. Failures past this point are logged, not
	// returned: the commit already happened.
	branch, berr := s.version.CurrentBranch(ctx)
	if berr != nil {
		s.logger.Printf("WARN: post-commit branch lookup failed: %v", berr)
	}
	for _, op := range appliedOps {
		identifier := op.DocID
		if op.OperationType != models.OpDocumentDelete {
			identifier = op.CollectionName
		}
		if err := s.deletions.MarkCommitted(ctx, s.repoPath, identifier, op.OperationType); err != nil {
			s.logger.Printf("WARN: failed to mark %s committed: %v", identifier, err)
		}
	}
	for col, changes := range perCollection {
		s.settleCommittedChanges(ctx, col, changes, commit.Hash)
		if berr == nil {
			if err := s.state.UpdateCommitHash(ctx, s.repoPath, branch, col, commit.Hash); err != nil {
				s.logger.Printf("WARN: failed to advance sync state for %s: %v", col, err)
			}
		}
	}
	if err := s.deletions.CleanupCommitted(ctx, s.repoPath); err != nil {
		s.logger.Printf("WARN: deletion cleanup failed: %v", err)
	}

	// Post-commit verification is logged only.
	for _, col := range collections {
		leftover, err := s.detector.DetectChanges(ctx, col)
		if err != nil {
			s.logger.Printf("WARN: post-commit verification failed for %s: %v", col, err)
			continue
		}
		if leftover.HasChanges() {
			s.logger.Printf("WARN: %d local change(s) remain in %s after commit", leftover.Count(), col)
		}
	}
	return total, nil
}

// settleCommittedChanges records sync-log entries for the committed
// documents, clears deleted ones, marks their deletion records, and rewrites
// the committed documents' chunks with the local-change flag cleared.
func (s *SyncService) settleCommittedChanges(ctx context.Context, collection string, changes *models.LocalChanges, commitHash string) {
	rewrite := func(doc *models.Document, action models.SyncAction) {
		chunks, err := s.chunker.Chunk(doc)
		if err != nil {
			s.logger.Printf("WARN: failed to re-chunk %s: %v", doc.DocID, err)
			return
		}
		candidates := s.chunker.CandidateChunkIDs(doc.DocID, s.chunker.EstimateChunkCount(doc.Content))
		if err := s.vector.DeleteChunks(ctx, collection, candidates); err != nil {
			s.logger.Printf("WARN: failed to clear chunks of %s: %v", doc.DocID, err)
		}
		if err := s.vector.AddChunks(ctx, collection, chunks, commitHash, false); err != nil {
			s.logger.Printf("WARN: failed to rewrite chunks of %s: %v", doc.DocID, err)
			return
		}
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if err := s.delta.RecordSync(ctx, doc.DocID, collection, doc.ContentHash, ids, models.DirectionChromaToDolt, action); err != nil {
			s.logger.Printf("WARN: failed to record sync of %s: %v", doc.DocID, err)
		}
	}

	for _, doc := range changes.New {
		rewrite(doc, models.SyncActionAdded)
	}
	for _, doc := range changes.Modified {
		rewrite(doc, models.SyncActionModified)
	}
	for _, del := range changes.Deleted {
		if err := s.delta.ClearSyncLog(ctx, del.DocID, collection); err != nil {
			s.logger.Printf("WARN: failed to clear sync log of %s: %v", del.DocID, err)
		}
		if err := s.deletions.MarkCommitted(ctx, s.repoPath, del.DocID, models.OpDocumentDelete); err != nil {
			s.logger.Printf("WARN: failed to mark deletion of %s committed: %v", del.DocID, err)
		}
	}
}

// FullSync rebuilds one vector collection from the versioned documents. When
// both sides already hold the same (doc, hash) pairs the vector store is not
// touched.
func (s *SyncService) FullSync(ctx context.Context, collection string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionDoltToChroma)
	return s.fullSyncLocked(ctx, collection)
}

func (s *SyncService) fullSyncLocked(ctx context.Context, collection string) (*models.SyncResult, error) {
	if collection == "" {
		return nil, &NoCollectionError{}
	}

	docs, err := s.delta.AllDocuments(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	exists, err := s.vector.CollectionExists(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if len(docs) == 0 && !exists {
		return nil, &NoCollectionError{Name: collection}
	}
	if !exists {
		if err := s.vector.CreateCollection(ctx, collection, nil); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
	}

	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	branch, err := s.version.CurrentBranch(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	vectorPairs, vectorChunkIDs, err := s.vectorPairs(ctx, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}

	doltPairs := make(models.PairSet, len(docs))
	for _, doc := range docs {
		doc.EnsureHash()
		doltPairs.Add(doc.DocID, doc.ContentHash)
	}
	if models.SamePairs(doltPairs, vectorPairs) {
		if err := s.state.UpdateCommitHash(ctx, s.repoPath, branch, collection, head); err != nil {
			s.logger.Printf("WARN: failed to advance sync state for %s: %v", collection, err)
		}
		return &models.SyncResult{
			Status:     models.SyncStatusNoChanges,
			Direction:  models.DirectionDoltToChroma,
			CommitHash: head,
			Message:    "vector store already matches",
		}, nil
	}

	// Drop and rebuild: clear every chunk currently in the collection, then
	// write each document fresh with the local-change flag off.
	if len(vectorChunkIDs) > 0 {
		if err := s.vector.DeleteChunks(ctx, collection, vectorChunkIDs); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
	}

	result := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}
	totalChunks := 0
	for _, doc := range docs {
		doc.CollectionName = collection
		chunks, err := s.chunker.Chunk(doc)
		if err != nil {
			s.logger.Printf("WARN: skipping %s: %v", doc.DocID, err)
			continue
		}
		if err := s.vector.AddChunks(ctx, collection, chunks, head, false); err != nil {
			return models.FailedResult(models.DirectionDoltToChroma, err), nil
		}
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if err := s.delta.RecordSync(ctx, doc.DocID, collection, doc.ContentHash, ids, models.DirectionDoltToChroma, models.SyncActionAdded); err != nil {
			s.logger.Printf("WARN: failed to record sync of %s: %v", doc.DocID, err)
		}
		result.Added++
		totalChunks += len(chunks)
	}
	result.ChunksProcessed = totalChunks

	if err := s.state.Upsert(ctx, &models.SyncStateRecord{
		RepoPath:       s.repoPath,
		Branch:         branch,
		CollectionName: collection,
		LastSyncCommit: head,
		DocumentCount:  result.Added,
		ChunkCount:     totalChunks,
		SyncStatus:     models.SyncStateSynced,
	}); err != nil {
		s.logger.Printf("WARN: failed to upsert sync state for %s: %v", collection, err)
	}
	if err := s.delta.UpdateSyncState(ctx, collection, head, result.Added, totalChunks, string(models.SyncStatusCompleted)); err != nil {
		s.logger.Printf("WARN: failed to update legacy sync state: %v", err)
	}

	// Validation is logged only.
	if count, err := s.vector.CollectionCount(ctx, collection); err == nil && count != totalChunks {
		s.logger.Printf("WARN: %s holds %d chunks, expected %d", collection, count, totalChunks)
	}
	return result, nil
}

// IncrementalSync advances one collection by replaying the commit diff from
// the last synced commit to HEAD. Falls back to a full sync when no prior
// state exists.
func (s *SyncService) IncrementalSync(ctx context.Context, collection string) (result *models.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.recoverPipeline(&result, &err, models.DirectionDoltToChroma)
	return s.incrementalSyncLocked(ctx, collection)
}

// incrementalSyncLocked replays the diff since the recorded sync commit.
func (s *SyncService) incrementalSyncLocked(ctx context.Context, collection string) (*models.SyncResult, error) {
	if collection == "" {
		return nil, &NoCollectionError{}
	}
	branch, err := s.version.CurrentBranch(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	record, err := s.state.Get(ctx, s.repoPath, branch, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if record == nil || record.LastSyncCommit == "" {
		return s.fullSyncLocked(ctx, collection)
	}

	head, err := s.version.HeadCommit(ctx)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if head == record.LastSyncCommit {
		return &models.SyncResult{
			Status:     models.SyncStatusNoChanges,
			Direction:  models.DirectionDoltToChroma,
			CommitHash: head,
		}, nil
	}

	diff, err := s.delta.CommitDiff(ctx, record.LastSyncCommit, head, collection)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	result, err := s.replayDiff(ctx, collection, diff, head)
	if err != nil {
		return models.FailedResult(models.DirectionDoltToChroma, err), nil
	}
	if err := s.state.UpdateCommitHash(ctx, s.repoPath, branch, collection, head); err != nil {
		s.logger.Printf("WARN: failed to advance sync state for %s: %v", collection, err)
	}
	return result, nil
}

// replayDiff applies one commit diff to the vector collection.
func (s *SyncService) replayDiff(ctx context.Context, collection string, diff *models.CommitDiff, head string) (*models.SyncResult, error) {
	result := &models.SyncResult{
		Status:     models.SyncStatusCompleted,
		Direction:  models.DirectionDoltToChroma,
		CommitHash: head,
	}
	if !diff.HasChanges() {
		result.Status = models.SyncStatusNoChanges
		return result, nil
	}

	exists, err := s.vector.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.vector.CreateCollection(ctx, collection, nil); err != nil {
			return nil, err
		}
	}

	write := func(doc *models.Document, action models.SyncAction) error {
		doc.CollectionName = collection
		doc.EnsureHash()
		candidates := s.chunker.CandidateChunkIDs(doc.DocID, s.chunker.EstimateChunkCount(doc.Content))
		if err := s.vector.DeleteChunks(ctx, collection, candidates); err != nil {
			return fmt.Errorf("failed to clear chunks of %s: %w", doc.DocID, err)
		}
		chunks, err := s.chunker.Chunk(doc)
		if err != nil {
			s.logger.Printf("WARN: skipping %s: %v", doc.DocID, err)
			return nil
		}
		if err := s.vector.AddChunks(ctx, collection, chunks, head, false); err != nil {
			return fmt.Errorf("failed to write chunks of %s: %w", doc.DocID, err)
		}
		ids := make([]string, len(chunks))
		for i, ch := range chunks {
			ids[i] = ch.ID
		}
		if err := s.delta.RecordSync(ctx, doc.DocID, collection, doc.ContentHash, ids, models.DirectionDoltToChroma, action); err != nil {
			s.logger.Printf("WARN: failed to record sync of %s: %v", doc.DocID, err)
		}
		result.ChunksProcessed += len(chunks)
		return nil
	}

	for _, doc := range diff.Added {
		if err := write(doc, models.SyncActionAdded); err != nil {
			return nil, err
		}
		result.Added++
	}
	for _, doc := range diff.Modified {
		if err := write(doc, models.SyncActionModified); err != nil {
			return nil, err
		}
		result.Modified++
	}
	for _, del := range diff.Removed {
		candidates := s.chunker.CandidateChunkIDs(del.DocID, minReplayCandidates)
		if err := s.vector.DeleteChunks(ctx, collection, candidates); err != nil {
			return nil, fmt.Errorf("failed to delete chunks of %s: %w", del.DocID, err)
		}
		if err := s.delta.ClearSyncLog(ctx, del.DocID, collection); err != nil {
			s.logger.Printf("WARN: failed to clear sync log of %s: %v", del.DocID, err)
		}
		result.Deleted++
	}
	return result, nil
}

// minReplayCandidates is the candidate range used when deleting a document
// whose chunk count is unknown.
const minReplayCandidates = 64

// vectorPairs snapshots a collection into a (doc, hash) set plus the full
// chunk ID list.
func (s *SyncService) vectorPairs(ctx context.Context, collection string) (models.PairSet, []string, error) {
	chunks, err := s.vector.GetChunks(ctx, collection, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to snapshot %s: %w", collection, err)
	}
	pairs := make(models.PairSet)
	ids := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		ids = append(ids, ch.ID)
		if ch.ContentHash != "" {
			pairs.Add(ch.DocID, ch.ContentHash)
		}
	}
	return pairs, ids, nil
}

// resolveCollections expands an empty collection argument to every known
// collection on either side.
func (s *SyncService) resolveCollections(ctx context.Context, collection string) ([]string, error) {
	if collection != "" {
		return []string{collection}, nil
	}
	collections, err := s.knownCollections(ctx)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		return nil, &NoCollectionError{}
	}
	return collections, nil
}

// knownCollections merges the versioned side's collections with the vector
// store's.
func (s *SyncService) knownCollections(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string

	doltNames, err := s.delta.AvailableCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range doltNames {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	vectorNames, err := s.vector.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector collections: %w", err)
	}
	for _, name := range vectorNames {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}

// ensureCleanWorkingDirectory applies the configured policy before replay
// reads: commit stray working-set changes when autoCommit is on, otherwise
// discard them.
func (s *SyncService) ensureCleanWorkingDirectory(ctx context.Context) error {
	dirty, err := s.version.HasChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to read working-set status: %w", err)
	}
	if !dirty {
		return nil
	}
	if s.autoCommit {
		if err := s.version.AddAll(ctx); err != nil {
			return fmt.Errorf("failed to stage working set: %w", err)
		}
		if _, err := s.version.Commit(ctx, "auto-commit working set"); err != nil {
			return fmt.Errorf("failed to auto-commit working set: %w", err)
		}
		return nil
	}
	if err := s.version.ResetHard(ctx, "HEAD"); err != nil {
		return fmt.Errorf("failed to reset working set: %w", err)
	}
	return nil
}

// recoverPipeline converts a panic inside a pipeline into a failed result so
// one bad document cannot take the service down.
func (s *SyncService) recoverPipeline(result **models.SyncResult, err *error, direction models.SyncDirection) {
	if r := recover(); r != nil {
		s.logger.Printf("ERROR: pipeline panic: %v", r)
		*result = models.FailedResult(direction, fmt.Errorf("pipeline panic: %v", r))
		*err = nil
	}
}
