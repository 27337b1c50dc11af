package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dolt-chroma-sync/internal/chunker"
	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type syncHarness struct {
	svc     *SyncService
	version *fakeVersion
	vector  *MockVectorRepository
	state   repositories.SyncStateRepository
	chunker *chunker.Chunker
}

func newSyncHarness(t *testing.T, version *fakeVersion, autoCommit bool) *syncHarness {
	t.Helper()
	vector := &MockVectorRepository{}
	stateDB := testStateDB(t)
	state := repositories.NewSQLiteSyncStateRepository(stateDB)
	deletions := repositories.NewSQLiteDeletionRepository(stateDB)
	ck := chunker.New(64, 8)
	logger := testLogger()
	delta := NewDoltDeltaService(version, logger)
	detector := NewLocalChangeDetector(vector, delta, deletions, ck, "repo1", 2, 5*time.Second, logger)
	stager := NewStagerService(version, deletions, "repo1", logger)
	svc := NewSyncService(version, vector, state, deletions, delta, detector, stager, ck,
		"repo1", autoCommit, logger)
	return &syncHarness{svc: svc, version: version, vector: vector, state: state, chunker: ck}
}

func (h *syncHarness) chunksFor(t *testing.T, docID, content string) []*models.Chunk {
	t.Helper()
	chunks, err := h.chunker.Chunk(&models.Document{DocID: docID, CollectionName: "col1", Content: content})
	require.NoError(t, err)
	return chunks
}

func TestCommitNothingToCommit(t *testing.T) {
	h := newSyncHarness(t, &fakeVersion{head: "h0", queryFn: doltDocsQueryFn(nil)}, false)
	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)

	result, err := h.svc.Commit(context.Background(), "test commit", "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNoChanges, result.Status)
	assert.Zero(t, h.version.commitCount)
}

func TestCommitStagesAndSettles(t *testing.T) {
	version := &fakeVersion{head: "h0", hasChanges: true, queryFn: doltDocsQueryFn(nil)}
	h := newSyncHarness(t, version, false)
	chunks := h.chunksFor(t, "d1", "a new local document heading for the versioned side")

	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, flaggedWhere()).Return(chunks, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(chunks, nil)
	h.vector.On("DeleteChunks", mock.Anything, "col1", mock.Anything).Return(nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, mock.Anything, false).Return(nil)

	result, err := h.svc.Commit(context.Background(), "add d1", "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, "commit-add d1", result.CommitHash)
	assert.True(t, result.StagedFromVector)

	// staged row landed in the documents table
	assert.Equal(t, 1, execsContaining(version, "INSERT INTO documents"))

	// the rewrite cleared the local-change flag
	h.vector.AssertCalled(t, "AddChunks", mock.Anything, "col1", mock.Anything, "commit-add d1", false)

	// sync state advanced to the new commit on the current branch
	record, err := h.state.Get(context.Background(), "repo1", "main", "col1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "commit-add d1", record.LastSyncCommit)
}

func TestCommitNoCollectionAnywhere(t *testing.T) {
	h := newSyncHarness(t, &fakeVersion{head: "h0"}, false)
	h.vector.On("ListCollections", mock.Anything).Return([]string{}, nil)

	result, err := h.svc.Commit(context.Background(), "msg", "")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNoChanges, result.Status)
}

func TestFullSyncShortCircuitWhenIdentical(t *testing.T) {
	content := "a document that already matches on both sides"
	version := &fakeVersion{head: "h1", queryFn: doltDocsQueryFn([]models.Row{
		docRow("d1", "col1", content),
	})}
	h := newSyncHarness(t, version, false)
	chunks := h.chunksFor(t, "d1", content)

	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(chunks, nil)

	result, err := h.svc.FullSync(context.Background(), "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNoChanges, result.Status)
	h.vector.AssertNotCalled(t, "DeleteChunks", mock.Anything, mock.Anything, mock.Anything)
	h.vector.AssertNotCalled(t, "AddChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// the sync pointer still advances
	record, err := h.state.Get(context.Background(), "repo1", "main", "col1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "h1", record.LastSyncCommit)
}

func TestFullSyncRebuilds(t *testing.T) {
	version := &fakeVersion{head: "h1", queryFn: doltDocsQueryFn([]models.Row{
		docRow("d1", "col1", "first committed document"),
		docRow("d2", "col1", "second committed document"),
	})}
	h := newSyncHarness(t, version, false)

	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, "h1", false).Return(nil)
	h.vector.On("CollectionCount", mock.Anything, "col1").Return(2, nil)

	result, err := h.svc.FullSync(context.Background(), "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 2, result.ChunksProcessed)

	record, err := h.state.Get(context.Background(), "repo1", "main", "col1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 2, record.DocumentCount)
	assert.Equal(t, 2, record.ChunkCount)
}

func TestFullSyncNoCollection(t *testing.T) {
	h := newSyncHarness(t, &fakeVersion{head: "h1", queryFn: doltDocsQueryFn(nil)}, false)
	h.vector.On("CollectionExists", mock.Anything, "ghost").Return(false, nil)

	_, err := h.svc.FullSync(context.Background(), "ghost")
	var noCol *NoCollectionError
	require.ErrorAs(t, err, &noCol)
	assert.Equal(t, "ghost", noCol.Name)
}

func TestIncrementalSyncNoPriorStateFallsBackToFull(t *testing.T) {
	version := &fakeVersion{head: "h1", queryFn: doltDocsQueryFn([]models.Row{
		docRow("d1", "col1", "document"),
	})}
	h := newSyncHarness(t, version, false)

	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, "h1", false).Return(nil)
	h.vector.On("CollectionCount", mock.Anything, "col1").Return(1, nil)

	result, err := h.svc.IncrementalSync(context.Background(), "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Added)
}

func TestIncrementalSyncReplaysDiff(t *testing.T) {
	version := &fakeVersion{head: "h2", queryFn: doltDocsQueryFn(nil)}
	version.diffFn = func(from, to, table string) ([]models.Row, error) {
		assert.Equal(t, "h1", from)
		assert.Equal(t, "h2", to)
		return []models.Row{
			{"diff_type": "added", "to_doc_id": "a1", "to_collection_name": "col1",
				"to_content": "incoming", "to_content_hash": models.HashContent("incoming")},
			{"diff_type": "removed", "from_doc_id": "r1", "from_collection_name": "col1",
				"from_content": "outgoing", "from_content_hash": models.HashContent("outgoing")},
		}, nil
	}
	h := newSyncHarness(t, version, false)
	require.NoError(t, h.state.Upsert(context.Background(), &models.SyncStateRecord{
		RepoPath: "repo1", Branch: "main", CollectionName: "col1", LastSyncCommit: "h1",
	}))

	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("DeleteChunks", mock.Anything, "col1", mock.Anything).Return(nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, "h2", false).Return(nil)

	result, err := h.svc.IncrementalSync(context.Background(), "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Deleted)

	record, err := h.state.Get(context.Background(), "repo1", "main", "col1")
	require.NoError(t, err)
	assert.Equal(t, "h2", record.LastSyncCommit)
}

func TestIncrementalSyncAlreadyCurrent(t *testing.T) {
	version := &fakeVersion{head: "h1"}
	h := newSyncHarness(t, version, false)
	require.NoError(t, h.state.Upsert(context.Background(), &models.SyncStateRecord{
		RepoPath: "repo1", Branch: "main", CollectionName: "col1", LastSyncCommit: "h1",
	}))

	result, err := h.svc.IncrementalSync(context.Background(), "col1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNoChanges, result.Status)
}

func TestCheckoutSameBranchIsNoop(t *testing.T) {
	h := newSyncHarness(t, &fakeVersion{branch: "main", head: "h1"}, false)

	result, err := h.svc.Checkout(context.Background(), "main", false, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNoChanges, result.Status)
	h.vector.AssertNotCalled(t, "GetChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutSwitchesAndRebuilds(t *testing.T) {
	version := &fakeVersion{branch: "main", head: "h2", queryFn: doltDocsQueryFn([]models.Row{
		docRow("d1", "col1", "content on the feature branch"),
	})}
	h := newSyncHarness(t, version, false)

	// one known collection with no local edits
	h.vector.On("ListCollections", mock.Anything).Return([]string{"col1"}, nil)
	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, "h2", false).Return(nil)
	h.vector.On("CollectionCount", mock.Anything, "col1").Return(1, nil)

	result, err := h.svc.Checkout(context.Background(), "feature", false, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, "feature", version.branch)
	assert.Equal(t, 1, result.Added)
}

func TestCheckoutPreserveKeepsLocalEditsAndReconciles(t *testing.T) {
	mainDocs := []models.Row{
		docRow("d1", "col1", "shared document as committed on main"),
		docRow("d3", "col1", "document that only main knows about"),
	}
	featureDocs := []models.Row{
		docRow("d1", "col1", "shared document as committed on feature"),
	}
	version := &fakeVersion{branch: "main", head: "h2"}
	version.queryFn = func(query string, args []interface{}) ([]models.Row, error) {
		if version.branch == "feature" {
			return doltDocsQueryFn(featureDocs)(query, args)
		}
		return doltDocsQueryFn(mainDocs)(query, args)
	}
	h := newSyncHarness(t, version, false)

	d1Chunks := h.chunksFor(t, "d1", "shared document as committed on main")
	d2Chunks := h.chunksFor(t, "d2", "an uncommitted draft that must survive the switch")
	d3Chunks := h.chunksFor(t, "d3", "document that only main knows about")
	allChunks := append(append([]*models.Chunk{}, d1Chunks...), append(d2Chunks, d3Chunks...)...)

	h.vector.On("ListCollections", mock.Anything).Return([]string{"col1"}, nil)
	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, flaggedWhere()).Return(d2Chunks, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(allChunks, nil)

	// the carried draft's chunks must never be deleted
	withoutDraft := mock.MatchedBy(func(ids []string) bool {
		for _, id := range ids {
			if strings.HasPrefix(id, "d2_") {
				return false
			}
		}
		return true
	})
	h.vector.On("DeleteChunks", mock.Anything, "col1", withoutDraft).Return(nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, "h2", false).Return(nil)

	result, err := h.svc.Checkout(context.Background(), "feature", false, true, false)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, "feature", version.branch)

	// d1 rewritten to the feature content, d3 removed, d2 carried untouched
	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 1, result.Deleted)
	assert.Zero(t, result.Added)
	h.vector.AssertNumberOfCalls(t, "AddChunks", 1)

	record, err := h.state.Get(context.Background(), "repo1", "feature", "col1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "h2", record.LastSyncCommit)
}

func TestCheckoutBlockedWithoutPreserve(t *testing.T) {
	version := &fakeVersion{branch: "main", head: "h1", queryFn: doltDocsQueryFn(nil)}
	version.checkoutFn = func(ref string, createNew bool) error {
		return errors.New("local changes would be overwritten by checkout")
	}
	h := newSyncHarness(t, version, false)
	h.vector.On("ListCollections", mock.Anything).Return([]string{}, nil)

	result, err := h.svc.Checkout(context.Background(), "feature", false, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusLocalChangesExist, result.Status)

	// without preservation the working set is never dropped behind the
	// caller's back
	assert.Zero(t, version.resetCount)
}

func TestInitializeImportsVectorOnlyCollection(t *testing.T) {
	version := &fakeVersion{branch: "main", head: "h0", queryFn: doltDocsQueryFn(nil)}
	h := newSyncHarness(t, version, false)
	chunks := h.chunksFor(t, "d1", "a document that exists only in the vector store")

	h.vector.On("ListCollections", mock.Anything).Return([]string{"col1"}, nil)
	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(chunks, nil)
	h.vector.On("GetCollection", mock.Anything, "col1").Return(&repositories.CollectionInfo{Name: "col1"}, nil)
	h.vector.On("DeleteChunks", mock.Anything, "col1", mock.Anything).Return(nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, mock.Anything, false).Return(nil)

	result, err := h.svc.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, "commit-initialize col1 with 1 document(s)", result.CommitHash)

	// the vector content landed in the documents table and was committed
	assert.Equal(t, 1, execsContaining(version, "INSERT INTO documents"))
	assert.Equal(t, 1, version.commitCount)

	// the rewrite cleared the local-change flag at the new commit
	h.vector.AssertCalled(t, "AddChunks", mock.Anything, "col1", mock.Anything, result.CommitHash, false)

	record, err := h.state.Get(context.Background(), "repo1", "main", "col1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, result.CommitHash, record.LastSyncCommit)
}

func TestMergeSurfacesConflicts(t *testing.T) {
	version := &fakeVersion{head: "h1"}
	version.mergeFn = func(ref string) (*db.MergeResult, error) {
		return &db.MergeResult{HasConflicts: true, Message: "merge has conflicts"}, nil
	}
	version.conflictsFn = func(table string) ([]models.Row, error) {
		return []models.Row{{
			"our_doc_id":    "d1",
			"our_content":   "ours",
			"their_doc_id":  "d1",
			"their_content": "theirs",
		}}, nil
	}
	h := newSyncHarness(t, version, false)

	result, err := h.svc.Merge(context.Background(), "feature")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusConflicts, result.Status)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "d1", result.Conflicts[0].DocID)
	assert.Contains(t, result.Conflicts[0].Ours, "ours")
	assert.Contains(t, result.Conflicts[0].Theirs, "theirs")

	// conflicts never mutate the vector store
	h.vector.AssertNotCalled(t, "AddChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.vector.AssertNotCalled(t, "DeleteChunks", mock.Anything, mock.Anything, mock.Anything)
}

func TestMergeSuccessReplays(t *testing.T) {
	version := &fakeVersion{head: "h2", queryFn: doltDocsQueryFn(nil)}
	h := newSyncHarness(t, version, false)

	result, err := h.svc.Merge(context.Background(), "feature")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, "merge-feature", result.CommitHash)
}

func TestPullBlockedByLocalChanges(t *testing.T) {
	version := &fakeVersion{head: "h1", queryFn: doltDocsQueryFn(nil)}
	h := newSyncHarness(t, version, false)
	chunks := h.chunksFor(t, "d1", "uncommitted local edit")

	h.vector.On("ListCollections", mock.Anything).Return([]string{"col1"}, nil)
	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, flaggedWhere()).Return(chunks, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(chunks, nil)

	result, err := h.svc.Pull(context.Background(), "origin")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusLocalChangesExist, result.Status)
	require.NotNil(t, result.LocalChanges)
	assert.Equal(t, 1, result.LocalChanges.Count())
}

func TestResetSoftLeavesVectorAlone(t *testing.T) {
	h := newSyncHarness(t, &fakeVersion{head: "h1"}, false)

	result, err := h.svc.Reset(context.Background(), "HEAD~1", false)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	h.vector.AssertNotCalled(t, "DeleteChunks", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatusReportsBothSides(t *testing.T) {
	version := &fakeVersion{branch: "main", head: "h1", hasChanges: true, queryFn: doltDocsQueryFn(nil)}
	h := newSyncHarness(t, version, false)
	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)

	report, err := h.svc.Status(context.Background(), "col1")
	require.NoError(t, err)
	assert.Equal(t, "main", report.Branch)
	assert.Equal(t, "h1", report.HeadCommit)
	assert.True(t, report.DoltHasChanges)
	assert.False(t, report.LocalChanges.HasChanges())
}

func TestImportCommitsAndSyncs(t *testing.T) {
	imported := docRow("d1", "col1", "imported content")
	version := &fakeVersion{head: "h1", queryFn: doltDocsQueryFn([]models.Row{imported})}
	h := newSyncHarness(t, version, false)

	h.vector.On("CollectionExists", mock.Anything, "col1").Return(true, nil)
	h.vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)
	h.vector.On("AddChunks", mock.Anything, "col1", mock.Anything, mock.Anything, false).Return(nil)
	h.vector.On("CollectionCount", mock.Anything, "col1").Return(1, nil)

	docs := []*models.Document{{DocID: "d1", Content: "imported content"}}
	result, err := h.svc.Import(context.Background(), "col1", docs, "")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, version.commitCount)
	assert.Equal(t, 1, execsContaining(version, "INSERT INTO documents"))
}
