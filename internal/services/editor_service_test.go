package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dolt-chroma-sync/internal/chunker"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"
)

func newEditorHarness(t *testing.T, vector *MockVectorRepository) (*DocumentEditorService, repositories.DeletionRepository) {
	t.Helper()
	deletions := repositories.NewSQLiteDeletionRepository(testStateDB(t))
	svc := NewDocumentEditorService(vector, deletions, chunker.New(64, 8), "repo1", testLogger())
	return svc, deletions
}

func editorChunks(docID, content string) []*models.Chunk {
	ck := chunker.New(64, 8)
	chunks, _ := ck.Chunk(&models.Document{DocID: docID, CollectionName: "col1", Content: content})
	return chunks
}

func TestPutDocumentCreatesCollectionAndFlagsChunks(t *testing.T) {
	vector := new(MockVectorRepository)
	vector.On("CollectionExists", mock.Anything, "col1").Return(false, nil)
	vector.On("CreateCollection", mock.Anything, "col1", mock.Anything).Return(nil)
	vector.On("DeleteChunks", mock.Anything, "col1", mock.Anything).Return(nil)
	vector.On("AddChunks", mock.Anything, "col1", mock.Anything, "", true).Return(nil)

	svc, _ := newEditorHarness(t, vector)

	count, err := svc.PutDocument(context.Background(), "col1", &models.Document{
		DocID:   "doc1",
		Content: strings.Repeat("sync engines need content ", 8),
	})
	require.NoError(t, err)
	assert.Greater(t, count, 1)
	vector.AssertExpectations(t)
}

func TestPutDocumentRejectsInvalidInput(t *testing.T) {
	vector := new(MockVectorRepository)
	svc, _ := newEditorHarness(t, vector)

	_, err := svc.PutDocument(context.Background(), "", &models.Document{DocID: "d1", Content: "x"})
	require.Error(t, err)

	_, err = svc.PutDocument(context.Background(), "col1", &models.Document{DocID: "", Content: "x"})
	require.Error(t, err)
	vector.AssertNotCalled(t, "AddChunks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetDocumentReassembles(t *testing.T) {
	content := strings.Repeat("each chunk carries part of the document ", 6)
	chunks := editorChunks("doc1", content)
	require.Greater(t, len(chunks), 1)

	vector := new(MockVectorRepository)
	vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(chunks, nil)

	svc, _ := newEditorHarness(t, vector)

	doc, err := svc.GetDocument(context.Background(), "col1", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1", doc.DocID)
	assert.Equal(t, content, doc.Content)
	assert.Equal(t, models.HashContent(content), doc.ContentHash)
	assert.Equal(t, "col1", doc.CollectionName)
}

func TestGetDocumentNotFound(t *testing.T) {
	vector := new(MockVectorRepository)
	vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return([]*models.Chunk{}, nil)

	svc, _ := newEditorHarness(t, vector)

	_, err := svc.GetDocument(context.Background(), "col1", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteDocumentRecordsTombstone(t *testing.T) {
	content := "short lived document"
	chunks := editorChunks("doc1", content)

	vector := new(MockVectorRepository)
	vector.On("GetChunks", mock.Anything, "col1", mock.Anything, mock.Anything).Return(chunks, nil)
	vector.On("DeleteChunks", mock.Anything, "col1", mock.Anything).Return(nil)

	svc, deletions := newEditorHarness(t, vector)

	require.NoError(t, svc.DeleteDocument(context.Background(), "col1", "doc1"))
	vector.AssertExpectations(t)

	pending, err := deletions.GetPendingDocumentDeletions(context.Background(), "repo1", "col1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc1", pending[0].DocID)
	assert.Equal(t, models.HashContent(content), pending[0].OriginalContentHash)
}

func TestDeleteCollectionRecordsOperation(t *testing.T) {
	vector := new(MockVectorRepository)
	vector.On("DeleteCollection", mock.Anything, "col1").Return(nil)

	svc, deletions := newEditorHarness(t, vector)

	require.NoError(t, svc.DeleteCollection(context.Background(), "col1"))

	ops, err := deletions.GetPendingCollectionOperations(context.Background(), "repo1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCollectionDelete, ops[0].OperationType)
	assert.Equal(t, "col1", ops[0].CollectionName)
}

func TestRenameCollectionRecordsTarget(t *testing.T) {
	vector := new(MockVectorRepository)
	vector.On("RenameCollection", mock.Anything, "col1", "col2").Return(nil)

	svc, deletions := newEditorHarness(t, vector)

	require.NoError(t, svc.RenameCollection(context.Background(), "col1", "col2"))

	ops, err := deletions.GetPendingCollectionOperations(context.Background(), "repo1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCollectionRename, ops[0].OperationType)
	assert.Equal(t, "col2", ops[0].NewName)

	// Rename without a target is rejected before touching the store
	err = svc.RenameCollection(context.Background(), "col1", "")
	require.Error(t, err)
}

func TestUpdateCollectionMetadataRecordsPayload(t *testing.T) {
	metadata := map[string]interface{}{"team": "docs"}
	vector := new(MockVectorRepository)
	vector.On("UpdateCollectionMetadata", mock.Anything, "col1", metadata).Return(nil)

	svc, deletions := newEditorHarness(t, vector)

	require.NoError(t, svc.UpdateCollectionMetadata(context.Background(), "col1", `{"team":"docs"}`, metadata))

	ops, err := deletions.GetPendingCollectionOperations(context.Background(), "repo1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCollectionMetadata, ops[0].OperationType)
	assert.JSONEq(t, `{"team":"docs"}`, ops[0].NewName)
}
