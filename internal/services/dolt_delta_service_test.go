package services

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func docRow(docID, collection, content string) models.Row {
	return models.Row{
		"doc_id":          docID,
		"collection_name": collection,
		"content":         content,
		"content_hash":    models.HashContent(content),
		"title":           "",
		"doc_type":        "",
		"metadata":        "{}",
	}
}

func newDelta(version repositories.VersionRepository) *DoltDeltaService {
	return NewDoltDeltaService(version, testLogger())
}

func TestPendingSyncDocumentsClassification(t *testing.T) {
	newRow := docRow("d1", "col1", "brand new")
	sameRow := docRow("d2", "col1", "unchanged")
	sameRow["synced_hash"] = models.HashContent("unchanged")
	changedRow := docRow("d3", "col1", "edited")
	changedRow["synced_hash"] = models.HashContent("original")

	version := &fakeVersion{queryFn: func(query string, args []interface{}) ([]models.Row, error) {
		return []models.Row{newRow, sameRow, changedRow}, nil
	}}

	newDocs, modified, err := newDelta(version).PendingSyncDocuments(context.Background(), "col1")
	require.NoError(t, err)
	require.Len(t, newDocs, 1)
	assert.Equal(t, "d1", newDocs[0].DocID)
	require.Len(t, modified, 1)
	assert.Equal(t, "d3", modified[0].DocID)
}

func TestPendingSyncDocumentsFreshRepo(t *testing.T) {
	version := &fakeVersion{queryFn: func(query string, args []interface{}) ([]models.Row, error) {
		return nil, errors.New("table not found: documents")
	}}

	newDocs, modified, err := newDelta(version).PendingSyncDocuments(context.Background(), "col1")
	require.NoError(t, err)
	assert.Empty(t, newDocs)
	assert.Empty(t, modified)
}

func TestDeletedDocuments(t *testing.T) {
	version := &fakeVersion{queryFn: func(query string, args []interface{}) ([]models.Row, error) {
		return []models.Row{{"doc_id": "gone", "content_hash": "h1"}}, nil
	}}

	deleted, err := newDelta(version).DeletedDocuments(context.Background(), "col1")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "gone", deleted[0].DocID)
	assert.Equal(t, "h1", deleted[0].ContentHash)
	assert.Equal(t, "col1", deleted[0].CollectionName)
}

func TestCommitDiffMapsRowTypes(t *testing.T) {
	version := &fakeVersion{diffFn: func(from, to, table string) ([]models.Row, error) {
		return []models.Row{
			{
				"diff_type":          "added",
				"to_doc_id":          "a1",
				"to_collection_name": "col1",
				"to_content":         "added content",
				"to_content_hash":    models.HashContent("added content"),
			},
			{
				"diff_type":          "modified",
				"to_doc_id":          "m1",
				"to_collection_name": "col1",
				"to_content":         "new content",
				"to_content_hash":    models.HashContent("new content"),
			},
			{
				"diff_type":            "removed",
				"from_doc_id":          "r1",
				"from_collection_name": "col1",
				"from_content":         "old content",
				"from_content_hash":    models.HashContent("old content"),
			},
			{
				"diff_type":          "added",
				"to_doc_id":          "other",
				"to_collection_name": "col2",
				"to_content":         "elsewhere",
				"to_content_hash":    models.HashContent("elsewhere"),
			},
		}, nil
	}}

	diff, err := newDelta(version).CommitDiff(context.Background(), "c1", "c2", "col1")
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, "a1", diff.Added[0].DocID)
	assert.Equal(t, "added content", diff.Added[0].Content)
	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "m1", diff.Modified[0].DocID)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "r1", diff.Removed[0].DocID)
}

func TestCommitDiffNoCollectionFilter(t *testing.T) {
	version := &fakeVersion{diffFn: func(from, to, table string) ([]models.Row, error) {
		return []models.Row{
			{"diff_type": "added", "to_doc_id": "a", "to_collection_name": "col1", "to_content": "x", "to_content_hash": "h"},
			{"diff_type": "added", "to_doc_id": "b", "to_collection_name": "col2", "to_content": "y", "to_content_hash": "h"},
		}, nil
	}}

	diff, err := newDelta(version).CommitDiff(context.Background(), "c1", "c2", "")
	require.NoError(t, err)
	assert.Len(t, diff.Added, 2)
}

func TestDocumentsByIDsEmptyInput(t *testing.T) {
	called := false
	version := &fakeVersion{queryFn: func(query string, args []interface{}) ([]models.Row, error) {
		called = true
		return nil, nil
	}}

	result, err := newDelta(version).DocumentsByIDs(context.Background(), "col1", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.False(t, called)
}

func TestAvailableCollectionsMergesSources(t *testing.T) {
	version := &fakeVersion{queryFn: func(query string, args []interface{}) ([]models.Row, error) {
		if strings.Contains(query, "DISTINCT") {
			return []models.Row{{"collection_name": "docs"}, {"collection_name": "notes"}}, nil
		}
		return []models.Row{{"collection_name": "notes"}, {"collection_name": "archive"}}, nil
	}}

	names, err := newDelta(version).AvailableCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "docs", "notes"}, names)
}
