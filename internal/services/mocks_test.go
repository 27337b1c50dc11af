package services

import (
	"context"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
	"dolt-chroma-sync/internal/repositories"

	"github.com/stretchr/testify/mock"
)

// ============================================================================
// Mock Repositories
// ============================================================================

type MockVectorRepository struct {
	mock.Mock
}

func (m *MockVectorRepository) CreateCollection(ctx context.Context, name string, metadata map[string]interface{}) error {
	args := m.Called(ctx, name, metadata)
	return args.Error(0)
}

func (m *MockVectorRepository) DeleteCollection(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockVectorRepository) GetCollection(ctx context.Context, name string) (*repositories.CollectionInfo, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.CollectionInfo), args.Error(1)
}

func (m *MockVectorRepository) ListCollections(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockVectorRepository) CollectionExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockVectorRepository) CollectionCount(ctx context.Context, name string) (int, error) {
	args := m.Called(ctx, name)
	return args.Int(0), args.Error(1)
}

func (m *MockVectorRepository) RenameCollection(ctx context.Context, name, newName string) error {
	args := m.Called(ctx, name, newName)
	return args.Error(0)
}

func (m *MockVectorRepository) UpdateCollectionMetadata(ctx context.Context, name string, metadata map[string]interface{}) error {
	args := m.Called(ctx, name, metadata)
	return args.Error(0)
}

func (m *MockVectorRepository) AddChunks(ctx context.Context, collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) error {
	args := m.Called(ctx, collection, chunks, doltCommit, markLocalChange)
	return args.Error(0)
}

func (m *MockVectorRepository) UpdateChunks(ctx context.Context, collection string, chunks []*models.Chunk, doltCommit string, markLocalChange bool) error {
	args := m.Called(ctx, collection, chunks, doltCommit, markLocalChange)
	return args.Error(0)
}

func (m *MockVectorRepository) GetChunks(ctx context.Context, collection string, ids []string, where map[string]interface{}) ([]*models.Chunk, error) {
	args := m.Called(ctx, collection, ids, where)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Chunk), args.Error(1)
}

func (m *MockVectorRepository) DeleteChunks(ctx context.Context, collection string, ids []string) error {
	args := m.Called(ctx, collection, ids)
	return args.Error(0)
}

func (m *MockVectorRepository) ListChunkIDs(ctx context.Context, collection string) ([]string, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockVectorRepository) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockVectorRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockVectorRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ============================================================================
// Scripted version repository
// ============================================================================

// fakeVersion is a scriptable in-memory stand-in for the versioning engine.
// Function fields override individual operations; unset fields fall back to
// the plain field values.
type fakeVersion struct {
	branch     string
	head       string
	hasChanges bool

	queryFn     func(query string, args []interface{}) ([]models.Row, error)
	execFn      func(query string, args []interface{}) error
	commitFn    func(message string) (*db.CommitResult, error)
	mergeFn     func(ref string) (*db.MergeResult, error)
	checkoutFn  func(ref string, createNew bool) error
	diffFn      func(from, to, table string) ([]models.Row, error)
	conflictsFn func(table string) ([]models.Row, error)

	execLog     []string
	commitCount int
	resetCount  int
}

func (f *fakeVersion) Query(ctx context.Context, query string, args ...interface{}) ([]models.Row, error) {
	if f.queryFn != nil {
		return f.queryFn(query, args)
	}
	return nil, nil
}

func (f *fakeVersion) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.execLog = append(f.execLog, query)
	if f.execFn != nil {
		return f.execFn(query, args)
	}
	return nil
}

func (f *fakeVersion) CurrentBranch(ctx context.Context) (string, error) {
	if f.branch == "" {
		return "main", nil
	}
	return f.branch, nil
}

func (f *fakeVersion) HeadCommit(ctx context.Context) (string, error) {
	return f.head, nil
}

func (f *fakeVersion) Status(ctx context.Context) ([]db.TableStatus, error) {
	return nil, nil
}

func (f *fakeVersion) HasChanges(ctx context.Context) (bool, error) {
	return f.hasChanges, nil
}

func (f *fakeVersion) Add(ctx context.Context, table string) error { return nil }

func (f *fakeVersion) AddAll(ctx context.Context) error { return nil }

func (f *fakeVersion) Commit(ctx context.Context, message string) (*db.CommitResult, error) {
	f.commitCount++
	if f.commitFn != nil {
		return f.commitFn(message)
	}
	return &db.CommitResult{Success: true, Hash: "commit-" + message}, nil
}

func (f *fakeVersion) Checkout(ctx context.Context, ref string, createNew bool) error {
	if f.checkoutFn != nil {
		return f.checkoutFn(ref, createNew)
	}
	f.branch = ref
	return nil
}

func (f *fakeVersion) ResetHard(ctx context.Context, ref string) error {
	f.resetCount++
	f.hasChanges = false
	return nil
}

func (f *fakeVersion) ResetSoft(ctx context.Context, ref string) error { return nil }

func (f *fakeVersion) Merge(ctx context.Context, ref string) (*db.MergeResult, error) {
	if f.mergeFn != nil {
		return f.mergeFn(ref)
	}
	return &db.MergeResult{Success: true, Hash: "merge-" + ref}, nil
}

func (f *fakeVersion) GetConflicts(ctx context.Context, table string) ([]models.Row, error) {
	if f.conflictsFn != nil {
		return f.conflictsFn(table)
	}
	return nil, nil
}

func (f *fakeVersion) Diff(ctx context.Context, fromCommit, toCommit, table string) ([]models.Row, error) {
	if f.diffFn != nil {
		return f.diffFn(fromCommit, toCommit, table)
	}
	return nil, nil
}

func (f *fakeVersion) Pull(ctx context.Context, remote string) error { return nil }

func (f *fakeVersion) Push(ctx context.Context, remote, branch string) error { return nil }

func (f *fakeVersion) Fetch(ctx context.Context) error { return nil }

func (f *fakeVersion) Clone(ctx context.Context, url string) error { return nil }

func (f *fakeVersion) IsInitialized(ctx context.Context) (bool, error) {
	return f.head != "", nil
}

func (f *fakeVersion) Close() error { return nil }
