package repositories

import (
	"context"

	"dolt-chroma-sync/internal/db"
	"dolt-chroma-sync/internal/models"
)

// VersionRepository defines the capability set of the versioning engine:
// SQL access plus branch, commit, diff, and remote operations.
type VersionRepository interface {
	// SQL
	Query(ctx context.Context, query string, args ...interface{}) ([]models.Row, error)
	Exec(ctx context.Context, query string, args ...interface{}) error

	// Working set
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (string, error)
	Status(ctx context.Context) ([]db.TableStatus, error)
	HasChanges(ctx context.Context) (bool, error)
	Add(ctx context.Context, table string) error
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (*db.CommitResult, error)

	// History
	Checkout(ctx context.Context, ref string, createNew bool) error
	ResetHard(ctx context.Context, ref string) error
	ResetSoft(ctx context.Context, ref string) error
	Merge(ctx context.Context, ref string) (*db.MergeResult, error)
	GetConflicts(ctx context.Context, table string) ([]models.Row, error)
	Diff(ctx context.Context, fromCommit, toCommit, table string) ([]models.Row, error)

	// Remotes
	Pull(ctx context.Context, remote string) error
	Push(ctx context.Context, remote, branch string) error
	Fetch(ctx context.Context) error
	Clone(ctx context.Context, url string) error

	IsInitialized(ctx context.Context) (bool, error)
	Close() error
}

// DoltVersionRepository implements VersionRepository against a Dolt SQL
// server.
type DoltVersionRepository struct {
	client *db.DoltClient
}

// NewDoltVersionRepository creates a Dolt-backed version repository.
func NewDoltVersionRepository(client *db.DoltClient) VersionRepository {
	return &DoltVersionRepository{client: client}
}

func (r *DoltVersionRepository) Query(ctx context.Context, query string, args ...interface{}) ([]models.Row, error) {
	return r.client.Query(ctx, query, args...)
}

func (r *DoltVersionRepository) Exec(ctx context.Context, query string, args ...interface{}) error {
	return r.client.Exec(ctx, query, args...)
}

func (r *DoltVersionRepository) CurrentBranch(ctx context.Context) (string, error) {
	return r.client.CurrentBranch(ctx)
}

func (r *DoltVersionRepository) HeadCommit(ctx context.Context) (string, error) {
	return r.client.HeadCommit(ctx)
}

func (r *DoltVersionRepository) Status(ctx context.Context) ([]db.TableStatus, error) {
	return r.client.Status(ctx)
}

func (r *DoltVersionRepository) HasChanges(ctx context.Context) (bool, error) {
	return r.client.HasChanges(ctx)
}

func (r *DoltVersionRepository) Add(ctx context.Context, table string) error {
	return r.client.Add(ctx, table)
}

func (r *DoltVersionRepository) AddAll(ctx context.Context) error {
	return r.client.AddAll(ctx)
}

func (r *DoltVersionRepository) Commit(ctx context.Context, message string) (*db.CommitResult, error) {
	return r.client.Commit(ctx, message)
}

func (r *DoltVersionRepository) Checkout(ctx context.Context, ref string, createNew bool) error {
	return r.client.Checkout(ctx, ref, createNew)
}

func (r *DoltVersionRepository) ResetHard(ctx context.Context, ref string) error {
	return r.client.ResetHard(ctx, ref)
}

func (r *DoltVersionRepository) ResetSoft(ctx context.Context, ref string) error {
	return r.client.ResetSoft(ctx, ref)
}

func (r *DoltVersionRepository) Merge(ctx context.Context, ref string) (*db.MergeResult, error) {
	return r.client.Merge(ctx, ref)
}

func (r *DoltVersionRepository) GetConflicts(ctx context.Context, table string) ([]models.Row, error) {
	return r.client.GetConflicts(ctx, table)
}

func (r *DoltVersionRepository) Diff(ctx context.Context, fromCommit, toCommit, table string) ([]models.Row, error) {
	return r.client.Diff(ctx, fromCommit, toCommit, table)
}

func (r *DoltVersionRepository) Pull(ctx context.Context, remote string) error {
	return r.client.Pull(ctx, remote)
}

func (r *DoltVersionRepository) Push(ctx context.Context, remote, branch string) error {
	return r.client.Push(ctx, remote, branch)
}

func (r *DoltVersionRepository) Fetch(ctx context.Context) error {
	return r.client.Fetch(ctx)
}

func (r *DoltVersionRepository) Clone(ctx context.Context, url string) error {
	return r.client.Clone(ctx, url)
}

func (r *DoltVersionRepository) IsInitialized(ctx context.Context) (bool, error) {
	return r.client.IsInitialized(ctx)
}

func (r *DoltVersionRepository) Close() error {
	return r.client.Close()
}
