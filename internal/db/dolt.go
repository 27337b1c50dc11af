package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"dolt-chroma-sync/internal/models"
)

// DoltClient talks to a running Dolt SQL server over the MySQL protocol.
// Version-control operations go through the DOLT_* stored procedures and the
// dolt_* system relations.
type DoltClient struct {
	db       *sql.DB
	database string
}

// DoltConfig holds connection settings for the Dolt SQL server.
type DoltConfig struct {
	DSN      string
	Database string
	Timeout  time.Duration
}

// CommitResult is the outcome of DOLT_COMMIT.
type CommitResult struct {
	Success bool
	Hash    string
	Message string
}

// MergeResult is the outcome of DOLT_MERGE.
type MergeResult struct {
	Success      bool
	HasConflicts bool
	Hash         string
	Message      string
}

// TableStatus is one row of dolt_status.
type TableStatus struct {
	TableName string
	Staged    bool
	Status    string
}

// NewDoltClient opens a connection pool against the Dolt SQL server.
func NewDoltClient(cfg DoltConfig) (*DoltClient, error) {
	sqlDB, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open dolt connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("dolt server unreachable: %w", err)
	}

	return &DoltClient{db: sqlDB, database: cfg.Database}, nil
}

// Ping checks the Dolt SQL server is reachable.
func (c *DoltClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Query runs a SELECT and returns schemaless rows with typed accessors.
func (c *DoltClient) Query(ctx context.Context, query string, args ...interface{}) ([]models.Row, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []models.Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			// copy driver-owned byte slices before the next fetch
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Exec runs a statement that returns no rows.
func (c *DoltClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (c *DoltClient) CurrentBranch(ctx context.Context) (string, error) {
	rows, err := c.Query(ctx, "SELECT active_branch() AS branch")
	if err != nil {
		return "", fmt.Errorf("failed to read active branch: %w", err)
	}
	if len(rows) == 0 {
		return "", errors.New("active_branch() returned no rows")
	}
	branch, _ := rows[0].GetString("branch")
	return branch, nil
}

// HeadCommit returns the commit hash at HEAD, or "" for an empty repository.
func (c *DoltClient) HeadCommit(ctx context.Context) (string, error) {
	rows, err := c.Query(ctx, "SELECT commit_hash FROM dolt_log LIMIT 1")
	if err != nil {
		if IsTableNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	hash, _ := rows[0].GetString("commit_hash")
	return hash, nil
}

// Status returns the working-set status from dolt_status.
func (c *DoltClient) Status(ctx context.Context) ([]TableStatus, error) {
	rows, err := c.Query(ctx, "SELECT table_name, staged, status FROM dolt_status")
	if err != nil {
		return nil, fmt.Errorf("failed to read dolt_status: %w", err)
	}
	statuses := make([]TableStatus, 0, len(rows))
	for _, row := range rows {
		var ts TableStatus
		ts.TableName, _ = row.GetString("table_name")
		ts.Staged, _ = row.GetBool("staged")
		ts.Status, _ = row.GetString("status")
		statuses = append(statuses, ts)
	}
	return statuses, nil
}

// HasChanges reports whether the working set has staged or unstaged changes.
func (c *DoltClient) HasChanges(ctx context.Context) (bool, error) {
	statuses, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(statuses) > 0, nil
}

// Add stages one table.
func (c *DoltClient) Add(ctx context.Context, table string) error {
	if err := c.Exec(ctx, "CALL DOLT_ADD(?)", table); err != nil {
		return fmt.Errorf("dolt add %s failed: %w", table, err)
	}
	return nil
}

// AddAll stages every changed table.
func (c *DoltClient) AddAll(ctx context.Context) error {
	if err := c.Exec(ctx, "CALL DOLT_ADD('-A')"); err != nil {
		return fmt.Errorf("dolt add -A failed: %w", err)
	}
	return nil
}

// Commit commits the staged changes. A "nothing to commit" diagnostic is
// returned as an unsuccessful result rather than an error.
func (c *DoltClient) Commit(ctx context.Context, message string) (*CommitResult, error) {
	rows, err := c.Query(ctx, "CALL DOLT_COMMIT('-m', ?)", message)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "nothing to commit") {
			return &CommitResult{Success: false, Message: "nothing to commit"}, nil
		}
		return nil, fmt.Errorf("dolt commit failed: %w", err)
	}

	result := &CommitResult{Success: true}
	if len(rows) > 0 {
		result.Hash, _ = rows[0].GetString("hash")
	}
	if result.Hash == "" {
		result.Hash, err = c.HeadCommit(ctx)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Checkout switches HEAD to the given branch or commit. With createNew a new
// branch is created first.
func (c *DoltClient) Checkout(ctx context.Context, ref string, createNew bool) error {
	var err error
	if createNew {
		err = c.Exec(ctx, "CALL DOLT_CHECKOUT('-b', ?)", ref)
	} else {
		err = c.Exec(ctx, "CALL DOLT_CHECKOUT(?)", ref)
	}
	if err != nil {
		return fmt.Errorf("dolt checkout %s failed: %w", ref, err)
	}
	return nil
}

// ResetHard discards staged and unstaged changes down to ref (HEAD if empty).
func (c *DoltClient) ResetHard(ctx context.Context, ref string) error {
	if ref == "" {
		ref = "HEAD"
	}
	if err := c.Exec(ctx, "CALL DOLT_RESET('--hard', ?)", ref); err != nil {
		return fmt.Errorf("dolt reset --hard %s failed: %w", ref, err)
	}
	return nil
}

// ResetSoft unstages changes without touching the working set.
func (c *DoltClient) ResetSoft(ctx context.Context, ref string) error {
	if ref == "" {
		ref = "HEAD"
	}
	if err := c.Exec(ctx, "CALL DOLT_RESET('--soft', ?)", ref); err != nil {
		return fmt.Errorf("dolt reset --soft %s failed: %w", ref, err)
	}
	return nil
}

// Merge merges the given ref into the current branch. Conflicts are reported
// on the result, not as an error.
func (c *DoltClient) Merge(ctx context.Context, ref string) (*MergeResult, error) {
	rows, err := c.Query(ctx, "CALL DOLT_MERGE(?)", ref)
	if err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "conflict") {
			return &MergeResult{Success: false, HasConflicts: true, Message: err.Error()}, nil
		}
		return nil, fmt.Errorf("dolt merge %s failed: %w", ref, err)
	}

	result := &MergeResult{Success: true}
	if len(rows) > 0 {
		result.Hash, _ = rows[0].GetString("hash")
		if conflicts, ok := rows[0].GetInt("conflicts"); ok && conflicts > 0 {
			result.Success = false
			result.HasConflicts = true
			result.Message = fmt.Sprintf("%d conflicts", conflicts)
		}
	}
	return result, nil
}

// Pull fetches and merges from the given remote.
func (c *DoltClient) Pull(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	if err := c.Exec(ctx, "CALL DOLT_PULL(?)", remote); err != nil {
		return fmt.Errorf("dolt pull %s failed: %w", remote, err)
	}
	return nil
}

// Push pushes the given branch to the remote.
func (c *DoltClient) Push(ctx context.Context, remote, branch string) error {
	if remote == "" {
		remote = "origin"
	}
	if err := c.Exec(ctx, "CALL DOLT_PUSH(?, ?)", remote, branch); err != nil {
		return fmt.Errorf("dolt push %s %s failed: %w", remote, branch, err)
	}
	return nil
}

// Fetch updates remote tracking refs.
func (c *DoltClient) Fetch(ctx context.Context) error {
	if err := c.Exec(ctx, "CALL DOLT_FETCH()"); err != nil {
		return fmt.Errorf("dolt fetch failed: %w", err)
	}
	return nil
}

// Clone clones a remote database.
func (c *DoltClient) Clone(ctx context.Context, url string) error {
	if err := c.Exec(ctx, "CALL DOLT_CLONE(?)", url); err != nil {
		return fmt.Errorf("dolt clone %s failed: %w", url, err)
	}
	return nil
}

// IsInitialized reports whether the database has any commit history.
func (c *DoltClient) IsInitialized(ctx context.Context) (bool, error) {
	_, err := c.Query(ctx, "SELECT commit_hash FROM dolt_log LIMIT 1")
	if err != nil {
		if IsTableNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetConflicts reads the per-table conflicts relation.
func (c *DoltClient) GetConflicts(ctx context.Context, table string) ([]models.Row, error) {
	rows, err := c.Query(ctx, fmt.Sprintf("SELECT * FROM `dolt_conflicts_%s`", sanitizeIdentifier(table)))
	if err != nil {
		if IsTableNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conflicts for %s: %w", table, err)
	}
	return rows, nil
}

// Diff returns the native commit-to-commit diff rows for one table.
func (c *DoltClient) Diff(ctx context.Context, fromCommit, toCommit, table string) ([]models.Row, error) {
	rows, err := c.Query(ctx, "SELECT * FROM DOLT_DIFF(?, ?, ?)", fromCommit, toCommit, table)
	if err != nil {
		if IsTableNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dolt_diff(%s, %s, %s) failed: %w", fromCommit, toCommit, table, err)
	}
	return rows, nil
}

// Close releases the connection pool.
func (c *DoltClient) Close() error {
	return c.db.Close()
}

// IsTableNotFound matches the diagnostics Dolt produces for a missing table.
// A fresh repository has no documents table yet; callers treat that as empty.
func IsTableNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "table not found") ||
		strings.Contains(msg, "doesn't exist") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "error 1146")
}

// sanitizeIdentifier strips everything but the characters valid in the table
// names this engine creates. Conflict relations are the one place a table
// name cannot go through a placeholder.
func sanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
