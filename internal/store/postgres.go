package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// PostgresStore implements the Store and System interfaces using pgx/v5.
// Debits and fail-with-refund run as single transactions holding a row lock
// on the tenant's balance, so the balance and its ledger never diverge.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scopeID(scope tenant.Scope) (uuid.UUID, error) {
	if !scope.Valid() {
		return uuid.Nil, ErrInvalidScope
	}
	return scope.TenantID(), nil
}

// --- Tenants ---

func (s *PostgresStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, credit_balance, subscription_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.CreditBalance, t.SubscriptionStatus, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, scope tenant.Scope) (*models.Tenant, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, err
	}

	var t models.Tenant
	err = s.pool.QueryRow(ctx,
		`SELECT id, name, credit_balance, subscription_status, created_at, updated_at
		 FROM tenants WHERE id = $1`, tenantID,
	).Scan(&t.ID, &t.Name, &t.CreditBalance, &t.SubscriptionStatus, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, scope tenant.Scope, key *models.APIKey) error {
	tenantID, err := scopeID(scope)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, tenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	key.TenantID = tenantID
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, scope tenant.Scope) ([]*models.APIKey, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, scope tenant.Scope, id uuid.UUID) error {
	tenantID, err := scopeID(scope)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, tenant_id, type, status, cost, input_ref, params, result_ref, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var status string
	err := row.Scan(&j.ID, &j.TenantID, &j.Type, &status, &j.Cost, &j.InputRef, &j.Params,
		&j.ResultRef, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, ok := models.ParseJobStatus(status)
	if !ok {
		return nil, fmt.Errorf("job %s has unknown status %q", j.ID, status)
	}
	j.Status = parsed
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, scope tenant.Scope, job *models.Job) error {
	tenantID, err := scopeID(scope)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, type, status, cost, input_ref, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, tenantID, job.Type, job.Status, job.Cost, job.InputRef, job.Params,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	job.TenantID = tenantID
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*models.Job, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, err
	}

	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, scope tenant.Scope, filter JobFilter) ([]*models.Job, int, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	where := `tenant_id = $1`
	args := []any{tenantID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, filter.Status)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// TransitionJob performs the compare-and-swap that makes pending->processing
// a single-flight transition: the UPDATE only matches while the job is still
// in the expected status, so exactly one concurrent caller wins.
func (s *PostgresStore) TransitionJob(ctx context.Context, scope tenant.Scope, id uuid.UUID, from, to models.JobStatus) (*models.Job, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrConflict, from, to)
	}

	set := `status = $4, updated_at = NOW()`
	switch {
	case to == models.JobStatusProcessing:
		set += `, started_at = NOW()`
	case to == models.JobStatusPending:
		// Revert after a refused debit: the job was never dispatched.
		set += `, started_at = NULL`
	case to.IsTerminal():
		set += `, completed_at = NOW()`
	}

	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET `+set+`
		 WHERE id = $1 AND tenant_id = $2 AND status = $3
		 RETURNING `+jobColumns,
		id, tenantID, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the CAS, or the job does not exist for this tenant.
		if _, getErr := s.GetJob(ctx, scope, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("transition job %s -> %s: %w", from, to, err)
	}
	return j, nil
}

// --- Ledger ---

// DebitForJob charges amount against the tenant's balance and appends the
// debit entry in one transaction. SELECT ... FOR UPDATE serializes debits for
// the same tenant; other tenants' rows are untouched and never block.
func (s *PostgresStore) DebitForJob(ctx context.Context, scope tenant.Scope, jobID uuid.UUID, amount int64) (*models.LedgerEntry, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin debit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credit_balance FROM tenants WHERE id = $1 FOR UPDATE`, tenantID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock tenant balance: %w", err)
	}

	if balance < amount {
		return nil, ErrInsufficientCredits
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tenants SET credit_balance = credit_balance - $2, updated_at = NOW() WHERE id = $1`,
		tenantID, amount); err != nil {
		return nil, fmt.Errorf("decrement balance: %w", err)
	}

	entry := &models.LedgerEntry{
		ID:       uuid.New(),
		TenantID: tenantID,
		Amount:   -amount,
		Reason:   models.LedgerReasonDebit,
		JobID:    &jobID,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (id, tenant_id, amount, reason, job_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		entry.ID, entry.TenantID, entry.Amount, entry.Reason, entry.JobID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: job %s already debited", ErrConflict, jobID)
		}
		return nil, fmt.Errorf("append debit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) Grant(ctx context.Context, scope tenant.Scope, amount int64, reason models.LedgerReason, description string) (*models.LedgerEntry, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if reason != models.LedgerReasonBonus && reason != models.LedgerReasonPurchase {
		return nil, fmt.Errorf("grant reason must be bonus or purchase, got %q", reason)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin grant: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tenants SET credit_balance = credit_balance + $2, updated_at = NOW() WHERE id = $1`,
		tenantID, amount)
	if err != nil {
		return nil, fmt.Errorf("increment balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Amount:      amount,
		Reason:      reason,
		Description: description,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (id, tenant_id, amount, reason, description)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		entry.ID, entry.TenantID, entry.Amount, entry.Reason, entry.Description,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append grant entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit grant: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, scope tenant.Scope) (int64, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return 0, err
	}

	var balance int64
	err = s.pool.QueryRow(ctx,
		`SELECT credit_balance FROM tenants WHERE id = $1`, tenantID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, scope tenant.Scope, filter PageFilter) ([]*models.LedgerEntry, int, error) {
	tenantID, err := scopeID(scope)
	if err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, amount, reason, job_id, description, created_at
		 FROM ledger_entries WHERE tenant_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		tenantID, filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Amount, &e.Reason, &e.JobID,
			&e.Description, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// --- System (provider callbacks, reaper) ---

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID uuid.UUID, resultRef string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $2, result_ref = $3, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING `+jobColumns,
		jobID, models.JobStatusSucceeded, resultRef, models.JobStatusProcessing))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return j, nil
}

// FailJobWithRefund applies the failed status and the compensating refund as
// one transaction. The status CAS is the exactly-once guard: if the job
// already left processing, no refund row is written.
func (s *PostgresStore) FailJobWithRefund(ctx context.Context, jobID uuid.UUID, errMsg string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin fail: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING `+jobColumns,
		jobID, models.JobStatusFailed, errMsg, models.JobStatusProcessing))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}

	// The ledger is the source of truth for whether a charge happened: only
	// refund if a debit row exists for this job.
	var debited bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE job_id = $1 AND reason = 'debit')`,
		jobID).Scan(&debited); err != nil {
		return nil, fmt.Errorf("check debit entry: %w", err)
	}
	if !debited {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit fail: %w", err)
		}
		return j, nil
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`SELECT credit_balance FROM tenants WHERE id = $1 FOR UPDATE`, j.TenantID,
	).Scan(&balance); err != nil {
		return nil, fmt.Errorf("lock tenant balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tenants SET credit_balance = credit_balance + $2, updated_at = NOW() WHERE id = $1`,
		j.TenantID, j.Cost); err != nil {
		return nil, fmt.Errorf("refund balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, tenant_id, amount, reason, job_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), j.TenantID, j.Cost, models.LedgerReasonRefund, jobID); err != nil {
		return nil, fmt.Errorf("append refund entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit fail: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status = $1 AND started_at < $2 ORDER BY started_at ASC LIMIT $3`,
		models.JobStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stuck job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
