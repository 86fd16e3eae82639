package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
)

//go:embed schema.sql
var schemaSQL string

// pgUniqueViolation is the SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

const integrationColumns = `id, owner, base_url, client_secret, access_token, refresh_token, access_token_expires_at`

// PostgresStore implements the Store interface on PostgreSQL via pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables when they do not exist yet
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// CheckHealth verifies database connectivity
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return doorlock.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanIntegration(row pgx.Row) (*doorlock.Integration, error) {
	var rec integrationRecord
	err := row.Scan(&rec.ID, &rec.Owner, &rec.BaseURL, &rec.ClientSecret,
		&rec.AccessToken, &rec.RefreshToken, &rec.AccessTokenExpiresAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return rec.integration(), nil
}

// GetIntegration loads an integration by ID
func (s *PostgresStore) GetIntegration(ctx context.Context, id string) (*doorlock.Integration, error) {
	integ, err := scanIntegration(s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM doorlock_integrations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting integration: %w", err)
	}
	return integ, nil
}

// GetIntegrationByBaseURL loads an integration by hub URL
func (s *PostgresStore) GetIntegrationByBaseURL(ctx context.Context, baseURL string) (*doorlock.Integration, error) {
	integ, err := scanIntegration(s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM doorlock_integrations WHERE base_url = $1`,
		doorlock.NormalizeBaseURL(baseURL)))
	if err != nil {
		return nil, fmt.Errorf("getting integration by url: %w", err)
	}
	return integ, nil
}

// FindOrCreateIntegration relies on the unique base_url constraint to settle concurrent creators
func (s *PostgresStore) FindOrCreateIntegration(ctx context.Context, candidate *doorlock.Integration) (*doorlock.Integration, bool, error) {
	rec := toIntegrationRecord(candidate)
	rec.BaseURL = doorlock.NormalizeBaseURL(rec.BaseURL)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	integ, err := scanIntegration(s.pool.QueryRow(ctx, `
		INSERT INTO doorlock_integrations (`+integrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (base_url) DO NOTHING
		RETURNING `+integrationColumns,
		rec.ID, rec.Owner, rec.BaseURL, rec.ClientSecret, rec.AccessToken, rec.RefreshToken, rec.AccessTokenExpiresAt))
	if err == nil {
		return integ, true, nil
	}
	if !errors.Is(err, doorlock.ErrNotFound) {
		return nil, false, fmt.Errorf("creating integration: %w", err)
	}

	existing, err := s.GetIntegrationByBaseURL(ctx, rec.BaseURL)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// SaveIntegration upserts an integration; owner and base_url are never rewritten
func (s *PostgresStore) SaveIntegration(ctx context.Context, integration *doorlock.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}
	rec := toIntegrationRecord(integration)
	rec.BaseURL = doorlock.NormalizeBaseURL(rec.BaseURL)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO doorlock_integrations (`+integrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			client_secret = EXCLUDED.client_secret,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_token_expires_at = EXCLUDED.access_token_expires_at`,
		rec.ID, rec.Owner, rec.BaseURL, rec.ClientSecret, rec.AccessToken, rec.RefreshToken, rec.AccessTokenExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errDuplicateBaseURL(rec.BaseURL)
		}
		return fmt.Errorf("saving integration: %w", err)
	}
	return nil
}

func scanLock(row pgx.Row) (*doorlock.Lock, error) {
	var lock doorlock.Lock
	if err := row.Scan(&lock.ID, &lock.IdentificationToken, &lock.IntegrationID, &lock.EntityID); err != nil {
		return nil, mapNoRows(err)
	}
	return &lock, nil
}

// GetLock loads a lock by ID
func (s *PostgresStore) GetLock(ctx context.Context, id string) (*doorlock.Lock, error) {
	lock, err := scanLock(s.pool.QueryRow(ctx,
		`SELECT id, identification_token, integration_id, entity_id FROM doorlock_locks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting lock: %w", err)
	}
	return lock, nil
}

// GetLockByIdentificationToken loads a lock by identification token
func (s *PostgresStore) GetLockByIdentificationToken(ctx context.Context, token string) (*doorlock.Lock, error) {
	lock, err := scanLock(s.pool.QueryRow(ctx,
		`SELECT id, identification_token, integration_id, entity_id FROM doorlock_locks WHERE identification_token = $1`, token))
	if err != nil {
		return nil, fmt.Errorf("getting lock by token: %w", err)
	}
	return lock, nil
}

// SaveLock creates or replaces a lock
func (s *PostgresStore) SaveLock(ctx context.Context, lock *doorlock.Lock) error {
	if lock.ID == "" {
		lock.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doorlock_locks (id, identification_token, integration_id, entity_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			identification_token = EXCLUDED.identification_token,
			integration_id = EXCLUDED.integration_id,
			entity_id = EXCLUDED.entity_id`,
		lock.ID, lock.IdentificationToken, lock.IntegrationID, lock.EntityID)
	if err != nil {
		if isUniqueViolation(err) {
			return errDuplicateToken("lock identification")
		}
		return fmt.Errorf("saving lock: %w", err)
	}
	return nil
}

func scanGrant(row pgx.Row) (*doorlock.Grant, error) {
	var rec grantRecord
	if err := row.Scan(&rec.ID, &rec.Token, &rec.LockID, &rec.NotBefore, &rec.NotAfter, &rec.UsageLimit); err != nil {
		return nil, mapNoRows(err)
	}
	return rec.grant(), nil
}

// GetGrant loads a grant by ID
func (s *PostgresStore) GetGrant(ctx context.Context, id string) (*doorlock.Grant, error) {
	grant, err := scanGrant(s.pool.QueryRow(ctx,
		`SELECT id, token, lock_id, not_before, not_after, usage_limit FROM doorlock_grants WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("getting grant: %w", err)
	}
	return grant, nil
}

// GetGrantByToken loads a grant by its bearer token
func (s *PostgresStore) GetGrantByToken(ctx context.Context, token string) (*doorlock.Grant, error) {
	grant, err := scanGrant(s.pool.QueryRow(ctx,
		`SELECT id, token, lock_id, not_before, not_after, usage_limit FROM doorlock_grants WHERE token = $1`, token))
	if err != nil {
		return nil, fmt.Errorf("getting grant by token: %w", err)
	}
	return grant, nil
}

// SaveGrant creates or replaces a grant
func (s *PostgresStore) SaveGrant(ctx context.Context, grant *doorlock.Grant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doorlock_grants (id, token, lock_id, not_before, not_after, usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			lock_id = EXCLUDED.lock_id,
			not_before = EXCLUDED.not_before,
			not_after = EXCLUDED.not_after,
			usage_limit = EXCLUDED.usage_limit`,
		grant.ID, grant.Token, grant.LockID, grant.NotBefore, grant.NotAfter, grant.UsageLimit)
	if err != nil {
		if isUniqueViolation(err) {
			return errDuplicateToken("grant")
		}
		return fmt.Errorf("saving grant: %w", err)
	}
	return nil
}

// ConsumeGrantUse decrements in a single conditional UPDATE, so the row lock
// serializes concurrent redemptions of the same grant
func (s *PostgresStore) ConsumeGrantUse(ctx context.Context, grantID string) (int, error) {
	var remaining int
	err := s.pool.QueryRow(ctx, `
		UPDATE doorlock_grants SET usage_limit = usage_limit - 1
		WHERE id = $1 AND usage_limit > 0
		RETURNING usage_limit`, grantID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("consuming grant use: %w", err)
	}

	// nothing updated: the grant is missing, unlimited or exhausted
	grant, err := s.GetGrant(ctx, grantID)
	if err != nil {
		return 0, err
	}
	if grant.Unlimited() {
		return doorlock.UnlimitedUses, nil
	}
	return 0, fmt.Errorf("consuming grant use: %w", ErrExhausted)
}
