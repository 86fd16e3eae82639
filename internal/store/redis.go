package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
)

const (
	integrationPrefix    = "integration:"
	integrationURLPrefix = "integration_url:"
	lockPrefix           = "lock:"
	lockTokenPrefix      = "lock_ident:"
	grantPrefix          = "grant:"
	grantTokenPrefix     = "grant_token:"
	maxTxRetries         = 8 // WATCH retries before reporting ErrConflict
)

// RedisStore implements the Store interface using Redis. Records are JSON
// values; unique fields are separate index keys pointing at record IDs.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getJSON decodes the value at key into dest, mapping a missing key to doorlock.ErrNotFound
func getJSON(ctx context.Context, g getter, key string, dest any) error {
	data, err := g.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return doorlock.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// getIndex resolves an index key to the record ID it references
func getIndex(ctx context.Context, g getter, key string) (string, error) {
	id, err := g.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", doorlock.ErrNotFound
		}
		return "", err
	}
	return id, nil
}

// transact runs fn inside WATCH on keys, retrying when a watched key changes
func (s *RedisStore) transact(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// GetIntegration loads an integration by ID
func (s *RedisStore) GetIntegration(ctx context.Context, id string) (*doorlock.Integration, error) {
	var rec integrationRecord
	if err := getJSON(ctx, s.client, integrationPrefix+id, &rec); err != nil {
		return nil, fmt.Errorf("getting integration: %w", err)
	}
	return rec.integration(), nil
}

// GetIntegrationByBaseURL loads an integration by its hub URL
func (s *RedisStore) GetIntegrationByBaseURL(ctx context.Context, baseURL string) (*doorlock.Integration, error) {
	id, err := getIndex(ctx, s.client, integrationURLPrefix+doorlock.NormalizeBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("getting integration url reference: %w", err)
	}
	return s.GetIntegration(ctx, id)
}

// FindOrCreateIntegration returns the integration for candidate.BaseURL, creating it when absent.
// The record is written before the index is claimed so the index never dangles.
func (s *RedisStore) FindOrCreateIntegration(ctx context.Context, candidate *doorlock.Integration) (*doorlock.Integration, bool, error) {
	baseURL := doorlock.NormalizeBaseURL(candidate.BaseURL)

	existing, err := s.GetIntegrationByBaseURL(ctx, baseURL)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, doorlock.ErrNotFound) {
		return nil, false, err
	}

	rec := toIntegrationRecord(candidate)
	rec.BaseURL = baseURL
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling integration: %w", err)
	}

	if err := s.client.Set(ctx, integrationPrefix+rec.ID, data, 0).Err(); err != nil {
		return nil, false, fmt.Errorf("saving integration: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, integrationURLPrefix+baseURL, rec.ID, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claiming integration url: %w", err)
	}
	if !claimed {
		// lost the race; drop our copy and return the winner
		if err := s.client.Del(ctx, integrationPrefix+rec.ID).Err(); err != nil {
			return nil, false, fmt.Errorf("removing duplicate integration: %w", err)
		}
		existing, err := s.GetIntegrationByBaseURL(ctx, baseURL)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return rec.integration(), true, nil
}

// SaveIntegration atomically replaces the mutable fields of an integration
func (s *RedisStore) SaveIntegration(ctx context.Context, integration *doorlock.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.NewString()
	}
	key := integrationPrefix + integration.ID
	urlKey := integrationURLPrefix + doorlock.NormalizeBaseURL(integration.BaseURL)

	err := s.transact(ctx, func(tx *redis.Tx) error {
		rec := toIntegrationRecord(integration)
		created := false

		var existing integrationRecord
		err := getJSON(ctx, tx, key, &existing)
		switch {
		case err == nil:
			rec.Owner = existing.Owner
			rec.BaseURL = existing.BaseURL
		case errors.Is(err, doorlock.ErrNotFound):
			rec.BaseURL = doorlock.NormalizeBaseURL(rec.BaseURL)
			if _, err := getIndex(ctx, tx, urlKey); err == nil {
				return errDuplicateBaseURL(rec.BaseURL)
			} else if !errors.Is(err, doorlock.ErrNotFound) {
				return err
			}
			created = true
		default:
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling integration: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if created {
				pipe.Set(ctx, urlKey, rec.ID, 0)
			}
			return nil
		})
		return err
	}, key, urlKey)
	if err != nil {
		return fmt.Errorf("saving integration: %w", err)
	}
	return nil
}

// GetLock loads a lock by ID
func (s *RedisStore) GetLock(ctx context.Context, id string) (*doorlock.Lock, error) {
	var lock doorlock.Lock
	if err := getJSON(ctx, s.client, lockPrefix+id, &lock); err != nil {
		return nil, fmt.Errorf("getting lock: %w", err)
	}
	return &lock, nil
}

// GetLockByIdentificationToken loads a lock by its identification token
func (s *RedisStore) GetLockByIdentificationToken(ctx context.Context, token string) (*doorlock.Lock, error) {
	id, err := getIndex(ctx, s.client, lockTokenPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("getting lock token reference: %w", err)
	}
	return s.GetLock(ctx, id)
}

// SaveLock creates or replaces a lock and its identification token index
func (s *RedisStore) SaveLock(ctx context.Context, lock *doorlock.Lock) error {
	if lock.ID == "" {
		lock.ID = uuid.NewString()
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshaling lock: %w", err)
	}

	key := lockPrefix + lock.ID
	tokenKey := lockTokenPrefix + lock.IdentificationToken
	err = s.saveIndexed(ctx, key, tokenKey, lock.ID, data, "lock identification", func(tx *redis.Tx) (string, error) {
		var prev doorlock.Lock
		if err := getJSON(ctx, tx, key, &prev); err != nil {
			return "", err
		}
		return lockTokenPrefix + prev.IdentificationToken, nil
	})
	if err != nil {
		return fmt.Errorf("saving lock: %w", err)
	}
	return nil
}

// GetGrant loads a grant by ID
func (s *RedisStore) GetGrant(ctx context.Context, id string) (*doorlock.Grant, error) {
	var rec grantRecord
	if err := getJSON(ctx, s.client, grantPrefix+id, &rec); err != nil {
		return nil, fmt.Errorf("getting grant: %w", err)
	}
	return rec.grant(), nil
}

// GetGrantByToken loads a grant by its bearer token
func (s *RedisStore) GetGrantByToken(ctx context.Context, token string) (*doorlock.Grant, error) {
	id, err := getIndex(ctx, s.client, grantTokenPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("getting grant token reference: %w", err)
	}
	return s.GetGrant(ctx, id)
}

// SaveGrant creates or replaces a grant and its token index
func (s *RedisStore) SaveGrant(ctx context.Context, grant *doorlock.Grant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	data, err := json.Marshal(toGrantRecord(grant))
	if err != nil {
		return fmt.Errorf("marshaling grant: %w", err)
	}

	key := grantPrefix + grant.ID
	tokenKey := grantTokenPrefix + grant.Token
	err = s.saveIndexed(ctx, key, tokenKey, grant.ID, data, "grant", func(tx *redis.Tx) (string, error) {
		var prev grantRecord
		if err := getJSON(ctx, tx, key, &prev); err != nil {
			return "", err
		}
		return grantTokenPrefix + prev.Token, nil
	})
	if err != nil {
		return fmt.Errorf("saving grant: %w", err)
	}
	return nil
}

// saveIndexed writes a record and its unique index in one transaction.
// previousIndex resolves the index key of the currently stored version, if any.
func (s *RedisStore) saveIndexed(ctx context.Context, key, indexKey, id string, data []byte, kind string, previousIndex func(*redis.Tx) (string, error)) error {
	return s.transact(ctx, func(tx *redis.Tx) error {
		owner, err := getIndex(ctx, tx, indexKey)
		switch {
		case err == nil && owner != id:
			return errDuplicateToken(kind)
		case err != nil && !errors.Is(err, doorlock.ErrNotFound):
			return err
		}

		staleIndex, err := previousIndex(tx)
		if err != nil && !errors.Is(err, doorlock.ErrNotFound) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if staleIndex != "" && staleIndex != indexKey {
				pipe.Del(ctx, staleIndex)
			}
			pipe.Set(ctx, key, data, 0)
			pipe.Set(ctx, indexKey, id, 0)
			return nil
		})
		return err
	}, key, indexKey)
}

// ConsumeGrantUse decrements the usage limit with WATCH so concurrent
// redemptions cannot spend the same use twice
func (s *RedisStore) ConsumeGrantUse(ctx context.Context, grantID string) (int, error) {
	key := grantPrefix + grantID
	remaining := 0

	err := s.transact(ctx, func(tx *redis.Tx) error {
		var rec grantRecord
		if err := getJSON(ctx, tx, key, &rec); err != nil {
			return err
		}
		if rec.UsageLimit == doorlock.UnlimitedUses {
			remaining = doorlock.UnlimitedUses
			return nil
		}
		if rec.UsageLimit <= 0 {
			return ErrExhausted
		}

		rec.UsageLimit--
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling grant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			remaining = rec.UsageLimit
		}
		return err
	}, key)
	if err != nil {
		return 0, fmt.Errorf("consuming grant use: %w", err)
	}
	return remaining, nil
}
