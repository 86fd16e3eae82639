package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
)

// MemoryStore keeps records in process memory. It backs development runs and tests.
type MemoryStore struct {
	mu           sync.Mutex
	integrations map[string]doorlock.Integration
	integByURL   map[string]string
	locks        map[string]doorlock.Lock
	lockByToken  map[string]string
	grants       map[string]doorlock.Grant
	grantByToken map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		integrations: make(map[string]doorlock.Integration),
		integByURL:   make(map[string]string),
		locks:        make(map[string]doorlock.Lock),
		lockByToken:  make(map[string]string),
		grants:       make(map[string]doorlock.Grant),
		grantByToken: make(map[string]string),
	}
}

// GetIntegration loads an integration by ID
func (s *MemoryStore) GetIntegration(ctx context.Context, id string) (*doorlock.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	integ, ok := s.integrations[id]
	if !ok {
		return nil, doorlock.ErrNotFound
	}
	return &integ, nil
}

// GetIntegrationByBaseURL loads an integration by hub URL
func (s *MemoryStore) GetIntegrationByBaseURL(ctx context.Context, baseURL string) (*doorlock.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.integByURL[doorlock.NormalizeBaseURL(baseURL)]
	if !ok {
		return nil, doorlock.ErrNotFound
	}
	integ := s.integrations[id]
	return &integ, nil
}

// FindOrCreateIntegration returns the existing integration for the base URL or stores candidate
func (s *MemoryStore) FindOrCreateIntegration(ctx context.Context, candidate *doorlock.Integration) (*doorlock.Integration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseURL := doorlock.NormalizeBaseURL(candidate.BaseURL)
	if id, ok := s.integByURL[baseURL]; ok {
		integ := s.integrations[id]
		return &integ, false, nil
	}

	integ := *candidate
	integ.BaseURL = baseURL
	if integ.ID == "" {
		integ.ID = uuid.NewString()
	}
	s.integrations[integ.ID] = integ
	s.integByURL[baseURL] = integ.ID
	return &integ, true, nil
}

// SaveIntegration replaces the mutable fields of an integration
func (s *MemoryStore) SaveIntegration(ctx context.Context, integration *doorlock.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *integration
	if existing, ok := s.integrations[integration.ID]; ok {
		next.Owner = existing.Owner
		next.BaseURL = existing.BaseURL
	} else {
		if next.ID == "" {
			next.ID = uuid.NewString()
			integration.ID = next.ID
		}
		next.BaseURL = doorlock.NormalizeBaseURL(next.BaseURL)
		if _, taken := s.integByURL[next.BaseURL]; taken {
			return errDuplicateBaseURL(next.BaseURL)
		}
		s.integByURL[next.BaseURL] = next.ID
	}
	s.integrations[next.ID] = next
	return nil
}

// GetLock loads a lock by ID
func (s *MemoryStore) GetLock(ctx context.Context, id string) (*doorlock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		return nil, doorlock.ErrNotFound
	}
	return &lock, nil
}

// GetLockByIdentificationToken loads a lock by identification token
func (s *MemoryStore) GetLockByIdentificationToken(ctx context.Context, token string) (*doorlock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.lockByToken[token]
	if !ok {
		return nil, doorlock.ErrNotFound
	}
	lock := s.locks[id]
	return &lock, nil
}

// SaveLock creates or replaces a lock
func (s *MemoryStore) SaveLock(ctx context.Context, lock *doorlock.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock.ID == "" {
		lock.ID = uuid.NewString()
	}
	if owner, ok := s.lockByToken[lock.IdentificationToken]; ok && owner != lock.ID {
		return errDuplicateToken("lock identification")
	}
	if prev, ok := s.locks[lock.ID]; ok {
		delete(s.lockByToken, prev.IdentificationToken)
	}
	s.locks[lock.ID] = *lock
	s.lockByToken[lock.IdentificationToken] = lock.ID
	return nil
}

// GetGrant loads a grant by ID
func (s *MemoryStore) GetGrant(ctx context.Context, id string) (*doorlock.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[id]
	if !ok {
		return nil, doorlock.ErrNotFound
	}
	return &grant, nil
}

// GetGrantByToken loads a grant by its bearer token
func (s *MemoryStore) GetGrantByToken(ctx context.Context, token string) (*doorlock.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.grantByToken[token]
	if !ok {
		return nil, doorlock.ErrNotFound
	}
	grant := s.grants[id]
	return &grant, nil
}

// SaveGrant creates or replaces a grant
func (s *MemoryStore) SaveGrant(ctx context.Context, grant *doorlock.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if owner, ok := s.grantByToken[grant.Token]; ok && owner != grant.ID {
		return errDuplicateToken("grant")
	}
	if prev, ok := s.grants[grant.ID]; ok {
		delete(s.grantByToken, prev.Token)
	}
	s.grants[grant.ID] = *grant
	s.grantByToken[grant.Token] = grant.ID
	return nil
}

// ConsumeGrantUse decrements the grant usage limit while it is above zero
func (s *MemoryStore) ConsumeGrantUse(ctx context.Context, grantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return 0, doorlock.ErrNotFound
	}
	if grant.Unlimited() {
		return doorlock.UnlimitedUses, nil
	}
	if grant.UsageLimit <= 0 {
		return 0, ErrExhausted
	}
	grant.UsageLimit--
	s.grants[grantID] = grant
	return grant.UsageLimit, nil
}

// CheckHealth always succeeds for the in-memory store
func (s *MemoryStore) CheckHealth(ctx context.Context) error {
	return nil
}
