package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parsing REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	runStoreSuite(t, func(t *testing.T) Store { return NewRedisStore(client) })
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	runStoreSuite(t, func(t *testing.T) Store { return s })
}

// runStoreSuite exercises the behaviour every backend must share. Records use
// unique values so the suite can run against shared databases.
func runStoreSuite(t *testing.T, newStore func(*testing.T) Store) {
	ctx := context.Background()

	t.Run("find or create integration is idempotent", func(t *testing.T) {
		s := newStore(t)
		baseURL := "https://" + uuid.NewString() + ".example.com"

		first, created, err := s.FindOrCreateIntegration(ctx, &doorlock.Integration{BaseURL: baseURL + "/", Owner: "alice"})
		if err != nil {
			t.Fatalf("FindOrCreateIntegration() error = %v", err)
		}
		if !created {
			t.Error("first call should create")
		}
		if first.BaseURL != baseURL {
			t.Errorf("base url = %q, want normalized %q", first.BaseURL, baseURL)
		}

		second, created, err := s.FindOrCreateIntegration(ctx, &doorlock.Integration{BaseURL: baseURL, Owner: "mallory"})
		if err != nil {
			t.Fatalf("FindOrCreateIntegration() error = %v", err)
		}
		if created {
			t.Error("second call should not create")
		}
		if second.ID != first.ID {
			t.Errorf("second id = %q, want %q", second.ID, first.ID)
		}
		if second.Owner != "alice" {
			t.Errorf("owner = %q, want alice", second.Owner)
		}
	})

	t.Run("concurrent find or create yields one record", func(t *testing.T) {
		s := newStore(t)
		baseURL := "https://" + uuid.NewString() + ".example.com"

		var wg sync.WaitGroup
		ids := make([]string, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				integ, _, err := s.FindOrCreateIntegration(ctx, &doorlock.Integration{BaseURL: baseURL, Owner: "alice"})
				if err != nil {
					t.Errorf("FindOrCreateIntegration() error = %v", err)
					return
				}
				ids[i] = integ.ID
			}(i)
		}
		wg.Wait()

		for _, id := range ids[1:] {
			if id != ids[0] {
				t.Fatalf("got distinct ids %v", ids)
			}
		}
	})

	t.Run("save integration persists tokens and keeps owner", func(t *testing.T) {
		s := newStore(t)
		integ, _, err := s.FindOrCreateIntegration(ctx, &doorlock.Integration{
			BaseURL:      "https://" + uuid.NewString() + ".example.com",
			Owner:        "alice",
			ClientSecret: doorlock.NewSecret("cs"),
		})
		if err != nil {
			t.Fatalf("FindOrCreateIntegration() error = %v", err)
		}

		expiry := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		update := *integ
		update.Owner = "mallory"
		update.AccessToken = doorlock.NewSecret("a1")
		update.RefreshToken = doorlock.NewSecret("r1")
		update.AccessTokenExpiresAt = expiry
		if err := s.SaveIntegration(ctx, &update); err != nil {
			t.Fatalf("SaveIntegration() error = %v", err)
		}

		got, err := s.GetIntegration(ctx, integ.ID)
		if err != nil {
			t.Fatalf("GetIntegration() error = %v", err)
		}
		want := doorlock.Integration{
			ID:                   integ.ID,
			Owner:                "alice",
			BaseURL:              integ.BaseURL,
			ClientSecret:         doorlock.NewSecret("cs"),
			AccessToken:          doorlock.NewSecret("a1"),
			RefreshToken:         doorlock.NewSecret("r1"),
			AccessTokenExpiresAt: expiry,
		}
		if diff := cmp.Diff(want, *got, timeEqual); diff != "" {
			t.Errorf("integration mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing records", func(t *testing.T) {
		s := newStore(t)
		missing := uuid.NewString()

		if _, err := s.GetIntegration(ctx, missing); !errors.Is(err, doorlock.ErrNotFound) {
			t.Errorf("GetIntegration() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetIntegrationByBaseURL(ctx, "https://"+missing); !errors.Is(err, doorlock.ErrNotFound) {
			t.Errorf("GetIntegrationByBaseURL() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetLockByIdentificationToken(ctx, missing); !errors.Is(err, doorlock.ErrNotFound) {
			t.Errorf("GetLockByIdentificationToken() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetGrantByToken(ctx, missing); !errors.Is(err, doorlock.ErrNotFound) {
			t.Errorf("GetGrantByToken() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("locks and grants by token", func(t *testing.T) {
		s := newStore(t)
		lock, grant := seedGrant(t, s, 3)

		gotLock, err := s.GetLockByIdentificationToken(ctx, lock.IdentificationToken)
		if err != nil {
			t.Fatalf("GetLockByIdentificationToken() error = %v", err)
		}
		if diff := cmp.Diff(*lock, *gotLock); diff != "" {
			t.Errorf("lock mismatch (-want +got):\n%s", diff)
		}

		gotGrant, err := s.GetGrantByToken(ctx, grant.Token)
		if err != nil {
			t.Fatalf("GetGrantByToken() error = %v", err)
		}
		if diff := cmp.Diff(*grant, *gotGrant, timeEqual); diff != "" {
			t.Errorf("grant mismatch (-want +got):\n%s", diff)
		}

		// rotating the token frees the old one
		oldToken := grant.Token
		grant.Token = uuid.NewString()
		if err := s.SaveGrant(ctx, grant); err != nil {
			t.Fatalf("SaveGrant() error = %v", err)
		}
		if _, err := s.GetGrantByToken(ctx, oldToken); !errors.Is(err, doorlock.ErrNotFound) {
			t.Errorf("old token lookup error = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate grant token rejected", func(t *testing.T) {
		s := newStore(t)
		_, grant := seedGrant(t, s, 1)

		dup := *grant
		dup.ID = uuid.NewString()
		if err := s.SaveGrant(ctx, &dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("SaveGrant() error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("consume grant use until exhausted", func(t *testing.T) {
		s := newStore(t)
		_, grant := seedGrant(t, s, 2)

		for _, want := range []int{1, 0} {
			got, err := s.ConsumeGrantUse(ctx, grant.ID)
			if err != nil {
				t.Fatalf("ConsumeGrantUse() error = %v", err)
			}
			if got != want {
				t.Errorf("remaining = %d, want %d", got, want)
			}
		}
		if _, err := s.ConsumeGrantUse(ctx, grant.ID); !errors.Is(err, ErrExhausted) {
			t.Errorf("ConsumeGrantUse() error = %v, want ErrExhausted", err)
		}

		stored, err := s.GetGrant(ctx, grant.ID)
		if err != nil {
			t.Fatalf("GetGrant() error = %v", err)
		}
		if stored.UsageLimit != 0 {
			t.Errorf("stored usage limit = %d, want 0", stored.UsageLimit)
		}
	})

	t.Run("unlimited grant is never decremented", func(t *testing.T) {
		s := newStore(t)
		_, grant := seedGrant(t, s, doorlock.UnlimitedUses)

		for i := 0; i < 5; i++ {
			got, err := s.ConsumeGrantUse(ctx, grant.ID)
			if err != nil {
				t.Fatalf("ConsumeGrantUse() error = %v", err)
			}
			if got != doorlock.UnlimitedUses {
				t.Errorf("remaining = %d, want unlimited", got)
			}
		}
	})

	t.Run("concurrent consumption never overspends", func(t *testing.T) {
		s := newStore(t)
		const limit = 5
		_, grant := seedGrant(t, s, limit)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 4*limit; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ConsumeGrantUse(ctx, grant.ID)
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				if !errors.Is(err, ErrExhausted) && !errors.Is(err, ErrConflict) {
					t.Errorf("ConsumeGrantUse() unexpected error = %v", err)
				}
			}()
		}
		wg.Wait()

		if successes > limit {
			t.Errorf("successes = %d, exceeds limit %d", successes, limit)
		}
		stored, err := s.GetGrant(ctx, grant.ID)
		if err != nil {
			t.Fatalf("GetGrant() error = %v", err)
		}
		if stored.UsageLimit != limit-successes {
			t.Errorf("stored usage limit = %d, want %d", stored.UsageLimit, limit-successes)
		}
	})

	t.Run("health", func(t *testing.T) {
		if err := newStore(t).CheckHealth(ctx); err != nil {
			t.Errorf("CheckHealth() error = %v", err)
		}
	})
}

var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func seedGrant(t *testing.T, s Store, usageLimit int) (*doorlock.Lock, *doorlock.Grant) {
	t.Helper()
	ctx := context.Background()

	integ, _, err := s.FindOrCreateIntegration(ctx, &doorlock.Integration{
		BaseURL: "https://" + uuid.NewString() + ".example.com",
		Owner:   "alice",
	})
	if err != nil {
		t.Fatalf("seeding integration: %v", err)
	}

	lock := &doorlock.Lock{
		ID:                  uuid.NewString(),
		IdentificationToken: uuid.NewString(),
		IntegrationID:       integ.ID,
		EntityID:            "lock.front_door",
	}
	if err := s.SaveLock(ctx, lock); err != nil {
		t.Fatalf("seeding lock: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	grant := &doorlock.Grant{
		ID:         uuid.NewString(),
		Token:      uuid.NewString(),
		LockID:     lock.ID,
		NotBefore:  now.Add(-time.Hour),
		NotAfter:   now.Add(time.Hour),
		UsageLimit: usageLimit,
	}
	if err := s.SaveGrant(ctx, grant); err != nil {
		t.Fatalf("seeding grant: %v", err)
	}
	return lock, grant
}
