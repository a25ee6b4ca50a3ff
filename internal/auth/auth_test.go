package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

func TestVerifyToken_Valid(t *testing.T) {
	token, err := SignToken(Identity{ID: "42", Username: "checo", Role: "moderator", Cooldown: 3 * time.Second}, "secret", time.Hour)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	id, err := NewJWTVerifier("secret").VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ID != "42" || id.Username != "checo" || id.Role != "moderator" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if id.Cooldown != 3*time.Second {
		t.Errorf("expected 3s cooldown, got %v", id.Cooldown)
	}
}

func TestVerifyToken_NumericID(t *testing.T) {
	claims := jwt.MapClaims{"id": 7, "role": "user", "cooldown": 10000, "exp": time.Now().Add(time.Hour).Unix()}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))

	id, err := NewJWTVerifier("secret").VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ID != "7" {
		t.Errorf("expected id 7, got %q", id.ID)
	}
	if id.Cooldown != 10*time.Second {
		t.Errorf("expected 10s cooldown, got %v", id.Cooldown)
	}
}

func TestVerifyToken_Rejects(t *testing.T) {
	good, _ := SignToken(Identity{ID: "1"}, "secret", time.Hour)
	expired, _ := SignToken(Identity{ID: "1"}, "secret", -time.Minute)
	noneToken, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		secret  string
		token   string
		wantErr error
	}{
		{name: "wrong secret", secret: "other", token: good, wantErr: ErrInvalidToken},
		{name: "expired", secret: "secret", token: expired, wantErr: ErrExpiredToken},
		{name: "alg none", secret: "secret", token: noneToken, wantErr: ErrInvalidToken},
		{name: "garbage", secret: "secret", token: "not.a.jwt", wantErr: ErrInvalidToken},
		{name: "no secret", secret: "", token: good, wantErr: ErrNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJWTVerifier(tt.secret).VerifyToken(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRedisCooldownStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisCooldownStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "42", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := store.Acquire(ctx, "42", 10*time.Second); ok {
		t.Error("expected second acquire to be refused during cooldown")
	}
	if ok, _ := store.Acquire(ctx, "43", 10*time.Second); !ok {
		t.Error("cooldown leaked to another identity")
	}

	mr.FastForward(11 * time.Second)
	if ok, _ := store.Acquire(ctx, "42", 10*time.Second); !ok {
		t.Error("expected cooldown to expire")
	}
	if ok, _ := store.Acquire(ctx, "42", 0); !ok {
		t.Error("zero cooldown should not block")
	}
}

func TestRedisCooldownStore_ConcurrentAcquireHasOneWinner(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisCooldownStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()
	assertSingleWinner(t, store)
}

func TestMemoryCooldownStore(t *testing.T) {
	now := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)
	store := NewMemoryCooldownStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := store.Acquire(ctx, "42", 5*time.Second); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := store.Acquire(ctx, "42", 5*time.Second); ok {
		t.Error("expected cooldown")
	}

	now = now.Add(5 * time.Second)
	if ok, _ := store.Acquire(ctx, "42", 5*time.Second); !ok {
		t.Error("expected cooldown to expire")
	}

	if ok, _ := store.Acquire(ctx, "7", 0); !ok {
		t.Error("zero cooldown should not block")
	}
	if _, held := store.expires["7"]; held {
		t.Error("zero cooldown should not be recorded")
	}
}

func TestMemoryCooldownStore_ConcurrentAcquireHasOneWinner(t *testing.T) {
	assertSingleWinner(t, NewMemoryCooldownStore())
}

func TestMemoryCooldownStore_SweepsIdleIdentities(t *testing.T) {
	now := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)
	store := NewMemoryCooldownStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if ok, _ := store.Acquire(ctx, id, 10*time.Second); !ok {
			t.Fatalf("acquire %s failed", id)
		}
	}

	now = now.Add(memorySweepInterval)
	if ok, _ := store.Acquire(ctx, "4", 10*time.Second); !ok {
		t.Fatal("acquire 4 failed")
	}

	if len(store.expires) != 1 {
		t.Fatalf("expected only the fresh entry to remain, got %d: %v", len(store.expires), store.expires)
	}
	if _, ok := store.expires["4"]; !ok {
		t.Error("fresh entry was swept")
	}
}

func assertSingleWinner(t *testing.T, store CooldownStore) {
	t.Helper()
	const racers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := store.Acquire(context.Background(), "42", time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("expected exactly one winner, got %d", got)
	}
}
