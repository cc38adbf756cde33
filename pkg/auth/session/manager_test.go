package session

import (
	"context"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

type fakeStore struct {
	entries map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]string{}}
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.entries[key] = value.(string)
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	value, ok := f.entries[key]
	if !ok {
		return "", redislib.Nil
	}
	return value, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

type fakeKeyer struct{}

func (fakeKeyer) AccessSessionKey(accessID string) string {
	return "test:session:" + accessID
}

func newTestManager() (*Manager, *fakeStore) {
	store := newFakeStore()
	return &Manager{store: store, keyer: fakeKeyer{}, ttl: time.Hour}, store
}

func TestGenerateAndRotate(t *testing.T) {
	t.Parallel()

	manager, store := newTestManager()
	ctx := context.Background()
	accessID := NewAccessID()

	token, err := manager.Generate(ctx, accessID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a refresh token")
	}

	newAccessID, newToken, err := manager.Rotate(ctx, accessID, token)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if newAccessID == accessID {
		t.Fatal("expected a new access id")
	}
	if newToken == token {
		t.Fatal("expected a new refresh token")
	}

	// The old session must be gone.
	if _, stillThere := store.entries["test:session:"+accessID]; stillThere {
		t.Fatal("expected old session to be deleted")
	}
	if _, _, err := manager.Rotate(ctx, accessID, token); err != ErrInvalidRefreshToken {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRotateRejectsWrongToken(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager()
	ctx := context.Background()
	accessID := NewAccessID()

	if _, err := manager.Generate(ctx, accessID); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, _, err := manager.Rotate(ctx, accessID, "forged-token"); err != ErrInvalidRefreshToken {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestHasSessionAndRevoke(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager()
	ctx := context.Background()
	accessID := NewAccessID()

	ok, err := manager.HasSession(ctx, accessID)
	if err != nil {
		t.Fatalf("HasSession() error = %v", err)
	}
	if ok {
		t.Fatal("expected no session before generate")
	}

	if _, err := manager.Generate(ctx, accessID); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	ok, err = manager.HasSession(ctx, accessID)
	if err != nil {
		t.Fatalf("HasSession() error = %v", err)
	}
	if !ok {
		t.Fatal("expected an active session")
	}

	if err := manager.Revoke(ctx, accessID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	ok, err = manager.HasSession(ctx, accessID)
	if err != nil {
		t.Fatalf("HasSession() error = %v", err)
	}
	if ok {
		t.Fatal("expected session to be revoked")
	}
}
