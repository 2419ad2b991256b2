package credentials

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/codemesh/codemesh/internal/storage"
)

func TestCredentialStringNeverLeaksSecret(t *testing.T) {
	cred := APIKey("sk-super-secret-value")
	s := fmt.Sprintf("%v", cred)
	if strings.Contains(s, "super-secret") {
		t.Fatalf("String() leaked secret: %s", s)
	}
	s2 := fmt.Sprintf("%#v", cred)
	if strings.Contains(s2, "super-secret") {
		t.Fatalf("GoString() leaked secret: %s", s2)
	}
}

func TestCredentialExpired(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	cred := OAuthCredential("access", "refresh", &past)
	if !cred.Expired(time.Now()) {
		t.Fatal("expected expired credential")
	}
	if !cred.Refreshable() {
		t.Fatal("expected refreshable credential")
	}

	apiKey := APIKey("x")
	if apiKey.Expired(time.Now()) {
		t.Fatal("api keys are never expired")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := New(storage.NewMemoryBackend())
	ctx := context.Background()

	if store.Has(ctx, "anthropic") {
		t.Fatal("expected no credential initially")
	}

	want := APIKey("sk-ant-abc123")
	if err := store.Set(ctx, "anthropic", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(ctx, "anthropic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if err := store.Remove(ctx, "anthropic"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Has(ctx, "anthropic") {
		t.Fatal("expected credential removed")
	}
}
