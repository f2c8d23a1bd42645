package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/goop/pkg/adapters/memory"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/persistence/middleware"
	"github.com/aretw0/goop/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func secretCheckpoint(id, secret string) *domain.Checkpoint {
	return &domain.Checkpoint{
		SessionID: id,
		State:     domain.NewConversationState("my password is "+secret, false, nil),
		Next:      domain.NodeReasoning,
		Status:    domain.StatusActive,
		Version:   3,
	}
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunCheckpointStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := memory.NewStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	sessionID := "test-session"

	if err := secureStore.Save(ctx, sessionID, secretCheckpoint(sessionID, "my-secret-sauce")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The underlying store only sees the envelope.
	stored, err := underlyingStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if len(stored.State.History) != 1 || stored.State.History[0].Role != middleware.EnvelopeRole {
		t.Fatalf("Expected a single envelope entry, got %+v", stored.State.History)
	}
	if strings.Contains(stored.State.History[0].Text, "my-secret-sauce") {
		t.Fatal("Expected secret to be hidden")
	}
	if stored.Next != domain.NodeReasoning || stored.Version != 3 {
		t.Errorf("Expected routing metadata to stay readable, got next=%q version=%d", stored.Next, stored.Version)
	}

	loaded, err := secureStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if got := loaded.State.History[0].Text; got != "my password is my-secret-sauce" {
		t.Errorf("Expected decrypted history, got %q", got)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	sessionID := "rotation-session"

	if err := secureStoreOld.Save(ctx, sessionID, secretCheckpoint(sessionID, "old")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if loaded.State.History[0].Text != "my password is old" {
		t.Errorf("Decryption with fallback key failed")
	}

	// Saving again re-encrypts with the new key.
	loaded.State.History[0].Text = "my password is new"
	if err := secureStoreNew.Save(ctx, sessionID, loaded); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	if _, err = secureStoreOld.Load(ctx, sessionID); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RefusesPlainCheckpoints(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	if err := underlyingStore.Save(ctx, "plain", secretCheckpoint("plain", "x")); err != nil {
		t.Fatal(err)
	}

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	if _, err := secureStore.Load(ctx, "plain"); err == nil {
		t.Error("Expected plain checkpoint to be refused")
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	got, err := middleware.ParseKey(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if string(got) != string(key) {
		t.Error("ParseKey returned a different key")
	}

	if _, err := middleware.ParseKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("Expected short key to be refused")
	}
	if _, err := middleware.ParseKey("%%%"); err == nil {
		t.Error("Expected invalid base64 to be refused")
	}
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next ports.CheckpointStore) ports.CheckpointStore {
			order = append(order, name)
			return next
		}
	}
	middleware.Chain(memory.NewStore(), tag("outer"), tag("inner"))
	if strings.Join(order, ",") != "inner,outer" {
		t.Errorf("Expected inner to wrap first, got %v", order)
	}
}
