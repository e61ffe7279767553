// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aura-foundation/aura/lib/ident"
	"github.com/aura-foundation/aura/lib/testutil"
)

func TestSimulatedTimeStandsStillUntilAdvanced(t *testing.T) {
	sim := NewSimulatedTime(time.Unix(1000, 0).UTC())
	if sim.NowUnix() != 1000 {
		t.Fatalf("NowUnix = %d, want 1000", sim.NowUnix())
	}
	sim.Advance(90 * time.Second)
	if sim.NowUnix() != 1090 {
		t.Fatalf("NowUnix after advance = %d, want 1090", sim.NowUnix())
	}
	if !sim.IsSimulated() {
		t.Fatal("IsSimulated must be true")
	}
}

func TestSimulatedAfterFiresOnAdvance(t *testing.T) {
	sim := NewSimulatedTime(time.Unix(0, 0))
	ch := sim.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("waiter fired before the clock advanced")
	default:
	}

	sim.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	sim.Advance(1 * time.Second)
	testutil.RequireReceive(t, ch, time.Second, "waiter past deadline")
}

func TestSimulatedWaitForTimers(t *testing.T) {
	sim := NewSimulatedTime(time.Unix(0, 0))
	fired := make(chan struct{})
	go func() {
		<-sim.After(10 * time.Second)
		close(fired)
	}()

	sim.WaitForTimers(1)
	sim.Advance(10 * time.Second)
	testutil.RequireClosed(t, fired, time.Second, "goroutine waiter")
}

func TestSeededRandomIsRepeatable(t *testing.T) {
	a := NewSeededRandom("TestSeededRandomIsRepeatable")
	b := NewSeededRandom("TestSeededRandomIsRepeatable")

	bufA := make([]byte, 64)
	bufB := make([]byte, 64)
	if err := a.FillBytes(bufA); err != nil {
		t.Fatalf("FillBytes: %v", err)
	}
	if err := b.FillBytes(bufB); err != nil {
		t.Fatalf("FillBytes: %v", err)
	}
	if !bytes.Equal(bufA, bufB) {
		t.Fatal("same seed produced different streams")
	}

	other := NewSeededRandom("different-seed")
	bufC := make([]byte, 64)
	if err := other.FillBytes(bufC); err != nil {
		t.Fatalf("FillBytes: %v", err)
	}
	if bytes.Equal(bufA, bufC) {
		t.Fatal("different seeds produced identical streams")
	}
}

func TestSeededUUIDDeterministic(t *testing.T) {
	a, err := NewSeededRandom("uuid-seed").UUID()
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	b, err := NewSeededRandom("uuid-seed").UUID()
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	if a != b {
		t.Fatalf("seeded UUIDs differ: %s vs %s", a, b)
	}
	if a.Version() != 4 {
		t.Fatalf("seeded UUID version = %d, want 4", a.Version())
	}
}

func TestCryptoSealOpenRoundTrip(t *testing.T) {
	crypto := NewStandardCrypto(NewSeededRandom(t.Name()))
	key, err := crypto.RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	nonce, err := crypto.RandomBytes(12)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	plaintext := []byte("journal fact payload")

	for name, seal := range map[string]func([]byte, []byte, []byte, []byte) ([]byte, error){
		"chacha": crypto.SealChaCha,
		"aesgcm": crypto.SealAESGCM,
	} {
		open := crypto.OpenChaCha
		if name == "aesgcm" {
			open = crypto.OpenAESGCM
		}
		ciphertext, err := seal(key, nonce, plaintext, nil)
		if err != nil {
			t.Fatalf("%s seal: %v", name, err)
		}
		decrypted, err := open(key, nonce, ciphertext, nil)
		if err != nil {
			t.Fatalf("%s open: %v", name, err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Fatalf("%s round trip mismatch", name)
		}

		// Any bit flip must fail closed with the uniform error.
		corrupted := append([]byte(nil), ciphertext...)
		corrupted[0] ^= 0x01
		if _, err := open(key, nonce, corrupted, nil); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("%s corrupted open error = %v, want ErrDecryptionFailed", name, err)
		}
	}
}

func TestHKDFIsDeterministicAndLabelSeparated(t *testing.T) {
	crypto := NewStandardCrypto(OSRandom())
	ikm := []byte("master-key-material-0123456789ab")

	first, err := crypto.HKDF(ikm, []byte("salt"), "aura-storage-encryption-v1", 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	second, err := crypto.HKDF(ikm, []byte("salt"), "aura-storage-encryption-v1", 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("HKDF is not deterministic")
	}

	other, err := crypto.HKDF(ikm, []byte("salt"), "aura-opaque-key-v1", 32)
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Fatal("different info labels produced the same key")
	}
}

func TestEd25519SignVerify(t *testing.T) {
	crypto := NewStandardCrypto(NewSeededRandom(t.Name()))
	public, private, err := crypto.Ed25519Generate()
	if err != nil {
		t.Fatalf("Ed25519Generate: %v", err)
	}
	message := []byte("delegation bytes")
	signature := crypto.Ed25519Sign(private, message)
	if !crypto.Ed25519Verify(public, message, signature) {
		t.Fatal("valid signature rejected")
	}
	if crypto.Ed25519Verify(public, []byte("other message"), signature) {
		t.Fatal("signature accepted for wrong message")
	}
}

func TestMemoryStorageBatchAndStats(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	if err := storage.StoreBatch(ctx, map[string][]byte{
		"accounts/alice": []byte("a"),
		"accounts/bob":   []byte("bb"),
		"session/1":      []byte("ccc"),
	}); err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}

	keys, err := storage.ListKeys(ctx, "accounts/")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "accounts/alice" || keys[1] != "accounts/bob" {
		t.Fatalf("ListKeys = %v", keys)
	}

	batch, err := storage.RetrieveBatch(ctx, []string{"accounts/alice", "missing"})
	if err != nil {
		t.Fatalf("RetrieveBatch: %v", err)
	}
	if len(batch) != 1 || string(batch["accounts/alice"]) != "a" {
		t.Fatalf("RetrieveBatch = %v", batch)
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Keys != 3 || stats.Bytes != 6 {
		t.Fatalf("Stats = %+v", stats)
	}

	removed, err := storage.Remove(ctx, "session/1")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	removed, err = storage.Remove(ctx, "session/1")
	if err != nil || removed {
		t.Fatalf("second Remove = %v, %v", removed, err)
	}
}

func TestScopedSecureStorageDeniesOutOfScope(t *testing.T) {
	ctx := context.Background()
	inner := NewMemorySecureStorage(NewSeededRandom(t.Name()))
	readWrite := ScopedSecureStorage(inner, SecureRead, SecureWrite)

	if err := readWrite.Store(ctx, "aura-threshold", "share-1", []byte("material")); err != nil {
		t.Fatalf("Store within scope: %v", err)
	}
	value, ok, err := readWrite.Retrieve(ctx, "aura-threshold", "share-1")
	if err != nil || !ok || string(value) != "material" {
		t.Fatalf("Retrieve = %q, %v, %v", value, ok, err)
	}
	if err := readWrite.Delete(ctx, "aura-threshold", "share-1"); !errors.Is(err, ErrSecureCapabilityDenied) {
		t.Fatalf("Delete without scope = %v, want ErrSecureCapabilityDenied", err)
	}

	deleter := ScopedSecureStorage(inner, SecureDelete)
	if err := deleter.Delete(ctx, "aura-threshold", "share-1"); err != nil {
		t.Fatalf("Delete within scope: %v", err)
	}
	if _, ok, _ := inner.Retrieve(ctx, "aura-threshold", "share-1"); ok {
		t.Fatal("share survived deletion")
	}
}

func TestSecureGenerateKeyIsStable(t *testing.T) {
	ctx := context.Background()
	secure := NewMemorySecureStorage(NewSeededRandom(t.Name()))

	first, err := secure.GenerateKey(ctx, "aura-encryption", "master-key", 32)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("key length = %d", len(first))
	}
	second, err := secure.GenerateKey(ctx, "aura-encryption", "master-key", 32)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("GenerateKey regenerated an existing key")
	}
}

func TestMemoryTransportDeliversAndDedupes(t *testing.T) {
	ctx := context.Background()
	transport := NewMemoryTransport()
	alice := ident.AuthorityIDFromSeed("alice")
	bob := ident.AuthorityIDFromSeed("bob")
	inbox := transport.Register(bob)

	effectsBundle := Simulated(t.Name())
	id, err := effectsBundle.GenUUID()
	if err != nil {
		t.Fatalf("GenUUID: %v", err)
	}
	envelope := Envelope{
		ID:          id,
		Destination: bob,
		Source:      alice,
		Payload:     []byte("hello"),
		Metadata:    map[string]string{MetadataTypeKey: "session_invitation"},
	}

	if err := transport.SendEnvelope(ctx, envelope); err != nil {
		t.Fatalf("SendEnvelope: %v", err)
	}
	// Duplicate ID: silently dropped.
	if err := transport.SendEnvelope(ctx, envelope); err != nil {
		t.Fatalf("duplicate SendEnvelope: %v", err)
	}

	received := testutil.RequireReceive(t, inbox, time.Second, "first delivery")
	if string(received.Payload) != "hello" {
		t.Fatalf("payload = %q", received.Payload)
	}
	select {
	case extra := <-inbox:
		t.Fatalf("duplicate delivered: %+v", extra)
	default:
	}
}

func TestMemoryTransportUnreachable(t *testing.T) {
	transport := NewMemoryTransport()
	err := transport.SendEnvelope(context.Background(), Envelope{
		Destination: ident.AuthorityIDFromSeed("nobody"),
	})
	if !errors.Is(err, ErrDestinationUnreachable) {
		t.Fatalf("err = %v, want ErrDestinationUnreachable", err)
	}
}

func TestDelayAdvancesSimulatedTime(t *testing.T) {
	bundle := Simulated(t.Name())
	before := bundle.NowUnix()
	if err := bundle.Delay(context.Background(), 42*time.Second); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if bundle.NowUnix() != before+42 {
		t.Fatalf("simulated time = %d, want %d", bundle.NowUnix(), before+42)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileSecureStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSecureStorage(t.TempDir(), OSRandom(), discardLogger())
	if err != nil {
		t.Fatalf("NewFileSecureStorage: %v", err)
	}
	defer store.Close()

	if err := store.Store(ctx, "aura-threshold", "key/with/slashes", []byte("share")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	value, ok, err := store.Retrieve(ctx, "aura-threshold", "key/with/slashes")
	if err != nil || !ok || string(value) != "share" {
		t.Fatalf("Retrieve = %q, %v, %v", value, ok, err)
	}

	keys, err := store.List(ctx, "aura-threshold")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "key/with/slashes" {
		t.Fatalf("List = %v", keys)
	}

	if err := store.Delete(ctx, "aura-threshold", "key/with/slashes"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Retrieve(ctx, "aura-threshold", "key/with/slashes"); ok {
		t.Fatal("record survived deletion")
	}
}
