// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/encstore"
	"github.com/aura-foundation/aura/lib/ident"
)

type journalFixture struct {
	t       *testing.T
	bundle  *effects.Effects
	journal *Journal
	author  authority.Subject
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func newJournalFixture(t *testing.T) *journalFixture {
	t.Helper()
	bundle := effects.Simulated(t.Name())
	public, private, err := bundle.Crypto.Ed25519Generate()
	if err != nil {
		t.Fatalf("Ed25519Generate: %v", err)
	}
	return &journalFixture{
		t:       t,
		bundle:  bundle,
		journal: New(bundle, encstore.New(bundle, encstore.DefaultConfig())),
		author:  authority.DeviceSubject(ident.DeviceIDFromSeed("author")),
		public:  public,
		private: private,
	}
}

func (f *journalFixture) contactFact(fact ContactFact) FactEnvelope {
	f.t.Helper()
	payload, err := EncodeContactFact(fact)
	if err != nil {
		f.t.Fatalf("EncodeContactFact: %v", err)
	}
	envelope, err := NewFact(f.bundle.Crypto, f.private, ContactFactType, f.author, f.bundle.NowUnix(), payload)
	if err != nil {
		f.t.Fatalf("NewFact: %v", err)
	}
	return envelope
}

func (f *journalFixture) append(envelope FactEnvelope) FactID {
	f.t.Helper()
	id, err := f.journal.Append(context.Background(), envelope)
	if err != nil {
		f.t.Fatalf("Append: %v", err)
	}
	return id
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	f := newJournalFixture(t)
	ctx := context.Background()

	envelope := f.contactFact(ContactFact{Kind: ContactAdded, ContactID: "alice", Name: "Alice"})
	id := f.append(envelope)

	got, err := f.journal.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TypeID != ContactFactType {
		t.Fatalf("type id %q", got.TypeID)
	}
	if err := got.Verify(f.bundle.Crypto, f.public); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	gotID, err := got.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if gotID != id {
		t.Fatal("content address changed across storage round trip")
	}

	if _, err := f.journal.Get(ctx, FactID{0xaa}); !errors.Is(err, ErrFactNotFound) {
		t.Fatalf("Get missing fact: %v, want ErrFactNotFound", err)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	f := newJournalFixture(t)
	ctx := context.Background()

	envelope := f.contactFact(ContactFact{Kind: ContactAdded, ContactID: "alice"})
	first := f.append(envelope)
	second := f.append(envelope)
	if first != second {
		t.Fatal("re-append produced a different id")
	}
	length, err := f.journal.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if length != 1 {
		t.Fatalf("log length %d after duplicate append, want 1", length)
	}
}

func TestTamperedEnvelopeFailsVerification(t *testing.T) {
	f := newJournalFixture(t)
	envelope := f.contactFact(ContactFact{Kind: ContactAdded, ContactID: "alice"})

	envelope.Timestamp++
	if err := envelope.Verify(f.bundle.Crypto, f.public); !errors.Is(err, ErrInvalidFactSignature) {
		t.Fatalf("tampered envelope: %v, want ErrInvalidFactSignature", err)
	}

	envelope.Timestamp--
	envelope.SignatureScheme = 9
	if err := envelope.Verify(f.bundle.Crypto, f.public); !errors.Is(err, ErrUnknownSignatureScheme) {
		t.Fatalf("unknown scheme: %v, want ErrUnknownSignatureScheme", err)
	}
}

func TestReplayPreservesCommitOrder(t *testing.T) {
	f := newJournalFixture(t)
	ctx := context.Background()

	ids := []string{"alice", "bob", "carol"}
	for _, id := range ids {
		f.append(f.contactFact(ContactFact{Kind: ContactAdded, ContactID: id}))
	}

	var seen []string
	err := f.journal.Replay(ctx, func(seq uint64, envelope FactEnvelope) error {
		if seq != uint64(len(seen)) {
			t.Fatalf("sequence %d out of order", seq)
		}
		var fact ContactFact
		if err := codec.Unmarshal(envelope.Payload, &fact); err != nil {
			return err
		}
		seen = append(seen, fact.ContactID)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for i, id := range ids {
		if seen[i] != id {
			t.Fatalf("replay order %v, want %v", seen, ids)
		}
	}
}

func TestContactsProjection(t *testing.T) {
	f := newJournalFixture(t)
	ctx := context.Background()

	f.append(f.contactFact(ContactFact{Kind: ContactAdded, ContactID: "alice", Name: "Alice"}))
	f.append(f.contactFact(ContactFact{Kind: ContactAdded, ContactID: "bob", Name: "Bob"}))
	f.append(f.contactFact(ContactFact{Kind: ContactRenamed, ContactID: "alice", Name: "Alice Carroll"}))
	f.append(f.contactFact(ContactFact{Kind: ContactReadReceiptPolicyUpdated, ContactID: "bob", Policy: ReadReceiptNever}))
	f.append(f.contactFact(ContactFact{Kind: ContactRemoved, ContactID: "bob"}))

	contacts, err := Contacts(ctx, f.journal)
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("projection has %d contacts, want 1", len(contacts))
	}
	if contacts[0].ContactID != "alice" || contacts[0].Name != "Alice Carroll" {
		t.Fatalf("projection entry %+v", contacts[0])
	}

	// Re-adding after removal starts a fresh entry.
	f.append(f.contactFact(ContactFact{Kind: ContactAdded, ContactID: "bob", Name: "Bob II"}))
	contacts, err = Contacts(ctx, f.journal)
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("projection has %d contacts, want 2", len(contacts))
	}
	if contacts[1].Name != "Bob II" || contacts[1].Policy != ReadReceiptDefault {
		t.Fatalf("re-added contact %+v", contacts[1])
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newJournalFixture(t)
	ctx := context.Background()

	for _, id := range []string{"alice", "bob", "carol"} {
		f.append(f.contactFact(ContactFact{Kind: ContactAdded, ContactID: id}))
	}

	var buf bytes.Buffer
	if err := ExportSnapshot(ctx, &buf, f.journal); err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	// A fresh journal on a fresh store imports everything.
	other := newJournalFixture(t)
	imported, err := ImportSnapshot(ctx, bytes.NewReader(buf.Bytes()), other.journal)
	if err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	if imported != 3 {
		t.Fatalf("imported %d facts, want 3", imported)
	}
	length, err := other.journal.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if length != 3 {
		t.Fatalf("log length %d, want 3", length)
	}

	// Importing into the source is a no-op.
	imported, err = ImportSnapshot(ctx, bytes.NewReader(buf.Bytes()), f.journal)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if imported != 0 {
		t.Fatalf("re-import committed %d facts, want 0", imported)
	}
}
