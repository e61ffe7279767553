// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"fmt"
	"sort"

	"github.com/aura-foundation/aura/lib/codec"
)

// ContactFactType is the envelope type id for contact facts.
const ContactFactType = "aura.contact.v1"

// ContactFactKind discriminates the contact fact variants.
type ContactFactKind uint8

const (
	ContactAdded ContactFactKind = iota + 1
	ContactRenamed
	ContactRemoved
	ContactReadReceiptPolicyUpdated
)

// ReadReceiptPolicy controls whether read receipts are sent to a
// contact.
type ReadReceiptPolicy uint8

const (
	ReadReceiptDefault ReadReceiptPolicy = iota
	ReadReceiptAlways
	ReadReceiptNever
)

// ContactFact is the payload of a ContactFactType envelope.
type ContactFact struct {
	Kind      ContactFactKind   `cbor:"1,keyasint"`
	ContactID string            `cbor:"2,keyasint"`
	Name      string            `cbor:"3,keyasint,omitempty"`
	Policy    ReadReceiptPolicy `cbor:"4,keyasint,omitempty"`
}

// EncodeContactFact returns the canonical payload bytes for embedding
// in a fact envelope.
func EncodeContactFact(fact ContactFact) ([]byte, error) {
	encoded, err := codec.Marshal(fact)
	if err != nil {
		return nil, fmt.Errorf("encoding contact fact: %w", err)
	}
	return encoded, nil
}

// Contact is one entry of the contacts projection.
type Contact struct {
	ContactID string
	Name      string
	Policy    ReadReceiptPolicy
	AddedAt   uint64
}

// Contacts reduces the journal to the current contact list, ordered
// by contact id. The reduction is pure: replaying the same log always
// yields the same list, and a removed contact's earlier facts leave
// no residue.
func Contacts(ctx context.Context, j *Journal) ([]Contact, error) {
	byID := make(map[string]*Contact)
	err := j.Replay(ctx, func(_ uint64, envelope FactEnvelope) error {
		if envelope.TypeID != ContactFactType {
			return nil
		}
		var fact ContactFact
		if err := codec.Unmarshal(envelope.Payload, &fact); err != nil {
			return fmt.Errorf("decoding contact fact: %w", err)
		}
		switch fact.Kind {
		case ContactAdded:
			byID[fact.ContactID] = &Contact{
				ContactID: fact.ContactID,
				Name:      fact.Name,
				Policy:    fact.Policy,
				AddedAt:   envelope.Timestamp,
			}
		case ContactRenamed:
			if contact, ok := byID[fact.ContactID]; ok {
				contact.Name = fact.Name
			}
		case ContactRemoved:
			delete(byID, fact.ContactID)
		case ContactReadReceiptPolicyUpdated:
			if contact, ok := byID[fact.ContactID]; ok {
				contact.Policy = fact.Policy
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Contact, 0, len(byID))
	for _, contact := range byID {
		out = append(out, *contact)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}
