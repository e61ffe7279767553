// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/aura-foundation/aura/lib/ident"
)

type wireSample struct {
	Type    string            `cbor:"1,keyasint"`
	Subject ident.AccountID   `cbor:"2,keyasint"`
	Payload []byte            `cbor:"3,keyasint,omitempty"`
	Tags    map[string]string `cbor:"4,keyasint,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	sample := wireSample{
		Type:    "contact.added",
		Subject: ident.AccountIDFromSeed("alice"),
		Payload: []byte{1, 2, 3},
		Tags:    map[string]string{"z": "last", "a": "first", "m": "middle"},
	}

	first, err := Marshal(sample)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(sample)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic:\n%x\n%x", first, again)
		}
	}
}

func TestRoundTripPreservesIdentifiers(t *testing.T) {
	original := wireSample{
		Type:    "contact.renamed",
		Subject: ident.AccountIDFromSeed("bob"),
	}
	encoded, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wireSample
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Subject != original.Subject {
		t.Fatalf("identifier did not survive round trip: %s vs %s", decoded.Subject, original.Subject)
	}
	if decoded.Type != original.Type {
		t.Fatalf("type did not survive round trip: %q vs %q", decoded.Type, original.Type)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	type extended struct {
		Type  string `cbor:"1,keyasint"`
		Extra string `cbor:"9,keyasint"`
	}
	encoded, err := Marshal(extended{Type: "x", Extra: "future field"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wireSample
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decoding with unknown fields failed: %v", err)
	}
	if decoded.Type != "x" {
		t.Fatalf("known field lost: %q", decoded.Type)
	}
}

func TestStreamEncoderDecodesSequence(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	inputs := []wireSample{
		{Type: "one", Subject: ident.AccountIDFromSeed("a")},
		{Type: "two", Subject: ident.AccountIDFromSeed("b")},
		{Type: "three", Subject: ident.AccountIDFromSeed("c")},
	}
	for _, input := range inputs {
		if err := encoder.Encode(input); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range inputs {
		var got wireSample
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode item %d: %v", i, err)
		}
		if got.Type != want.Type || got.Subject != want.Subject {
			t.Fatalf("item %d mismatch: got %+v want %+v", i, got, want)
		}
	}
}
