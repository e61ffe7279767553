// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/encstore"
)

const (
	factKeyPrefix = "journal/fact/"
	seqKeyPrefix  = "journal/seq/"
	headKey       = "journal/head"
)

var (
	// ErrFactNotFound means no fact with the given id is committed.
	ErrFactNotFound = errors.New("fact not found")

	// ErrJournalCorrupt means the sequence index references a fact
	// blob that is missing or undecodable.
	ErrJournalCorrupt = errors.New("journal index corrupt")
)

// Journal is the append-only fact log over the encrypted store. Facts
// are stored once by content address; a sequence index gives total
// order for replay. Appends of an already-committed fact are
// idempotent and do not grow the log.
type Journal struct {
	mu     sync.Mutex
	bundle *effects.Effects
	store  *encstore.Store

	head       uint64
	headLoaded bool
}

// New opens the journal over an encrypted store.
func New(bundle *effects.Effects, store *encstore.Store) *Journal {
	return &Journal{bundle: bundle, store: store}
}

func factKey(id FactID) string { return factKeyPrefix + id.String() }

func seqKey(seq uint64) string { return fmt.Sprintf("%s%016x", seqKeyPrefix, seq) }

// loadHeadLocked reads the persisted sequence head once per process.
func (j *Journal) loadHeadLocked(ctx context.Context) error {
	if j.headLoaded {
		return nil
	}
	raw, found, err := j.store.Retrieve(ctx, headKey)
	if err != nil {
		return fmt.Errorf("loading journal head: %w", err)
	}
	if found {
		if err := codec.Unmarshal(raw, &j.head); err != nil {
			return fmt.Errorf("decoding journal head: %w", err)
		}
	}
	j.headLoaded = true
	return nil
}

// Append commits a fact. The envelope blob and the sequence entry are
// written together; re-appending a fact already in the log returns its
// existing id without growing the sequence.
func (j *Journal) Append(ctx context.Context, envelope FactEnvelope) (FactID, error) {
	id, err := envelope.ID()
	if err != nil {
		return FactID{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.loadHeadLocked(ctx); err != nil {
		return FactID{}, err
	}

	exists, err := j.store.Exists(ctx, factKey(id))
	if err != nil {
		return FactID{}, fmt.Errorf("checking fact %s: %w", id, err)
	}
	if exists {
		return id, nil
	}

	blob, err := codec.Marshal(envelope)
	if err != nil {
		return FactID{}, fmt.Errorf("encoding fact %s: %w", id, err)
	}
	seq := j.head
	headBlob, err := codec.Marshal(seq + 1)
	if err != nil {
		return FactID{}, fmt.Errorf("encoding journal head: %w", err)
	}
	err = j.store.StoreBatch(ctx, map[string][]byte{
		factKey(id): blob,
		seqKey(seq): []byte(id.String()),
		headKey:     headBlob,
	})
	if err != nil {
		return FactID{}, fmt.Errorf("committing fact %s: %w", id, err)
	}
	j.head = seq + 1

	j.bundle.Logger().Debug("fact committed",
		"fact_id", id,
		"type_id", envelope.TypeID,
		"seq", seq)
	return id, nil
}

// Get returns a committed fact by content address.
func (j *Journal) Get(ctx context.Context, id FactID) (FactEnvelope, error) {
	raw, found, err := j.store.Retrieve(ctx, factKey(id))
	if err != nil {
		return FactEnvelope{}, fmt.Errorf("retrieving fact %s: %w", id, err)
	}
	if !found {
		return FactEnvelope{}, fmt.Errorf("fact %s: %w", id, ErrFactNotFound)
	}
	var envelope FactEnvelope
	if err := codec.Unmarshal(raw, &envelope); err != nil {
		return FactEnvelope{}, fmt.Errorf("decoding fact %s: %w", id, err)
	}
	return envelope, nil
}

// Len returns the number of committed facts.
func (j *Journal) Len(ctx context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.loadHeadLocked(ctx); err != nil {
		return 0, err
	}
	return j.head, nil
}

// Replay calls fn for every committed fact in commit order. Returning
// a non-nil error stops the replay.
func (j *Journal) Replay(ctx context.Context, fn func(seq uint64, envelope FactEnvelope) error) error {
	head, err := j.Len(ctx)
	if err != nil {
		return err
	}
	for seq := uint64(0); seq < head; seq++ {
		raw, found, err := j.store.Retrieve(ctx, seqKey(seq))
		if err != nil {
			return fmt.Errorf("reading sequence %d: %w", seq, err)
		}
		if !found {
			return fmt.Errorf("sequence %d missing: %w", seq, ErrJournalCorrupt)
		}
		id, err := ParseFactID(string(raw))
		if err != nil {
			return fmt.Errorf("sequence %d: %w", seq, ErrJournalCorrupt)
		}
		envelope, err := j.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrFactNotFound) {
				return fmt.Errorf("sequence %d references missing fact %s: %w", seq, id, ErrJournalCorrupt)
			}
			return err
		}
		if err := fn(seq, envelope); err != nil {
			return err
		}
	}
	return nil
}

// FactsByType returns committed facts with the given type id in
// commit order.
func (j *Journal) FactsByType(ctx context.Context, typeID string) ([]FactEnvelope, error) {
	var out []FactEnvelope
	err := j.Replay(ctx, func(_ uint64, envelope FactEnvelope) error {
		if envelope.TypeID == typeID {
			out = append(out, envelope)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
