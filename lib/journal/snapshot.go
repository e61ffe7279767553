// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/aura-foundation/aura/lib/codec"
)

// ExportSnapshot streams the full log to w in commit order as a
// zstd-compressed CBOR sequence, one envelope per item. Snapshots
// back up the journal and seed new devices.
func ExportSnapshot(ctx context.Context, w io.Writer, j *Journal) error {
	compressor, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating snapshot compressor: %w", err)
	}
	encoder := codec.NewEncoder(compressor)
	err = j.Replay(ctx, func(seq uint64, envelope FactEnvelope) error {
		if err := encoder.Encode(envelope); err != nil {
			return fmt.Errorf("encoding fact at sequence %d: %w", seq, err)
		}
		return nil
	})
	if err != nil {
		compressor.Close()
		return err
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finalizing snapshot: %w", err)
	}
	return nil
}

// ImportSnapshot appends every fact from a snapshot stream. Facts
// already in the log are skipped by content address, so importing a
// snapshot into a journal that has since grown is safe. Returns the
// number of facts newly committed.
func ImportSnapshot(ctx context.Context, r io.Reader, j *Journal) (int, error) {
	decompressor, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer decompressor.Close()

	decoder := codec.NewDecoder(decompressor)
	imported := 0
	for {
		var envelope FactEnvelope
		if err := decoder.Decode(&envelope); err != nil {
			if errors.Is(err, io.EOF) {
				return imported, nil
			}
			return imported, fmt.Errorf("decoding snapshot fact %d: %w", imported, err)
		}
		id, err := envelope.ID()
		if err != nil {
			return imported, err
		}
		exists, err := j.store.Exists(ctx, factKey(id))
		if err != nil {
			return imported, fmt.Errorf("checking fact %s: %w", id, err)
		}
		if exists {
			continue
		}
		if _, err := j.Append(ctx, envelope); err != nil {
			return imported, err
		}
		imported++
	}
}
