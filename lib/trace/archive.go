// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/aura-foundation/aura/lib/codec"
)

// Export writes the recorder's retained events to w as a
// zstd-compressed CBOR stream, one event per CBOR item. Archives from
// failed simulation runs are attached to bug reports and replayed
// with Import.
func Export(w io.Writer, recorder *Recorder) error {
	compressor, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating archive compressor: %w", err)
	}
	encoder := codec.NewEncoder(compressor)
	for _, event := range recorder.Events() {
		if err := encoder.Encode(event); err != nil {
			compressor.Close()
			return fmt.Errorf("encoding trace event %d: %w", event.Seq, err)
		}
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finalizing trace archive: %w", err)
	}
	return nil
}

// Import reads a trace archive written by Export.
func Import(r io.Reader) ([]Event, error) {
	decompressor, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening trace archive: %w", err)
	}
	defer decompressor.Close()

	decoder := codec.NewDecoder(decompressor)
	var events []Event
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, fmt.Errorf("decoding trace event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
}
