// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/encstore"
	"github.com/aura-foundation/aura/lib/journal"
	"github.com/aura-foundation/aura/lib/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var stateDir string
	var snapshotPath string
	var allowPlaintext bool
	var diagnose int

	flagSet := pflag.NewFlagSet("aura-state-check", pflag.ContinueOnError)
	flagSet.StringVar(&stateDir, "state", "", "state directory holding encrypted blobs")
	flagSet.StringVar(&snapshotPath, "snapshot", "", "journal snapshot archive to verify")
	flagSet.BoolVar(&allowPlaintext, "allow-plaintext", false, "tolerate unversioned legacy blobs")
	flagSet.IntVar(&diagnose, "diagnose", 0, "print CBOR diagnostic notation for the first N snapshot facts")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("aura-state-check %s\n", version.Info())
		return 0
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			flagSet.PrintDefaults()
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return 0
	}
	if stateDir == "" && snapshotPath == "" {
		fmt.Fprintln(os.Stderr, "error: at least one of --state or --snapshot is required")
		flagSet.PrintDefaults()
		return 2
	}

	violations := 0
	if stateDir != "" {
		count, err := checkState(stateDir, allowPlaintext)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		violations += count
	}
	if snapshotPath != "" {
		count, err := checkSnapshot(snapshotPath, diagnose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 2
		}
		violations += count
	}

	if violations > 0 {
		fmt.Fprintf(os.Stderr, "%d violation(s) found\n", violations)
		return 1
	}
	return 0
}

// checkState walks the state directory and verifies every blob's
// framing. Returns the violation count.
func checkState(dir string, allowPlaintext bool) (int, error) {
	violations := 0
	checked := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		checked++
		info, err := encstore.InspectBlob(blob)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			violations++
			return nil
		}
		if info.Plaintext && !allowPlaintext {
			fmt.Fprintf(os.Stderr, "%s: unversioned plaintext blob\n", path)
			violations++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	fmt.Printf("state: %d blob(s) checked, %d violation(s)\n", checked, violations)
	return violations, nil
}

// checkSnapshot structurally verifies a journal snapshot: every item
// must decode as a fact envelope and yield a content address.
func checkSnapshot(path string, diagnose int) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer file.Close()

	decompressor, err := zstd.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot stream: %w", err)
	}
	defer decompressor.Close()

	decoder := codec.NewDecoder(decompressor)
	violations := 0
	checked := 0
	for {
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "snapshot item %d: %v\n", checked, err)
			violations++
			break
		}
		checked++
		if checked <= diagnose {
			notation, err := codec.Diagnose(raw)
			if err == nil {
				fmt.Printf("fact %d: %s\n", checked, notation)
			}
		}
		var envelope journal.FactEnvelope
		if err := codec.Unmarshal(raw, &envelope); err != nil {
			fmt.Fprintf(os.Stderr, "snapshot item %d: %v\n", checked, err)
			violations++
			continue
		}
		if _, err := envelope.ID(); err != nil {
			fmt.Fprintf(os.Stderr, "snapshot item %d: %v\n", checked, err)
			violations++
		}
	}
	fmt.Printf("snapshot: %d fact(s) checked, %d violation(s)\n", checked, violations)
	return violations, nil
}
