// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads node configuration for Aura components.
//
// Configuration comes from a single file named by either the
// AURA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// Files ending in .json or .jsonc are parsed as JSON with comments
// and trailing commas allowed; everything else is YAML.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter:
// plaintext-read tolerance in the encrypted store is forced off.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${AURA_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Storage, Identity, Connection
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config
