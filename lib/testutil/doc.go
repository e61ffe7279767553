// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for Aura tests: channel
// operations with timeout safety valves and unique identifier
// generation for concurrent test isolation.
//
// The channel helpers exist so individual tests never write bare
// time.After selects; a hung choreography step fails the test with a
// message instead of hanging the suite.
package testutil
