// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package cgka

import (
	"fmt"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/effects"
)

const (
	// pathSecretSize matches the HPKE KEM seed size, so each link in
	// the chain can also seed a keypair.
	pathSecretSize = 32

	pathChainInfo = "aura-cgka-path-chain-v1"
)

// Leaf is one member's position in the ratchet tree: its subject and
// the X25519 public key path secrets are sealed to.
type Leaf struct {
	Member authority.Subject `cbor:"1,keyasint"`
	Public []byte            `cbor:"2,keyasint"`
}

// splitPoint returns the size of the left subtree for a node covering
// size leaves: the largest power of two strictly below size. This is
// the left-balanced shape every member computes identically.
func splitPoint(size int) int {
	p := 1
	for p*2 < size {
		p *= 2
	}
	return p
}

// copathGroups lists, for an actor at index actor in a tree of n
// leaves, the leaf indices of each copath subtree ordered from the
// root split downward. Group s must receive the path secret that sits
// s links below the root.
func copathGroups(n, actor int) [][]int {
	var groups [][]int
	lo, hi := 0, n
	for hi-lo > 1 {
		mid := lo + splitPoint(hi-lo)
		var farLo, farHi int
		if actor < mid {
			farLo, farHi = mid, hi
			hi = mid
		} else {
			farLo, farHi = lo, mid
			lo = mid
		}
		group := make([]int, 0, farHi-farLo)
		for i := farLo; i < farHi; i++ {
			group = append(group, i)
		}
		groups = append(groups, group)
	}
	return groups
}

// copathStep returns how many splits below the root the subtree
// separating recipient from actor sits, or -1 when recipient is the
// actor or out of range.
func copathStep(n, actor, recipient int) int {
	if recipient == actor || recipient < 0 || recipient >= n {
		return -1
	}
	lo, hi, step := 0, n, 0
	for hi-lo > 1 {
		mid := lo + splitPoint(hi-lo)
		actorLeft := actor < mid
		recipientLeft := recipient < mid
		if actorLeft != recipientLeft {
			return step
		}
		if actorLeft {
			hi = mid
		} else {
			lo = mid
		}
		step++
	}
	return -1
}

// actorDepth is the number of splits from the root down to the
// actor's singleton range, the length of its path-secret chain.
func actorDepth(n, actor int) int {
	lo, hi, depth := 0, n, 0
	for hi-lo > 1 {
		mid := lo + splitPoint(hi-lo)
		if actor < mid {
			hi = mid
		} else {
			lo = mid
		}
		depth++
	}
	return depth
}

// pathSecretChain derives the chain ps[0..depth] from a fresh leaf
// secret. ps[0] seeds the actor's new leaf keypair; ps[depth] is the
// group root secret for the new epoch.
func pathSecretChain(crypto effects.Crypto, leafSecret []byte, depth int) ([][]byte, error) {
	chain := make([][]byte, depth+1)
	chain[0] = append([]byte(nil), leafSecret...)
	for i := 1; i <= depth; i++ {
		next, err := crypto.HKDF(chain[i-1], nil, pathChainInfo, pathSecretSize)
		if err != nil {
			return nil, fmt.Errorf("deriving path secret %d: %w", i, err)
		}
		chain[i] = next
	}
	return chain, nil
}
