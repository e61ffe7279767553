// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package cgka

import (
	"fmt"

	"github.com/aura-foundation/aura/lib/authority"
)

// EligibleMembers projects a document's membership from the authority
// graph: every subject holding a granted mls:member or mls:admin
// capability on the document, in the graph's deterministic order.
// Every honest node computes the same list from the same graph.
func EligibleMembers(graph *authority.Graph, doc DocID) []authority.Subject {
	member := graph.SubjectsWithScope(authority.NewResourceScope(authority.NamespaceMLS, "member", doc.String()))
	admin := graph.SubjectsWithScope(authority.NewResourceScope(authority.NamespaceMLS, "admin", doc.String()))

	eligible := make([]authority.Subject, 0, len(member)+len(admin))
	eligible = append(eligible, member...)
	for _, subject := range admin {
		if !subjectIn(eligible, subject) {
			eligible = append(eligible, subject)
		}
	}
	return eligible
}

// SyncEligibility reconciles the tree with the authority graph. All
// pending adds and removes land as one epoch transition, so a batch of
// capability changes costs one rotation. Returns ok=false when the
// tree already matches and no operation is needed.
func (g *Group) SyncEligibility(graph *authority.Graph, initKeys map[string][]byte) (Operation, bool, error) {
	eligible := EligibleMembers(graph, g.doc)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		return Operation{}, false, fmt.Errorf("group %s: %w", g.doc, ErrNotInitialized)
	}
	if !subjectIn(eligible, g.self) {
		return Operation{}, false, fmt.Errorf("group %s: %w", g.doc, ErrNotMember)
	}

	var adds []Leaf
	var removes []authority.Subject
	next := make([]Leaf, 0, len(eligible))
	for _, leaf := range g.leaves {
		if subjectIn(eligible, leaf.Member) {
			next = append(next, leaf)
		} else {
			removes = append(removes, leaf.Member)
		}
	}
	for _, subject := range eligible {
		if indexOfIn(next, subject) >= 0 {
			continue
		}
		public, ok := initKeys[subject.String()]
		if !ok {
			return Operation{}, false, fmt.Errorf("group %s: no init key published for %s", g.doc, subject)
		}
		added := Leaf{Member: subject, Public: append([]byte(nil), public...)}
		next = append(next, added)
		adds = append(adds, added)
	}
	if len(adds) == 0 && len(removes) == 0 {
		return Operation{}, false, nil
	}

	op, err := g.transition(next, adds, removes)
	if err != nil {
		return Operation{}, false, err
	}
	g.bundle.Logger().Info("cgka eligibility synced",
		"doc_id", g.doc,
		"added", len(adds),
		"removed", len(removes),
		"epoch", op.Epoch)
	return op, true, nil
}
