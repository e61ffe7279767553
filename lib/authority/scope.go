// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import "fmt"

// Capability namespaces. Operations within a namespace are
// namespace-specific strings ("read", "write", "admin", "create",
// "delegate", "propagate", "member", "invite", ...).
const (
	NamespaceStorage    = "storage"
	NamespaceTree       = "tree"
	NamespaceSession    = "session"
	NamespaceMLS        = "mls"
	NamespaceCapability = "capability"
	NamespaceTransport  = "transport"
)

// Scope identifies what a capability permits: an operation within a
// namespace, optionally narrowed to a single resource. A nil Resource
// is a wildcard covering every resource under (Namespace, Operation).
type Scope struct {
	Namespace string  `cbor:"1,keyasint"`
	Operation string  `cbor:"2,keyasint"`
	Resource  *string `cbor:"3,keyasint,omitempty"`
}

// NewScope returns a wildcard scope over all resources.
func NewScope(namespace, operation string) Scope {
	return Scope{Namespace: namespace, Operation: operation}
}

// NewResourceScope returns a scope narrowed to one resource.
func NewResourceScope(namespace, operation, resource string) Scope {
	return Scope{Namespace: namespace, Operation: operation, Resource: &resource}
}

// Covers reports whether a delegation carrying this scope satisfies a
// request for requested. Namespace and operation must match exactly;
// a wildcard resource covers everything, a concrete resource only
// itself.
func (s Scope) Covers(requested Scope) bool {
	if s.Namespace != requested.Namespace || s.Operation != requested.Operation {
		return false
	}
	if s.Resource == nil {
		return true
	}
	return requested.Resource != nil && *s.Resource == *requested.Resource
}

// String renders "namespace:operation" or "namespace:operation:resource".
func (s Scope) String() string {
	if s.Resource == nil {
		return fmt.Sprintf("%s:%s", s.Namespace, s.Operation)
	}
	return fmt.Sprintf("%s:%s:%s", s.Namespace, s.Operation, *s.Resource)
}
