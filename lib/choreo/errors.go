// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"errors"
	"fmt"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
)

var (
	// ErrProviderMissing means the adapter returned no payload at a
	// send step. Fatal to the session.
	ErrProviderMissing = errors.New("message provider returned no payload")

	// ErrDeciderUndecided means a branch decision was still pending
	// when the session was forced to resolve. Recoverable.
	ErrDeciderUndecided = errors.New("branch decider undecided")

	// ErrTimeout means a per-step or total deadline expired. Fatal to
	// the session; resources are released before it is returned.
	ErrTimeout = errors.New("session timed out")

	// ErrCancelled means the caller cancelled the session. The
	// suspended role observes it at its next step.
	ErrCancelled = errors.New("session cancelled")

	// ErrInvalidRole means a role and an authority disagree: a step
	// names a role the adapter's role map cannot resolve, or an
	// inbound envelope claims a role its sender does not hold. Fatal
	// at a send step; at delivery the envelope is rejected and the
	// session keeps waiting.
	ErrInvalidRole = errors.New("role not bound to an authority")

	// ErrInvalid rejects malformed choreography input, such as an
	// empty participant list.
	ErrInvalid = errors.New("invalid choreography input")

	// ErrSessionExists rejects starting a session whose id is still
	// live.
	ErrSessionExists = errors.New("session id already active")

	// ErrUnknownSession means a delivery or cancel names no live
	// session.
	ErrUnknownSession = errors.New("unknown session")
)

// GuardDeniedError reports a capability guard that refused to let a
// choreography start. Recoverable: the caller may retry after the
// authority graph changes.
type GuardDeniedError struct {
	Subject authority.Subject
	Scope   authority.Scope
	Result  authority.CapabilityResult
}

func (e *GuardDeniedError) Error() string {
	return fmt.Sprintf("guard denied %s for %s: %s", e.Scope, e.Subject, e.Result)
}

// TransportError wraps a send failure with its destination.
type TransportError struct {
	Destination ident.AuthorityID
	Cause       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s: %v", e.Destination, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Recoverable reports whether the caller may retry after the error:
// guard denials, undecided branches, and unreachable destinations.
// Everything else is fatal to the session.
func Recoverable(err error) bool {
	var guard *GuardDeniedError
	if errors.As(err, &guard) {
		return true
	}
	if errors.Is(err, ErrDeciderUndecided) {
		return true
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return errors.Is(transport.Cause, effects.ErrDestinationUnreachable)
	}
	return false
}
