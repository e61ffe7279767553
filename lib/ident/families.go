// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

//nolint:dupl // The identifier families are structurally identical by design — distinct types for compile-time safety.
package ident

import (
	"io"

	"github.com/google/uuid"
)

// AccountID identifies an Aura account: the user-level identity that a
// fleet of devices jointly holds.
type AccountID struct{ opaque }

// NewAccountID creates an AccountID from entropy.
func NewAccountID(r io.Reader) (AccountID, error) {
	o, err := newOpaqueFromEntropy(r)
	return AccountID{o}, err
}

// AccountIDFromSeed derives an AccountID deterministically from a seed.
func AccountIDFromSeed(seed string) AccountID { return AccountID{opaqueFromSeed(seed)} }

// ParseAccountID parses the hex form of an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	o, err := parseOpaque(s)
	return AccountID{o}, err
}

// Compare orders AccountIDs bytewise.
func (a AccountID) Compare(b AccountID) int { return a.opaque.Compare(b.opaque) }

// DeviceID identifies a single physical or virtual device enrolled in
// an account.
type DeviceID struct{ opaque }

// NewDeviceID creates a DeviceID from entropy.
func NewDeviceID(r io.Reader) (DeviceID, error) {
	o, err := newOpaqueFromEntropy(r)
	return DeviceID{o}, err
}

// DeviceIDFromSeed derives a DeviceID deterministically from a seed.
func DeviceIDFromSeed(seed string) DeviceID { return DeviceID{opaqueFromSeed(seed)} }

// ParseDeviceID parses the hex form of a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	o, err := parseOpaque(s)
	return DeviceID{o}, err
}

// Compare orders DeviceIDs bytewise.
func (a DeviceID) Compare(b DeviceID) int { return a.opaque.Compare(b.opaque) }

// AuthorityID identifies a signing authority: an account-level identity
// that can appear as a transport endpoint and a capability subject.
type AuthorityID struct{ opaque }

// NewAuthorityID creates an AuthorityID from entropy.
func NewAuthorityID(r io.Reader) (AuthorityID, error) {
	o, err := newOpaqueFromEntropy(r)
	return AuthorityID{o}, err
}

// AuthorityIDFromSeed derives an AuthorityID deterministically from a seed.
func AuthorityIDFromSeed(seed string) AuthorityID { return AuthorityID{opaqueFromSeed(seed)} }

// ParseAuthorityID parses the hex form of an AuthorityID.
func ParseAuthorityID(s string) (AuthorityID, error) {
	o, err := parseOpaque(s)
	return AuthorityID{o}, err
}

// Compare orders AuthorityIDs bytewise.
func (a AuthorityID) Compare(b AuthorityID) int { return a.opaque.Compare(b.opaque) }

// ContextID identifies an application context (a scope for channels and
// CGKA groups) within an account.
type ContextID struct{ opaque }

// NewContextID creates a ContextID from entropy.
func NewContextID(r io.Reader) (ContextID, error) {
	o, err := newOpaqueFromEntropy(r)
	return ContextID{o}, err
}

// ContextIDFromSeed derives a ContextID deterministically from a seed.
func ContextIDFromSeed(seed string) ContextID { return ContextID{opaqueFromSeed(seed)} }

// ParseContextID parses the hex form of a ContextID.
func ParseContextID(s string) (ContextID, error) {
	o, err := parseOpaque(s)
	return ContextID{o}, err
}

// ChannelID identifies a message channel within a context.
type ChannelID struct{ opaque }

// NewChannelID creates a ChannelID from entropy.
func NewChannelID(r io.Reader) (ChannelID, error) {
	o, err := newOpaqueFromEntropy(r)
	return ChannelID{o}, err
}

// ChannelIDFromSeed derives a ChannelID deterministically from a seed.
func ChannelIDFromSeed(seed string) ChannelID { return ChannelID{opaqueFromSeed(seed)} }

// ParseChannelID parses the hex form of a ChannelID.
func ParseChannelID(s string) (ChannelID, error) {
	o, err := parseOpaque(s)
	return ChannelID{o}, err
}

// SessionID names one in-flight execution of a choreography. Session
// IDs are UUID-shaped: production mints UUIDv4, simulation mints
// deterministic UUIDs from the seeded random source.
type SessionID struct{ opaque }

// NewSessionID creates a SessionID from entropy.
func NewSessionID(r io.Reader) (SessionID, error) {
	o, err := newOpaqueFromEntropy(r)
	return SessionID{o}, err
}

// SessionIDFromUUID converts a UUID into a SessionID.
func SessionIDFromUUID(u uuid.UUID) SessionID {
	var o opaque
	copy(o.b[:], u[:])
	return SessionID{o}
}

// SessionIDFromSeed derives a SessionID deterministically from a seed.
func SessionIDFromSeed(seed string) SessionID { return SessionID{opaqueFromSeed(seed)} }

// ParseSessionID parses the hex form of a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	o, err := parseOpaque(s)
	return SessionID{o}, err
}

// UUID returns the session ID reinterpreted as a UUID for transport
// metadata and logging.
func (s SessionID) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], s.b[:])
	return u
}

// InvitationID identifies a pending invitation.
type InvitationID struct{ opaque }

// NewInvitationID creates an InvitationID from entropy.
func NewInvitationID(r io.Reader) (InvitationID, error) {
	o, err := newOpaqueFromEntropy(r)
	return InvitationID{o}, err
}

// InvitationIDFromSeed derives an InvitationID deterministically from a seed.
func InvitationIDFromSeed(seed string) InvitationID { return InvitationID{opaqueFromSeed(seed)} }

// ParseInvitationID parses the hex form of an InvitationID.
func ParseInvitationID(s string) (InvitationID, error) {
	o, err := parseOpaque(s)
	return InvitationID{o}, err
}

// GuardianID identifies an external guardian named at key-generation
// time for account recovery.
type GuardianID struct{ opaque }

// NewGuardianID creates a GuardianID from entropy.
func NewGuardianID(r io.Reader) (GuardianID, error) {
	o, err := newOpaqueFromEntropy(r)
	return GuardianID{o}, err
}

// GuardianIDFromSeed derives a GuardianID deterministically from a seed.
func GuardianIDFromSeed(seed string) GuardianID { return GuardianID{opaqueFromSeed(seed)} }

// ParseGuardianID parses the hex form of a GuardianID.
func ParseGuardianID(s string) (GuardianID, error) {
	o, err := parseOpaque(s)
	return GuardianID{o}, err
}

// Compare orders GuardianIDs bytewise.
func (a GuardianID) Compare(b GuardianID) int { return a.opaque.Compare(b.opaque) }

// CapabilityID identifies a capability delegation in the authority
// graph. Revocations name delegations by this ID.
type CapabilityID struct{ opaque }

// NewCapabilityID creates a CapabilityID from entropy.
func NewCapabilityID(r io.Reader) (CapabilityID, error) {
	o, err := newOpaqueFromEntropy(r)
	return CapabilityID{o}, err
}

// CapabilityIDFromSeed derives a CapabilityID deterministically from a seed.
func CapabilityIDFromSeed(seed string) CapabilityID { return CapabilityID{opaqueFromSeed(seed)} }

// ParseCapabilityID parses the hex form of a CapabilityID.
func ParseCapabilityID(s string) (CapabilityID, error) {
	o, err := parseOpaque(s)
	return CapabilityID{o}, err
}

// Compare orders CapabilityIDs bytewise.
func (a CapabilityID) Compare(b CapabilityID) int { return a.opaque.Compare(b.opaque) }

// RelationshipID identifies a contact relationship in the social
// projection of the journal.
type RelationshipID struct{ opaque }

// NewRelationshipID creates a RelationshipID from entropy.
func NewRelationshipID(r io.Reader) (RelationshipID, error) {
	o, err := newOpaqueFromEntropy(r)
	return RelationshipID{o}, err
}

// RelationshipIDFromSeed derives a RelationshipID deterministically from a seed.
func RelationshipIDFromSeed(seed string) RelationshipID {
	return RelationshipID{opaqueFromSeed(seed)}
}

// ParseRelationshipID parses the hex form of a RelationshipID.
func ParseRelationshipID(s string) (RelationshipID, error) {
	o, err := parseOpaque(s)
	return RelationshipID{o}, err
}
