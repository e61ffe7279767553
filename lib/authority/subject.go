// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"
	"strings"

	"github.com/aura-foundation/aura/lib/ident"
)

// SubjectKind discriminates the principal types a capability can name.
type SubjectKind uint8

const (
	// SubjectDevice is a single enrolled device.
	SubjectDevice SubjectKind = iota + 1
	// SubjectAuthority is an account-level signing authority.
	SubjectAuthority
	// SubjectGuardian is an external recovery guardian.
	SubjectGuardian
	// SubjectGeneric is a scope-based role tag used by group
	// eligibility computation.
	SubjectGeneric
)

// Subject is the principal evaluated against the graph. Exactly one
// of the value fields is set, selected by Kind.
type Subject struct {
	Kind      SubjectKind       `cbor:"1,keyasint"`
	Device    ident.DeviceID    `cbor:"2,keyasint,omitempty"`
	Authority ident.AuthorityID `cbor:"3,keyasint,omitempty"`
	Guardian  ident.GuardianID  `cbor:"4,keyasint,omitempty"`
	Generic   string            `cbor:"5,keyasint,omitempty"`
}

// DeviceSubject names a device principal.
func DeviceSubject(id ident.DeviceID) Subject {
	return Subject{Kind: SubjectDevice, Device: id}
}

// AuthoritySubject names an authority principal.
func AuthoritySubject(id ident.AuthorityID) Subject {
	return Subject{Kind: SubjectAuthority, Authority: id}
}

// GuardianSubject names a guardian principal.
func GuardianSubject(id ident.GuardianID) Subject {
	return Subject{Kind: SubjectGuardian, Guardian: id}
}

// GenericSubject names a role tag principal.
func GenericSubject(tag string) Subject {
	return Subject{Kind: SubjectGeneric, Generic: tag}
}

// key returns the canonical map key for this subject.
func (s Subject) key() string {
	switch s.Kind {
	case SubjectDevice:
		return "device\x00" + s.Device.String()
	case SubjectAuthority:
		return "authority\x00" + s.Authority.String()
	case SubjectGuardian:
		return "guardian\x00" + s.Guardian.String()
	case SubjectGeneric:
		return "generic\x00" + s.Generic
	default:
		return fmt.Sprintf("invalid\x00%d", s.Kind)
	}
}

// Equal reports bytewise principal equality.
func (s Subject) Equal(other Subject) bool {
	return s.key() == other.key()
}

// Compare orders subjects totally: by kind, then by value bytes.
func (s Subject) Compare(other Subject) int {
	if s.Kind != other.Kind {
		if s.Kind < other.Kind {
			return -1
		}
		return 1
	}
	return strings.Compare(s.key(), other.key())
}

// String renders "kind:value".
func (s Subject) String() string {
	switch s.Kind {
	case SubjectDevice:
		return "device:" + s.Device.String()
	case SubjectAuthority:
		return "authority:" + s.Authority.String()
	case SubjectGuardian:
		return "guardian:" + s.Guardian.String()
	case SubjectGeneric:
		return "generic:" + s.Generic
	default:
		return fmt.Sprintf("invalid:%d", s.Kind)
	}
}
