// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/aura-foundation/aura/lib/authority"
	"github.com/aura-foundation/aura/lib/codec"
	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
	"github.com/aura-foundation/aura/lib/journal"
	"github.com/aura-foundation/aura/lib/threshold"
)

// Wire type names of the device-enrollment choreography.
const (
	MsgEnrollmentShare = "enrollment_share"
	MsgEnrollmentAck   = "enrollment_ack"
)

// DeviceEnrollmentAckFactType is the journal record committed when a
// new device confirms receipt of its share.
const DeviceEnrollmentAckFactType = "aura.device_enrollment_ack.v1"

// EnrollmentConfig describes one device-enrollment run.
type EnrollmentConfig struct {
	KeyID     string
	Account   ident.AccountID
	NewDevice ident.DeviceID

	// NewDeviceAuthority is where the sealed share is sent.
	NewDeviceAuthority ident.AuthorityID

	// ShareIndex is the holder index dealt to the new device.
	ShareIndex uint16

	Context ident.ContextID
}

// EnrollmentShare is the offer sent to the joining device. The share
// itself travels sealed; this frame only carries routing facts.
type EnrollmentShare struct {
	KeyID       string         `cbor:"1,keyasint"`
	ShareIndex  uint16         `cbor:"2,keyasint"`
	NewDevice   ident.DeviceID `cbor:"3,keyasint"`
	SealedShare []byte         `cbor:"4,keyasint"`
}

// EnrollmentAck is the joining device's confirmation.
type EnrollmentAck struct {
	KeyID      string         `cbor:"1,keyasint"`
	ShareIndex uint16         `cbor:"2,keyasint"`
	Device     ident.DeviceID `cbor:"3,keyasint"`
}

// OfferEnrollment sends a sealed key share to a joining device. The
// caller seals the share before it gets here; this path never sees
// plaintext key material. Guarded by session:enroll for the
// initiating device.
func (k *Kernel) OfferEnrollment(ctx context.Context, initiator authority.Subject, config EnrollmentConfig, sealedShare []byte) error {
	scope := authority.NewScope(authority.NamespaceSession, "enroll")
	if err := k.Guard(initiator, scope); err != nil {
		return err
	}

	payload, err := codec.Marshal(EnrollmentShare{
		KeyID:       config.KeyID,
		ShareIndex:  config.ShareIndex,
		NewDevice:   config.NewDevice,
		SealedShare: sealedShare,
	})
	if err != nil {
		return fmt.Errorf("encoding enrollment share: %w", err)
	}
	envelopeID, err := k.bundle.GenUUID()
	if err != nil {
		return fmt.Errorf("minting envelope id: %w", err)
	}
	envelope := effects.Envelope{
		ID:          envelopeID,
		Destination: config.NewDeviceAuthority,
		Source:      k.self,
		Context:     config.Context,
		Payload:     payload,
		Metadata: map[string]string{
			effects.MetadataTypeKey: MsgEnrollmentShare,
		},
	}
	if err := k.bundle.Transport.SendEnvelope(ctx, envelope); err != nil {
		return &TransportError{Destination: config.NewDeviceAuthority, Cause: err}
	}
	k.bundle.Logger().Info("enrollment share offered",
		"key_id", config.KeyID,
		"share_index", config.ShareIndex,
		"new_device", config.NewDevice)
	return nil
}

// AcceptEnrollment runs on the joining device: decode the offer,
// hand the sealed share to the store callback, and answer with an
// acknowledgment. The limited participant role can only receive its
// own share; offers for other devices are rejected.
func (k *Kernel) AcceptEnrollment(ctx context.Context, envelope effects.Envelope, self ident.DeviceID, storeShare func(EnrollmentShare) error) error {
	if envelope.Metadata[effects.MetadataTypeKey] != MsgEnrollmentShare {
		return fmt.Errorf("envelope %s is not an enrollment share: %w", envelope.ID, ErrInvalid)
	}
	var offer EnrollmentShare
	if err := codec.Unmarshal(envelope.Payload, &offer); err != nil {
		return fmt.Errorf("decoding enrollment share: %w", err)
	}
	if offer.NewDevice.Compare(self) != 0 {
		return fmt.Errorf("share addressed to %s, this device is %s: %w", offer.NewDevice, self, ErrInvalid)
	}
	if err := storeShare(offer); err != nil {
		return fmt.Errorf("storing enrollment share: %w", err)
	}

	payload, err := codec.Marshal(EnrollmentAck{
		KeyID:      offer.KeyID,
		ShareIndex: offer.ShareIndex,
		Device:     self,
	})
	if err != nil {
		return fmt.Errorf("encoding enrollment ack: %w", err)
	}
	envelopeID, err := k.bundle.GenUUID()
	if err != nil {
		return fmt.Errorf("minting envelope id: %w", err)
	}
	ack := effects.Envelope{
		ID:          envelopeID,
		Destination: envelope.Source,
		Source:      k.self,
		Context:     envelope.Context,
		Payload:     payload,
		Metadata: map[string]string{
			effects.MetadataTypeKey: MsgEnrollmentAck,
		},
	}
	if err := k.bundle.Transport.SendEnvelope(ctx, ack); err != nil {
		return &TransportError{Destination: envelope.Source, Cause: err}
	}
	return nil
}

// CompleteEnrollment runs on the initiating device when the ack
// arrives: record the holder's acknowledgment with the threshold core
// and commit a DeviceEnrollmentAck fact. The fact is written after
// the core accepts, so the journal never claims an enrollment the key
// family rejected.
func (k *Kernel) CompleteEnrollment(ctx context.Context, envelope effects.Envelope, core *threshold.Core, log *journal.Journal, factSigner ed25519.PrivateKey) error {
	if envelope.Metadata[effects.MetadataTypeKey] != MsgEnrollmentAck {
		return fmt.Errorf("envelope %s is not an enrollment ack: %w", envelope.ID, ErrInvalid)
	}
	var ack EnrollmentAck
	if err := codec.Unmarshal(envelope.Payload, &ack); err != nil {
		return fmt.Errorf("decoding enrollment ack: %w", err)
	}
	if err := core.AcknowledgeEnrollment(ack.ShareIndex); err != nil {
		return fmt.Errorf("acknowledging share %d: %w", ack.ShareIndex, err)
	}

	payload, err := codec.Marshal(ack)
	if err != nil {
		return fmt.Errorf("encoding enrollment fact: %w", err)
	}
	fact, err := journal.NewFact(k.bundle.Crypto, factSigner, DeviceEnrollmentAckFactType,
		authority.DeviceSubject(ack.Device), k.bundle.NowUnix(), payload)
	if err != nil {
		return err
	}
	if _, err := log.Append(ctx, fact); err != nil {
		return fmt.Errorf("committing enrollment fact: %w", err)
	}
	k.bundle.Logger().Info("device enrollment completed",
		"key_id", ack.KeyID,
		"share_index", ack.ShareIndex,
		"device", ack.Device)
	return nil
}
