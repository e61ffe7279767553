// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package choreo

import (
	"fmt"
	"time"
)

// Role names one party of a choreography from the program's point of
// view. Indexed members of a role family print as "Family(i)".
type Role string

// FamilyRole returns the indexed member role of a family, so one
// choreography serves variable fan-in.
func FamilyRole(family string, index int) Role {
	return Role(fmt.Sprintf("%s(%d)", family, index))
}

// StepKind discriminates program steps.
type StepKind uint8

const (
	// StepSend emits one message to a peer (or one per family member).
	StepSend StepKind = iota + 1

	// StepReceive suspends until the expected message arrives from the
	// peer (or from every family member).
	StepReceive

	// StepChoose asks the adapter's decider to pick a branch.
	StepChoose

	// StepOffer waits for the peer's branch choice, identified by the
	// type of the next message from that peer.
	StepOffer

	// StepSleep pauses the session for a fixed duration.
	StepSleep

	// StepEnd finishes the current branch, or the session at top level.
	StepEnd
)

// Step is one transition of a role's state machine. Peer names the
// counterparty; Family, when set, expands the step across the
// adapter's family members. Type is the wire name of the message
// (it becomes the envelope's metadata type). Branches hold the
// continuations of choose and offer steps.
type Step struct {
	Kind     StepKind
	Peer     Role
	Family   string
	Type     string
	Duration time.Duration
	Branches map[string][]Step
}

// Program is a single role's complete view of a choreography.
type Program struct {
	Role  Role
	Steps []Step
}

// Send builds a send step.
func Send(to Role, msgType string) Step {
	return Step{Kind: StepSend, Peer: to, Type: msgType}
}

// SendEach builds a send step fanning out to every member of a family.
func SendEach(family, msgType string) Step {
	return Step{Kind: StepSend, Family: family, Type: msgType}
}

// Receive builds a receive step.
func Receive(from Role, msgType string) Step {
	return Step{Kind: StepReceive, Peer: from, Type: msgType}
}

// ReceiveEach builds a receive step that waits for one message of the
// given type from every member of a family.
func ReceiveEach(family, msgType string) Step {
	return Step{Kind: StepReceive, Family: family, Type: msgType}
}

// Choose builds a branch point resolved by the adapter's decider.
func Choose(branches map[string][]Step) Step {
	return Step{Kind: StepChoose, Branches: branches}
}

// Offer builds a branch point resolved by the peer's next message:
// the branch whose label matches the message type is taken.
func Offer(from Role, branches map[string][]Step) Step {
	return Step{Kind: StepOffer, Peer: from, Branches: branches}
}

// Sleep builds a timed pause. The session reports OutcomeSleep with
// the wake time; stepping after the wake time advances past it.
func Sleep(d time.Duration) Step {
	return Step{Kind: StepSleep, Duration: d}
}

// End builds the terminal step.
func End() Step {
	return Step{Kind: StepEnd}
}
