// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/aura-foundation/aura/lib/effects"
	"github.com/aura-foundation/aura/lib/ident"
)

// Ladder rung names, in priority order.
const (
	RungDirect    = "direct"
	RungSTUN      = "stun"
	RungHolePunch = "hole_punch"
	RungRelay     = "relay"
)

// ErrNoPath means every enabled rung of the ladder failed.
var ErrNoPath = errors.New("no connection path to peer")

// answerPollInterval is how often the offerer polls for an answer.
const answerPollInterval = 250 * time.Millisecond

// offerPollInterval is how often Serve polls for inbound offers.
const offerPollInterval = time.Second

// gatherTimeout bounds ICE candidate gathering for one description.
const gatherTimeout = 15 * time.Second

// channelOpenTimeout bounds waiting for a fresh data channel to open.
const channelOpenTimeout = 10 * time.Second

// NoPathError reports a fully failed ladder with the per-rung causes.
type NoPathError struct {
	Peer     ident.AuthorityID
	Attempts map[string]error
}

func (e *NoPathError) Error() string {
	rungs := make([]string, 0, len(e.Attempts))
	for rung := range e.Attempts {
		rungs = append(rungs, rung)
	}
	return fmt.Sprintf("peer %s unreachable after %s: %v", e.Peer, strings.Join(rungs, ", "), ErrNoPath)
}

func (e *NoPathError) Unwrap() error { return ErrNoPath }

// rung is one strategy on the ladder.
type rung struct {
	name    string
	servers []webrtc.ICEServer
	policy  webrtc.ICETransportPolicy
	punch   bool
}

// peerLink is one live PeerConnection to a remote authority.
type peerLink struct {
	pc          *webrtc.PeerConnection
	peer        ident.AuthorityID
	established chan struct{}
}

// Dialer establishes and pools peer connections. One Dialer serves one
// local authority; Connect opens a fresh data channel per call,
// reusing a live PeerConnection when one exists.
type Dialer struct {
	bundle   *effects.Effects
	signaler Signaler
	self     ident.AuthorityID
	config   ConnectionConfig

	mu    sync.Mutex
	links map[string]*peerLink

	inbound   chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
	labels    atomic.Uint64
}

// NewDialer wires a dialer for the given authority. The configuration
// must validate; a bad ladder is a deployment error, not a dial error.
func NewDialer(bundle *effects.Effects, signaler Signaler, self ident.AuthorityID, config ConnectionConfig) (*Dialer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("connection config: %w", err)
	}
	return &Dialer{
		bundle:   bundle,
		signaler: signaler,
		self:     self,
		config:   config,
		links:    make(map[string]*peerLink),
		inbound:  make(chan net.Conn, 64),
		closed:   make(chan struct{}),
	}, nil
}

// rungs assembles the ladder from the configuration. Direct is always
// first; the rest follow the enable flags in priority order.
func (d *Dialer) rungs() []rung {
	stun := make([]webrtc.ICEServer, 0, len(d.config.STUNServers))
	if len(d.config.STUNServers) > 0 {
		stun = append(stun, webrtc.ICEServer{URLs: d.config.STUNServers})
	}
	relay := make([]webrtc.ICEServer, 0, len(d.config.RelayServers))
	for _, server := range d.config.RelayServers {
		relay = append(relay, webrtc.ICEServer{
			URLs:       []string{server.URI},
			Username:   server.Username,
			Credential: server.Password,
		})
	}

	ladder := []rung{{name: RungDirect}}
	if d.config.EnableSTUN {
		ladder = append(ladder, rung{name: RungSTUN, servers: stun})
	}
	if d.config.EnableHolePunch {
		ladder = append(ladder, rung{name: RungHolePunch, servers: stun, punch: true})
	}
	if d.config.EnableRelayFallback {
		ladder = append(ladder, rung{
			name:    RungRelay,
			servers: relay,
			policy:  webrtc.ICETransportPolicyRelay,
		})
	}
	return ladder
}

func (d *Dialer) rungByName(name string) (rung, bool) {
	for _, r := range d.rungs() {
		if r.name == name {
			return r, true
		}
	}
	return rung{}, false
}

// Connect returns a stream to the peer, walking the ladder if no live
// PeerConnection exists. Each rung gets AttemptTimeout; the walk as a
// whole gets TotalTimeout.
func (d *Dialer) Connect(ctx context.Context, peer ident.AuthorityID) (net.Conn, error) {
	select {
	case <-d.closed:
		return nil, net.ErrClosed
	default:
	}

	link, err := d.linkTo(ctx, peer)
	if err != nil {
		return nil, err
	}
	select {
	case <-link.established:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closed:
		return nil, net.ErrClosed
	}
	return d.openChannel(link)
}

// Inbound returns the stream of connections opened by remote peers.
// Serve must be running for it to produce anything.
func (d *Dialer) Inbound() <-chan net.Conn { return d.inbound }

// Close tears down every PeerConnection.
func (d *Dialer) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, link := range d.links {
		link.pc.Close()
		delete(d.links, key)
	}
	return nil
}

// linkTo returns a live link to the peer, running the ladder when none
// exists. Concurrent callers share one establishment attempt.
func (d *Dialer) linkTo(ctx context.Context, peer ident.AuthorityID) (*peerLink, error) {
	key := peer.String()
	d.mu.Lock()
	if link, ok := d.links[key]; ok {
		state := link.pc.ICEConnectionState()
		if state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed {
			d.mu.Unlock()
			return link, nil
		}
		link.pc.Close()
		delete(d.links, key)
	}
	d.mu.Unlock()

	deadline := time.Now().Add(d.config.TotalTimeout)
	attempts := make(map[string]error)
	for _, r := range d.rungs() {
		if time.Now().After(deadline) {
			break
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
		link, err := d.climb(attemptCtx, peer, r)
		cancel()
		if err == nil {
			d.mu.Lock()
			d.links[key] = link
			d.mu.Unlock()
			d.bundle.Logger().Info("rendezvous established",
				"peer", peer,
				"rung", r.name)
			return link, nil
		}
		attempts[r.name] = err
		d.bundle.Logger().Warn("rendezvous rung failed",
			"peer", peer,
			"rung", r.name,
			"error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &NoPathError{Peer: peer, Attempts: attempts}
}

// climb runs one rung as the offerer: gather, publish the offer with a
// fresh punch nonce, wait for the answer, coordinate the punch delay
// when the rung calls for it, then wait for ICE to connect.
func (d *Dialer) climb(ctx context.Context, peer ident.AuthorityID, r rung) (*peerLink, error) {
	pc, err := d.newPeerConnection(r)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	link := &peerLink{pc: pc, peer: peer, established: make(chan struct{})}
	d.watchLink(link)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		d.acceptChannel(dc, peer)
	})

	// A throwaway channel forces a data channel section into the SDP.
	if _, err := pc.CreateDataChannel("bootstrap", nil); err != nil {
		pc.Close()
		return nil, fmt.Errorf("creating bootstrap channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		pc.Close()
		return nil, fmt.Errorf("candidate gathering timed out after %s", gatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	nonce, err := NewPunchNonce(d.bundle.Random)
	if err != nil {
		pc.Close()
		return nil, err
	}
	signal := Signal{
		SDP:        pc.LocalDescription().SDP,
		PunchNonce: nonce,
		Rung:       r.name,
	}
	if err := d.signaler.PublishOffer(ctx, d.self, peer, signal); err != nil {
		pc.Close()
		return nil, fmt.Errorf("publishing offer: %w", err)
	}

	answer, err := d.awaitAnswer(ctx, peer)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if r.punch {
		schedule, err := DerivePunchSchedule(nonce, answer.PunchNonce, d.config.Punch)
		if err != nil {
			pc.Close()
			return nil, err
		}
		// Both sides pause the same nonce-derived offset before
		// starting connectivity checks, so the first binding requests
		// cross in flight.
		select {
		case <-time.After(schedule.StartDelay):
		case <-ctx.Done():
			pc.Close()
			return nil, ctx.Err()
		}
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	select {
	case <-link.established:
		return link, nil
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	case <-d.closed:
		pc.Close()
		return nil, net.ErrClosed
	}
}

// awaitAnswer polls the signaler until the peer answers or the attempt
// budget runs out.
func (d *Dialer) awaitAnswer(ctx context.Context, peer ident.AuthorityID) (Signal, error) {
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Signal{}, fmt.Errorf("waiting for answer from %s: %w", peer, ctx.Err())
		case <-d.closed:
			return Signal{}, net.ErrClosed
		case <-ticker.C:
			answers, err := d.signaler.PollAnswers(ctx, d.self)
			if err != nil {
				d.bundle.Logger().Warn("polling answers", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.Peer.Compare(peer) == 0 {
					return answer, nil
				}
			}
		}
	}
}

// Serve answers inbound offers until ctx is done. Remote data channels
// surface on Inbound.
func (d *Dialer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(offerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closed:
			return nil
		case <-ticker.C:
			offers, err := d.signaler.PollOffers(ctx, d.self)
			if err != nil {
				d.bundle.Logger().Warn("polling offers", "error", err)
				continue
			}
			for _, offer := range offers {
				if err := d.answer(ctx, offer); err != nil {
					d.bundle.Logger().Warn("answering offer",
						"peer", offer.Peer,
						"rung", offer.Rung,
						"error", err)
				}
			}
		}
	}
}

// answer responds to one inbound offer on the rung it names. When both
// sides race to offer, the smaller authority id is the canonical
// offerer and the other side's attempt is torn down.
func (d *Dialer) answer(ctx context.Context, offer Signal) error {
	key := offer.Peer.String()
	d.mu.Lock()
	if existing, ok := d.links[key]; ok {
		state := existing.pc.ICEConnectionState()
		live := state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed
		if live && offer.Peer.Compare(d.self) > 0 {
			d.mu.Unlock()
			return nil
		}
		existing.pc.Close()
		delete(d.links, key)
	}
	d.mu.Unlock()

	r, ok := d.rungByName(offer.Rung)
	if !ok {
		return fmt.Errorf("offer names disabled rung %q", offer.Rung)
	}
	pc, err := d.newPeerConnection(r)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	link := &peerLink{pc: pc, peer: offer.Peer, established: make(chan struct{})}
	d.watchLink(link)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		d.acceptChannel(dc, offer.Peer)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		pc.Close()
		return fmt.Errorf("candidate gathering timed out after %s", gatherTimeout)
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	nonce, err := NewPunchNonce(d.bundle.Random)
	if err != nil {
		pc.Close()
		return err
	}
	if r.punch {
		schedule, err := DerivePunchSchedule(nonce, offer.PunchNonce, d.config.Punch)
		if err != nil {
			pc.Close()
			return err
		}
		// Hold the answer back by the shared offset; the offerer waits
		// the same offset after reading it.
		select {
		case <-time.After(schedule.StartDelay):
		case <-ctx.Done():
			pc.Close()
			return ctx.Err()
		}
	}
	if err := d.signaler.PublishAnswer(ctx, offer.Peer, d.self, Signal{
		SDP:        pc.LocalDescription().SDP,
		PunchNonce: nonce,
		Rung:       r.name,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("publishing answer: %w", err)
	}

	d.mu.Lock()
	d.links[key] = link
	d.mu.Unlock()
	d.bundle.Logger().Info("rendezvous answered",
		"peer", offer.Peer,
		"rung", r.name)
	return nil
}

// watchLink tracks ICE state for one link: established closes on
// Connected, dead links leave the pool.
func (d *Dialer) watchLink(link *peerLink) {
	link.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			select {
			case <-link.established:
			default:
				close(link.established)
			}
		case webrtc.ICEConnectionStateClosed:
			d.mu.Lock()
			if current, ok := d.links[link.peer.String()]; ok && current == link {
				delete(d.links, link.peer.String())
			}
			d.mu.Unlock()
		}
	})
}

// acceptChannel surfaces a remote-opened data channel on Inbound. The
// bootstrap channel never carries data and is closed on sight.
func (d *Dialer) acceptChannel(dc *webrtc.DataChannel, peer ident.AuthorityID) {
	if dc.Label() == "bootstrap" {
		dc.OnOpen(func() { dc.Close() })
		return
	}
	dc.OnOpen(func() {
		stream, err := dc.Detach()
		if err != nil {
			d.bundle.Logger().Error("detaching inbound channel",
				"peer", peer,
				"label", dc.Label(),
				"error", err)
			return
		}
		conn := NewChannelConn(stream,
			d.self.String()+"/"+dc.Label(),
			peer.String()+"/"+dc.Label())
		select {
		case d.inbound <- conn:
		case <-d.closed:
			conn.Close()
		}
	})
}

// openChannel opens a fresh ordered channel on a live link.
func (d *Dialer) openChannel(link *peerLink) (net.Conn, error) {
	label := fmt.Sprintf("stream-%d", d.labels.Add(1))
	ordered := true
	dc, err := link.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating channel %s: %w", label, err)
	}

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
	case <-time.After(channelOpenTimeout):
		dc.Close()
		return nil, fmt.Errorf("channel %s did not open within %s", label, channelOpenTimeout)
	case <-d.closed:
		dc.Close()
		return nil, net.ErrClosed
	}

	stream, err := dc.Detach()
	if err != nil {
		dc.Close()
		return nil, fmt.Errorf("detaching channel %s: %w", label, err)
	}
	return NewChannelConn(stream,
		d.self.String()+"/"+label,
		link.peer.String()+"/"+label), nil
}

// newPeerConnection builds a pion PeerConnection for one rung. Detach
// is required for stream access; loopback candidates keep same-machine
// and test topologies working.
func (d *Dialer) newPeerConnection(r rung) (*webrtc.PeerConnection, error) {
	settings := webrtc.SettingEngine{}
	settings.DetachDataChannels()
	settings.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         r.servers,
		ICETransportPolicy: r.policy,
	})
}
