// Copyright 2026 The Aura Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"io"
	"net"
	"sync"
	"time"
)

var _ net.Conn = (*ChannelConn)(nil)

// ChannelConn presents a detached data channel stream as a net.Conn.
// SCTP handles fragmentation and reassembly underneath, so the stream
// behaves like TCP to anything layered on top.
//
// Deadlines close the underlying stream when they fire, unblocking
// pending I/O. A fired deadline breaks the conn permanently, the same
// contract net.Pipe keeps.
type ChannelConn struct {
	stream     io.ReadWriteCloser
	localName  string
	remoteName string

	mu      sync.Mutex
	timers  [2]*time.Timer // read, write
	expired bool
}

// NewChannelConn wraps a detached data channel stream. The names
// identify the endpoints in addresses and logs.
func NewChannelConn(stream io.ReadWriteCloser, localName, remoteName string) *ChannelConn {
	return &ChannelConn{
		stream:     stream,
		localName:  localName,
		remoteName: remoteName,
	}
}

func (c *ChannelConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *ChannelConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *ChannelConn) Close() error {
	c.mu.Lock()
	for i, timer := range c.timers {
		if timer != nil {
			timer.Stop()
			c.timers[i] = nil
		}
	}
	c.mu.Unlock()
	return c.stream.Close()
}

func (c *ChannelConn) LocalAddr() net.Addr  { return channelAddr(c.localName) }
func (c *ChannelConn) RemoteAddr() net.Addr { return channelAddr(c.remoteName) }

// SetDeadline sets both read and write deadlines. Zero clears them.
func (c *ChannelConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(0, deadline)
	c.armLocked(1, deadline)
	return nil
}

// SetReadDeadline sets the read deadline. Zero clears it.
func (c *ChannelConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(0, deadline)
	return nil
}

// SetWriteDeadline sets the write deadline. Zero clears it.
func (c *ChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(1, deadline)
	return nil
}

func (c *ChannelConn) armLocked(slot int, deadline time.Time) {
	if c.timers[slot] != nil {
		c.timers[slot].Stop()
		c.timers[slot] = nil
	}
	if deadline.IsZero() || c.expired {
		return
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		c.expireLocked()
		return
	}
	c.timers[slot] = time.AfterFunc(wait, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expireLocked()
	})
}

// expireLocked closes the stream to unblock pending I/O. Callers hold
// c.mu.
func (c *ChannelConn) expireLocked() {
	if c.expired {
		return
	}
	c.expired = true
	c.stream.Close()
}

// channelAddr is a synthetic net.Addr naming a data channel endpoint.
type channelAddr string

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return string(a) }
