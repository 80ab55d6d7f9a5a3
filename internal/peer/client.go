// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package peer

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// Client sends Data packets to a single upstream parent. It carries no
// persistent connection state, so a single Client is safe to reuse
// concurrently across many independent Send calls.
type Client struct {
	timeout time.Duration
	nextID  atomic.Uint64
}

// NewClient returns a Client that applies timeout to both connect and
// the subsequent read/write of one packet exchange.
func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Send dials addr, writes a Data packet carrying sid and body, and
// waits for exactly one Response. It returns the response body, or a
// CommError-class error wrapping the underlying connect/IO failure.
// Send never retries: the caller decides whether to try again.
func (c *Client) Send(addr, sid string, body model.DataBody) (model.ResponseBody, error) {
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return model.ResponseBody{}, fmt.Errorf("peer: cannot connect to %s: %w", addr, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	pkt := model.Packet{
		Header: model.Header{
			ID:   c.nextID.Add(1),
			SID:  sid,
			TS:   time.Now().UTC().Format(time.RFC3339Nano),
			Type: model.PacketData,
		},
		Data: &body,
	}

	if err := WritePacket(conn, pkt); err != nil {
		return model.ResponseBody{}, fmt.Errorf("peer: cannot send to %s: %w", addr, err)
	}

	resp, err := ReadPacket(conn, DefaultMaxFrameSize)
	if err != nil {
		return model.ResponseBody{}, fmt.Errorf("peer: cannot read response from %s: %w", addr, err)
	}
	if resp.Response == nil {
		return model.ResponseBody{}, fmt.Errorf("peer: %s replied without a response body", addr)
	}

	return *resp.Response, nil
}
