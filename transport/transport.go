// Package transport provides the byte-stream seam between the protocol
// engine and whatever actually carries the bytes. The engine only ever
// needs a duplex stream; establishing it over plain TCP lives here,
// anything fancier (an SSH-tunneled channel, a proxied socket) plugs in
// as a DialFunc from the outside.
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Stream is the duplex byte stream the protocol engine runs on.
type Stream = io.ReadWriteCloser

// DialFunc establishes a stream to addr. It matches the shape of
// net.Dialer.DialContext so a tunneled transport can be dropped in
// without adapters.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

const DefaultDialTimeout = 10 * time.Second

// Dialer is the default plain-TCP transport.
type Dialer struct {
	// Timeout bounds the connection attempt. Zero means
	// DefaultDialTimeout, not unbounded.
	Timeout time.Duration
}

func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	nd := &net.Dialer{Timeout: timeout}
	return nd.DialContext(ctx, network, addr)
}

// Dial is the DialFunc of a zero-value Dialer.
func Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &Dialer{}
	return d.DialContext(ctx, network, addr)
}
