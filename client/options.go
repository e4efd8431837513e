package client

import (
	"time"

	"github.com/luma/tsq/transport"
)

// Option configures a Conn before it connects.
type Option func(*Conn)

// WithDialFunc swaps out the plain-TCP transport, e.g. for a connection
// carried through an SSH tunnel. The engine only ever uses the returned
// stream as a duplex byte pipe.
func WithDialFunc(dial transport.DialFunc) Option {
	return func(c *Conn) {
		c.dial = dial
	}
}

// WithGreetingLines overrides how many banner lines are consumed after
// connecting. The server query service sends two; the client-side query
// plugin sends four.
func WithGreetingLines(n int) Option {
	return func(c *Conn) {
		c.greetingLines = n
	}
}

// WithKeepaliveInterval enables automatic keepalives: whenever the
// connection has been idle for the given duration, a keepalive line is
// written in the background. The server disconnects idle query clients
// after 10 minutes, so anything comfortably below that works; zero
// (the default) disables the loop and leaves keepalives to the caller.
func WithKeepaliveInterval(interval time.Duration) Option {
	return func(c *Conn) {
		c.keepaliveEvery = interval
	}
}
