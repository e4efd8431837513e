package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tsq/protocol"
	"github.com/luma/tsq/transport"
)

const (
	// EventBufferSize bounds how many undelivered events the engine
	// holds before the read loop applies backpressure.
	EventBufferSize = 255

	// ResponseBufferSize bounds unclaimed responses the same way.
	ResponseBufferSize = 16

	// DefaultGreetingLines is the number of banner lines the server
	// query service sends after the connection is established.
	DefaultGreetingLines = 2
)

var (
	ErrTimeout          = errors.New("timed out waiting for the server")
	ErrClosed           = errors.New("the connection is closed")
	ErrConnectionLost   = errors.New("the server closed the connection")
	ErrAlreadyConnected = errors.New("the client is already connected")
	ErrNotConnected     = errors.New("the client is not connected")
)

// State describes the connection lifecycle. Closing is terminal; a Conn
// is not reusable after it.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn is one ServerQuery control connection. See the package docs for
// the concurrency model. A Conn must be created with New.
type Conn struct {
	log  *zap.Logger
	dial transport.DialFunc

	greetingLines  int
	keepaliveEvery time.Duration

	// mu serialises writes and guards state, pending and lastActive.
	mu         sync.Mutex
	state      State
	stream     transport.Stream
	pending    []bool // FIFO, true = engine discards the response
	lastActive time.Time

	host string

	responses chan *protocol.Response
	events    chan *protocol.Event

	closing   chan struct{}
	closeErr  error
	closeOnce sync.Once
}

func New(log *zap.Logger, options ...Option) *Conn {
	c := &Conn{
		log:           log,
		dial:          transport.Dial,
		greetingLines: DefaultGreetingLines,
		responses:     make(chan *protocol.Response, ResponseBufferSize),
		events:        make(chan *protocol.Event, EventBufferSize),
		closing:       make(chan struct{}),
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// Connect dials addr ("host:port"), consumes the greeting banner and
// starts the reader goroutine. The context bounds the dial and the
// greeting read.
func (c *Conn) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateDisconnected {
		return ErrAlreadyConnected
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	stream, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", addr, err)
	}

	c.host = host
	if err := c.attach(ctx, stream); err != nil {
		stream.Close()
		return err
	}

	c.log.Info("Connected to query service", zap.String("addr", addr))
	return nil
}

// Attach adopts an already-established duplex stream, e.g. a channel
// through an SSH tunnel. The greeting banner is still expected and
// consumed.
func (c *Conn) Attach(ctx context.Context, stream transport.Stream) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateDisconnected {
		return ErrAlreadyConnected
	}
	return c.attach(ctx, stream)
}

func (c *Conn) attach(ctx context.Context, stream transport.Stream) error {
	scanner := bufio.NewScanner(stream)
	scanner.Split(protocol.ScanLines)

	if err := c.skipGreeting(ctx, stream, scanner); err != nil {
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.state = StateConnected
	c.lastActive = time.Now()
	c.mu.Unlock()

	go c.readLoop(scanner)

	if c.keepaliveEvery > 0 {
		go c.keepaliveLoop()
	}

	return nil
}

// skipGreeting consumes the banner lines the service prints before it
// accepts queries. When the stream supports read deadlines the context
// deadline is applied so a silent peer cannot hang Connect forever.
func (c *Conn) skipGreeting(ctx context.Context, stream transport.Stream, scanner *bufio.Scanner) error {
	type deadliner interface {
		SetReadDeadline(t time.Time) error
	}

	if d, ok := stream.(deadliner); ok {
		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			if err := d.SetReadDeadline(deadline); err != nil {
				return fmt.Errorf("failed to set greeting deadline: %w", err)
			}
			defer func() {
				_ = d.SetReadDeadline(time.Time{})
			}()
		}
	}

	for i := 0; i < c.greetingLines; i++ {
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = ErrConnectionLost
			}
			return fmt.Errorf("failed to read greeting: %w", err)
		}
		c.log.Debug("Greeting", zap.String("line", scanner.Text()))
	}

	return nil
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteHost is the host part of the dialed address. File transfers use
// it as the fallback when the server does not announce a usable address
// of its own. Empty for attached streams.
func (c *Conn) RemoteHost() string {
	return c.host
}

// Send encodes and writes the query. It never waits for the reply; the
// caller claims it with Recv, in FIFO order with every other Send.
func (c *Conn) Send(q *protocol.Query) error {
	return c.send(q, false)
}

// SendIgnoreResponse writes the query in fire-and-forget mode. The
// engine consumes and discards the eventual response itself so the
// stream stays in sync, and no Recv must be paired with this call.
func (c *Conn) SendIgnoreResponse(q *protocol.Query) error {
	return c.send(q, true)
}

func (c *Conn) send(q *protocol.Query, discard bool) error {
	line, err := q.Compile()
	if err != nil {
		return err
	}

	c.log.Debug("Sending query", zap.String("query", line), zap.Bool("discard", discard))

	c.mu.Lock()
	if c.state != StateConnected {
		defer c.mu.Unlock()
		return c.notConnectedLocked()
	}

	_, writeErr := c.stream.Write([]byte(line + "\n\r"))
	if writeErr == nil {
		c.pending = append(c.pending, discard)
		c.lastActive = time.Now()
	}
	c.mu.Unlock()

	if writeErr != nil {
		// A write failure is fatal to the connection, never retried.
		c.shutdown(fmt.Errorf("failed to write query: %w", writeErr))
		return fmt.Errorf("failed to write query: %w", writeErr)
	}
	return nil
}

// SendKeepalive writes a bare line whose only purpose is resetting the
// server's idle timer. The server sends nothing back for it, so no
// pending entry is tracked. Call it more often than the server's idle
// window (10 minutes), or let WithKeepaliveInterval do it for you.
func (c *Conn) SendKeepalive() error {
	c.mu.Lock()
	if c.state != StateConnected {
		defer c.mu.Unlock()
		return c.notConnectedLocked()
	}

	_, writeErr := c.stream.Write([]byte("\n\r"))
	if writeErr == nil {
		c.lastActive = time.Now()
	}
	c.mu.Unlock()

	if writeErr != nil {
		c.shutdown(fmt.Errorf("failed to write keepalive: %w", writeErr))
		return fmt.Errorf("failed to write keepalive: %w", writeErr)
	}
	return nil
}

// Recv blocks until the response to the oldest unclaimed query is
// complete. An expired context returns ErrTimeout (deadline) or the
// context error (cancellation) and leaves the response claimable by a
// later Recv. A closed connection returns the terminal error instead.
func (c *Conn) Recv(ctx context.Context) (*protocol.Response, error) {
	// A response that completed before the connection died is still
	// worth delivering.
	select {
	case resp := <-c.responses:
		return resp, nil
	default:
	}

	select {
	case resp := <-c.responses:
		return resp, nil
	case <-ctx.Done():
		return nil, timeoutErr(ctx)
	case <-c.closing:
		// The engine delivers every completed response before it closes
		// the closing channel, so drain once more before giving up.
		select {
		case resp := <-c.responses:
			return resp, nil
		default:
		}
		return nil, c.terminalErr()
	}
}

// Exec sends the query and waits for its response. The returned error
// covers transport and timeout failures only: a nonzero server status
// is data, inspect resp.Status (or use its Err method) to branch on it.
func (c *Conn) Exec(ctx context.Context, q *protocol.Query) (*protocol.Response, error) {
	if err := c.Send(q); err != nil {
		return nil, err
	}
	return c.Recv(ctx)
}

// WaitForEvent blocks until the oldest undelivered event arrives.
// Events are delivered strictly in arrival order. Timeout semantics
// match Recv.
func (c *Conn) WaitForEvent(ctx context.Context) (*protocol.Event, error) {
	select {
	case event := <-c.events:
		return event, nil
	default:
	}

	select {
	case event := <-c.events:
		return event, nil
	case <-ctx.Done():
		return nil, timeoutErr(ctx)
	case <-c.closing:
		select {
		case event := <-c.events:
			return event, nil
		default:
		}
		return nil, c.terminalErr()
	}
}

// Close sends a best-effort quit, tears the connection down and
// releases every blocked Recv and WaitForEvent with ErrClosed. It is
// idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateConnected {
		// The server hangs up on quit anyway; a failed write here
		// changes nothing about the teardown.
		_, _ = c.stream.Write([]byte("quit\n\r"))
	}
	c.mu.Unlock()

	err := c.shutdown(nil)

	c.log.Debug("Connection closed")
	return err
}

// shutdown performs the one-and-only transition to StateClosing. cause
// is the terminal error waiters will observe; nil means a deliberate
// Close.
func (c *Conn) shutdown(cause error) error {
	var streamErr error

	c.closeOnce.Do(func() {
		if cause == nil {
			cause = ErrClosed
		}

		c.mu.Lock()
		wasConnected := c.state == StateConnected
		c.state = StateClosing
		c.closeErr = cause
		stream := c.stream
		c.mu.Unlock()

		close(c.closing)

		if wasConnected && stream != nil {
			streamErr = stream.Close()
		}
	})

	return streamErr
}

// terminalErr is what released waiters receive. closeErr is written
// exactly once, under mu and before the closing channel is closed, so
// it is safe to read either under mu (the send path) or after the
// closing channel fires (the wait paths).
func (c *Conn) terminalErr() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrClosed
}

func (c *Conn) notConnectedLocked() error {
	if c.state == StateClosing {
		return c.terminalErr()
	}
	return ErrNotConnected
}

func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// readLoop is the only reader of the stream. It assembles response
// blocks, routes events and resolves the FIFO pending queue.
func (c *Conn) readLoop(scanner *bufio.Scanner) {
	log := c.log.Named("readLoop")

	var block []string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if protocol.IsEventLine(line) {
			event, err := protocol.ParseEvent(line)
			if err != nil {
				log.Error("Protocol desynchronized", zap.String("line", line), zap.Error(err))
				c.shutdown(fmt.Errorf("protocol desynchronized: %w", err))
				return
			}

			select {
			case c.events <- event:
			case <-c.closing:
				return
			}
			continue
		}

		block = append(block, line)
		if !protocol.IsStatusLine(line) {
			continue
		}

		resp, err := protocol.ParseResponse(block)
		block = nil
		if err != nil {
			log.Error("Protocol desynchronized", zap.Error(err))
			c.shutdown(fmt.Errorf("protocol desynchronized: %w", err))
			return
		}

		if c.popPending() {
			log.Debug("Discarding response", zap.Int("status", resp.Status.Code))
			continue
		}

		select {
		case c.responses <- resp:
		case <-c.closing:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrConnectionLost
	} else {
		err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	// A read failure after a deliberate Close is just the stream being
	// torn down under the scanner; shutdown is a no-op then.
	c.shutdown(err)
}

// popPending removes the oldest pending entry and reports whether its
// response should be discarded. A response with no matching query means
// the stream is ahead of us; dropping it is the only move that cannot
// corrupt later correlation.
func (c *Conn) popPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		c.log.Warn("Received a response with no outstanding query, dropping it")
		return true
	}

	discard := c.pending[0]
	c.pending = c.pending[1:]
	return discard
}

// keepaliveLoop sends a keepalive whenever the connection has been idle
// for the configured interval. It runs until the connection closes.
func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(c.keepaliveEvery / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastActive)
			c.mu.Unlock()

			if idle < c.keepaliveEvery {
				continue
			}
			if err := c.SendKeepalive(); err != nil {
				return
			}
		case <-c.closing:
			return
		}
	}
}
