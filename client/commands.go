package client

import (
	"context"

	"github.com/luma/tsq/protocol"
)

// Typed wrappers for the handful of queries almost every session needs.
// They are deliberately thin: build a query, execute it, surface a
// nonzero status as a *protocol.QueryError. Anything not covered here
// goes through Exec with a hand-built protocol.Query.

// execOK executes the query and folds a command-level failure into the
// returned error.
func (c *Conn) execOK(ctx context.Context, q *protocol.Query) (*protocol.Response, error) {
	resp, err := c.Exec(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp, resp.Status.Err()
}

// Login authenticates the query session.
func (c *Conn) Login(ctx context.Context, user, password string) error {
	_, err := c.execOK(ctx, protocol.NewQuery("login").
		Param("client_login_name", user).
		Param("client_login_password", password))
	return err
}

// Logout drops the session's authentication without disconnecting.
func (c *Conn) Logout(ctx context.Context) error {
	_, err := c.execOK(ctx, protocol.NewQuery("logout"))
	return err
}

// Use selects the virtual server the session operates on.
func (c *Conn) Use(ctx context.Context, serverID int) error {
	_, err := c.execOK(ctx, protocol.NewQuery("use").Param("sid", serverID))
	return err
}

// Version returns the server's version record.
func (c *Conn) Version(ctx context.Context) (protocol.Record, error) {
	resp, err := c.execOK(ctx, protocol.NewQuery("version"))
	if err != nil {
		return nil, err
	}
	return resp.First(), nil
}

// Whoami returns the session's own connection record. Also a handy
// introspection no-op for resetting the idle timer when a caller wants
// a keepalive whose reply confirms the server is still alive.
func (c *Conn) Whoami(ctx context.Context) (protocol.Record, error) {
	resp, err := c.execOK(ctx, protocol.NewQuery("whoami"))
	if err != nil {
		return nil, err
	}
	return resp.First(), nil
}

// ClientList lists the clients connected to the selected virtual
// server. Options such as "uid", "away" or "groups" request extra
// columns.
func (c *Conn) ClientList(ctx context.Context, options ...string) ([]protocol.Record, error) {
	q := protocol.NewQuery("clientlist")
	for _, option := range options {
		q.Option(option)
	}

	resp, err := c.execOK(ctx, q)
	if err != nil {
		return nil, err
	}
	return resp.All(), nil
}

// ClientKick kicks one or more clients in a single pipelined query.
// reasonID 4 kicks from the channel, 5 from the server.
func (c *Conn) ClientKick(ctx context.Context, reasonID int, reasonMsg string, clientIDs ...int) error {
	clids := make([]interface{}, len(clientIDs))
	for i, id := range clientIDs {
		clids[i] = id
	}

	q := protocol.NewQuery("clientkick").Param("reasonid", reasonID)
	if reasonMsg != "" {
		q.Param("reasonmsg", reasonMsg)
	}
	q.ParamList("clid", clids...)

	_, err := c.execOK(ctx, q)
	return err
}

// SendTextMessage sends a chat message. targetMode is 1 for a client,
// 2 for a channel, 3 for the whole virtual server.
func (c *Conn) SendTextMessage(ctx context.Context, targetMode, target int, msg string) error {
	_, err := c.execOK(ctx, protocol.NewQuery("sendtextmessage").
		Param("targetmode", targetMode).
		Param("target", target).
		Param("msg", msg))
	return err
}

// ServerNotifyRegister subscribes the session to an event source:
// "server", "channel", "textserver", "textchannel" or "textprivate".
// Channel sources take the channel id, everything else ignores it.
// Delivered notifications surface through WaitForEvent.
func (c *Conn) ServerNotifyRegister(ctx context.Context, eventSource string, channelID int) error {
	q := protocol.NewQuery("servernotifyregister").Param("event", eventSource)
	if eventSource == "channel" || eventSource == "textchannel" {
		q.Param("id", channelID)
	}

	_, err := c.execOK(ctx, q)
	return err
}

// ServerNotifyUnregister drops every notification subscription of the
// session.
func (c *Conn) ServerNotifyUnregister(ctx context.Context) error {
	_, err := c.execOK(ctx, protocol.NewQuery("servernotifyunregister"))
	return err
}
