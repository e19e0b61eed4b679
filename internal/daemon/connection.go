package daemon

import (
	"context"
	"errors"

	"github.com/gfreires/feira/internal/auth"
	"github.com/gfreires/feira/internal/realtime"
	"github.com/gfreires/feira/internal/status"
)

// ErrNotConnected is returned when a queued send is attempted without a
// live connection, so the outbox keeps the entry for the next tick.
var ErrNotConnected = errors.New("realtime connection not established")

// Connection binds the realtime manager to the token source. It is the
// daemon's implementation of both the control API's connection surface
// and the outbox's message sender.
type Connection struct {
	manager *realtime.Manager
	source  *auth.Source
}

// NewConnection creates the connection adapter.
func NewConnection(manager *realtime.Manager, source *auth.Source) *Connection {
	return &Connection{manager: manager, source: source}
}

// State reports the current connection state.
func (c *Connection) State() status.State {
	return c.manager.State()
}

// SessionID reports the server-assigned session id, if connected.
func (c *Connection) SessionID() string {
	return c.manager.SessionID()
}

// Connect dials using the current access token.
func (c *Connection) Connect(ctx context.Context) error {
	pair := c.source.Current()
	if !pair.Valid() {
		return auth.ErrNoCredentials
	}
	return c.manager.Connect(ctx, pair.AccessToken)
}

// Disconnect closes the connection.
func (c *Connection) Disconnect() {
	c.manager.Disconnect()
}

// Reconnect tears down and re-dials, keeping event handlers.
func (c *Connection) Reconnect(ctx context.Context) error {
	return c.manager.Reconnect(ctx)
}

// Send pushes a queued message over the live connection.
func (c *Connection) Send(ctx context.Context, conversationID, content, tempID string) error {
	if c.manager.State() != status.Connected {
		return ErrNotConnected
	}
	return c.manager.Emit(ctx, realtime.SendMessage(conversationID, content, tempID))
}

// Manager exposes the underlying realtime manager for event binding.
func (c *Connection) Manager() *realtime.Manager {
	return c.manager
}
