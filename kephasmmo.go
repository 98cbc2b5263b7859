package kephasmmo

import "context"

// Server is a transport that accepts connections and feeds them to a Handler.
//
// Both the websocket and the TCP transports implement it.
type Server interface {
	// Start begins listening. It returns once the listener is up, or with the error that
	// prevented it from coming up.
	Start(ctx context.Context) error

	// Stop closes the listener and every open connection. Each closed connection still
	// raises its Disconnected event.
	Stop(ctx context.Context) error
}

// Conn represents one physical session with a player client or a game server.
//
// Each connection has a unique identifier for its whole lifetime. The connection's context is
// cancelled when it closes.
type Conn interface {
	// ID returns a unique identifier for the connection.
	ID() string

	// RemoteAddr returns the peer address, typically "IP:port".
	RemoteAddr() string

	// Context returns the connection's lifecycle context.
	Context() context.Context

	// Send queues an encoded message for delivery.
	//
	// Send never blocks. If the connection is closed the message is dropped; if the outbound
	// buffer is full the connection is closed, which the caller observes later as a
	// Disconnected event.
	Send(msg []byte)

	// Close closes the connection gracefully.
	Close(ctx context.Context) error

	// IsAlive reports whether the connection is still open.
	IsAlive() bool
}

// Handler receives the lifecycle events and inbound messages of every connection.
//
// Transports call HandleConnected once after the connection opens, HandleMessage for each
// physical message, and HandleDisconnected exactly once after it closes. All calls for a given
// connection come from that connection's read goroutine.
type Handler interface {
	HandleConnected(conn Conn)

	// HandleMessage consumes every record in data. A non-nil error is a protocol violation
	// and the transport closes the connection.
	HandleMessage(conn Conn, data []byte) error

	HandleDisconnected(conn Conn)
}
