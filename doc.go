// Package kephasmmo is the persistence backend for a multiplayer game: it terminates player and
// game-server connections, authenticates sessions, and owns the social state shared between
// connections (accounts online, guild membership, party membership, which game-server instance
// hosts which character).
//
// # Architecture
//
// Bytes arrive on a connection (websocket or raw TCP), the dispatcher splits them into
// opcode records and calls the registered handlers on the connection's read goroutine. Handlers
// only decode their payload and enqueue an action. A single consumer goroutine runs the actions
// one at a time, in submission order; it is the only code that reads or mutates the session
// directory, guilds and parties.
//
//	conn read loop ──► dispatch.Dispatcher ──► queue.Queue ──► session / guild / party
//	                                                   │
//	                                                   └──► Conn.Send (fire-and-forget)
//
// # Protocol Format
//
// A physical message holds one or more records:
//
//	[1 byte: Opcode][opcode-specific payload]
//
// Integers and floats are fixed-width little-endian, booleans one byte, strings a little-endian
// int32 length followed by UTF-8 bytes. Over TCP each physical message is prefixed with its
// int32 little-endian length.
//
// # Rate Limiting
//
// Each connection has an independent token bucket:
//
//	// Default: 100 messages/second, burst 200
//	rl := kephasmmo.DefaultRateLimitConfig()
//
//	// Disabled
//	rl := kephasmmo.NoRateLimit()
//
// A websocket client that exceeds the limit is closed with 1008 (Policy Violation).
//
// # Sessions
//
// Logging in with a password yields a cookie: the client half of a bcrypt hash whose other half
// never leaves the server. The cookie table survives the disconnect a client goes through when it
// travels to a game server, so the client and the game server can both present the cookie later.
package kephasmmo
