package kephasmmo

import "errors"

// Transport errors shared by the websocket and TCP servers.
var (
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrMessageTooLarge      = errors.New("message exceeds the size limit")
	ErrRateLimited          = errors.New("rate limit exceeded")
)
