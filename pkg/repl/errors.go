package repl

import "errors"

var (
	// ErrSessionClosed is returned when submitting to a closed session
	ErrSessionClosed = errors.New("session is closed")

	// ErrInterpreterStart is returned when the interpreter cannot be launched or
	// does not complete its handshake
	ErrInterpreterStart = errors.New("failed to start interpreter")

	// ErrProtocol is returned when the interpreter sends an unexpected message
	ErrProtocol = errors.New("interpreter protocol error")
)
