package server

import "github.com/pkg/errors"

var (
	// ErrInvalidMessage is returned by the relay when a chat body is absent or
	// blank after trimming.
	ErrInvalidMessage = errors.New("message is invalid")

	// ErrNotFound is returned by the registry for ids it does not hold.
	ErrNotFound = errors.New("participant not found")

	// ErrHubClosed is returned when an operation reaches a hub that has shut down.
	ErrHubClosed = errors.New("hub is closed")
)
