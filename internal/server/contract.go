package server

//go:generate mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks

// Sender is the delivery side of one connection as seen by the hub.
// The hub only calls these methods from its Run loop.
type Sender interface {
	// ID returns the transport-assigned connection id.
	ID() string
	// Enqueue offers a frame without blocking. It reports false when the
	// connection's queue is full or already closed.
	Enqueue(frame []byte) bool
	// Close closes the outbound queue; the write pump then closes the socket.
	Close()
}

// Broadcaster delivers one event to every open connection.
type Broadcaster interface {
	Broadcast(event string, payload any) error
}
