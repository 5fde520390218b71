package server

import (
	"strings"

	"go.uber.org/zap"
)

// Relay turns chat submissions into incomingMessage broadcasts. The sender
// name is taken as given and never checked against the registry, so a stale
// or spoofed name goes through unchanged.
type Relay struct {
	dispatcher Broadcaster
	log        *zap.Logger
}

// NewRelay returns a Relay that fans out through dispatcher.
func NewRelay(dispatcher Broadcaster, log *zap.Logger) *Relay {
	return &Relay{dispatcher: dispatcher, log: log.Named("relay")}
}

// Submit validates body and broadcasts it with name. Acceptance does not mean
// every recipient got the message.
func (r *Relay) Submit(body, name string) error {
	if strings.TrimSpace(body) == "" {
		return ErrInvalidMessage
	}

	if err := r.dispatcher.Broadcast(EventIncomingMessage, ChatMessage{Message: body, Name: name}); err != nil {
		r.log.Error("relay broadcast failed", zap.String("name", name), zap.Error(err))
		return err
	}
	r.log.Debug("message relayed", zap.String("name", name), zap.Int("bytes", len(body)))
	return nil
}
