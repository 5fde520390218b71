package server

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// connState tracks where a connection is in the presence protocol.
type connState int

const (
	stateConnecting connState = iota
	stateJoined
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateJoined:
		return "joined"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type presenceCommand struct {
	event string
	id    string
	name  string
	done  chan struct{}
}

// Join records id under name and sends the full roster to every connection,
// the joiner included.
func (h *Hub) Join(id, name string) error {
	cmd := presenceCommand{event: EventNewUser, id: id, name: name, done: make(chan struct{})}
	return submit(h, h.presence, cmd, cmd.done)
}

// Rename changes the display name of id and announces it to every connection.
// An unknown id is logged and dropped.
func (h *Hub) Rename(id, name string) error {
	cmd := presenceCommand{event: EventNameChange, id: id, name: name, done: make(chan struct{})}
	return submit(h, h.presence, cmd, cmd.done)
}

// leave hands a closed connection back to the hub. It does not wait.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) handlePresence(cmd presenceCommand) {
	switch cmd.event {
	case EventNewUser:
		roster := h.registry.Join(cmd.id, cmd.name)
		h.log.Info("participant joined",
			zap.String("id", cmd.id),
			zap.String("name", cmd.name),
			zap.Int("participants", len(roster)))
		h.emit(EventNewConnection, Roster{Participants: roster})

	case EventNameChange:
		changed, err := h.registry.Rename(cmd.id, cmd.name)
		if err != nil {
			h.log.Warn("rename dropped", zap.String("id", cmd.id), zap.Error(err))
			return
		}
		h.log.Info("participant renamed", zap.String("id", cmd.id), zap.String("name", cmd.name))
		h.emit(EventNameChanged, changed)

	default:
		h.log.Error("unknown presence command", zap.String("event", cmd.event))
	}
}

// handleDisconnect removes a closed connection from the set and the registry
// and tells the remaining connections about it.
func (h *Hub) handleDisconnect(id string) {
	h.detach(id)

	gone, err := h.registry.Remove(id)
	if errors.Is(err, ErrNotFound) {
		h.log.Debug("disconnect without join", zap.String("id", id))
		return
	}
	h.log.Info("participant disconnected",
		zap.String("id", id),
		zap.Int("participants", h.registry.Len()))
	h.emit(EventUserDisconnected, gone)
}

// emit encodes and dispatches from inside the Run loop.
func (h *Hub) emit(event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.dispatch(frame)
}
