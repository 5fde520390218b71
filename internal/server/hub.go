package server

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// broadcastMessage is an encoded frame waiting to be fanned out by the hub.
type broadcastMessage struct {
	frame []byte
	done  chan struct{}
}

// Hub owns the live connection set and the participant registry of the room.
// Registration, presence changes and broadcasts are all funnelled through Run,
// so every mutation and the broadcast it triggers happen in one global order.
type Hub struct {
	cfg      Config
	log      *zap.Logger
	registry *Registry

	// clients is only touched by the Run goroutine.
	clients map[string]Sender

	register   chan *Client
	unregister chan *Client
	presence   chan presenceCommand
	broadcast  chan broadcastMessage

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(cfg Config, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		log:        log.Named("hub"),
		registry:   NewRegistry(),
		clients:    make(map[string]Sender),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   make(chan presenceCommand),
		broadcast:  make(chan broadcastMessage),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Snapshot returns the current roster.
func (h *Hub) Snapshot() []Participant {
	return h.registry.Snapshot()
}

// ParticipantCount returns the number of joined participants.
func (h *Hub) ParticipantCount() int {
	return h.registry.Len()
}

// Run starts the hub's event loop. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleDisconnect(client.ID())

		case cmd := <-h.presence:
			h.handlePresence(cmd)
			close(cmd.done)

		case msg := <-h.broadcast:
			h.dispatch(msg.frame)
			close(msg.done)
		}
	}
}

// Broadcast encodes the event once and delivers it to every open connection.
// It returns when the frame has been offered to all of them, not when it has
// been written.
func (h *Hub) Broadcast(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	msg := broadcastMessage{frame: frame, done: make(chan struct{})}
	return submit(h, h.broadcast, msg, msg.done)
}

// submit hands v to the Run loop and waits until it has been processed.
func submit[T any](h *Hub, ch chan T, v T, processed <-chan struct{}) error {
	select {
	case ch <- v:
	case <-h.ctx.Done():
		return ErrHubClosed
	}
	select {
	case <-processed:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn("received nil client registration; skipping")
		return
	}

	h.attach(client)
	h.log.Info("client registered",
		zap.String("id", client.ID()),
		zap.String("addr", client.addr),
		zap.Int("clients", len(h.clients)))

	if frame, err := encodeEvent(EventConnect, Connected{ID: client.ID()}); err != nil {
		h.log.Error("encode connect event", zap.Error(err))
	} else {
		client.Enqueue(frame)
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) attach(s Sender) {
	h.clients[s.ID()] = s
}

// detach drops the connection from the set and closes its queue.
func (h *Hub) detach(id string) bool {
	s, ok := h.clients[id]
	if !ok {
		return false
	}
	delete(h.clients, id)
	s.Close()
	return true
}

// dispatch offers frame to a snapshot of the connection set and returns the
// number of connections that accepted it.
func (h *Hub) dispatch(frame []byte) int {
	recipients := h.getClientSnapshot()
	failed := h.broadcastToClients(recipients, frame)
	h.removeFailedClients(failed)

	h.log.Debug("broadcast dispatched",
		zap.Int("recipients", len(recipients)),
		zap.Int("failed", len(failed)))
	return len(recipients) - len(failed)
}

func (h *Hub) getClientSnapshot() []Sender {
	return lo.Values(h.clients)
}

// broadcastToClients offers frame to every recipient independently and
// returns the ones that refused it.
func (h *Hub) broadcastToClients(recipients []Sender, frame []byte) []Sender {
	var failed []Sender
	for _, s := range recipients {
		if !s.Enqueue(frame) {
			failed = append(failed, s)
		}
	}
	return failed
}

func (h *Hub) removeFailedClients(failed []Sender) {
	for _, s := range failed {
		if h.detach(s.ID()) {
			h.log.Warn("connection dropped: send queue full or closed", zap.String("id", s.ID()))
		}
	}
}

// shutdownClients closes every outbound queue; the write pumps then close the
// sockets and the read pumps exit.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	ids := lo.Keys(h.clients)
	for _, id := range ids {
		h.detach(id)
	}

	h.log.Info("closed client connections", zap.Int("count", len(ids)))
}

// Shutdown stops the hub and waits for Run and all connection goroutines to
// finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()

	done := make(chan struct{})
	go func() {
		// No pump is started once Run has returned.
		<-h.done
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
