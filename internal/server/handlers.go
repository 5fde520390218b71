package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// messageRequest is the body of POST /message.
type messageRequest struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Handlers are the HTTP endpoints of the room.
type Handlers struct {
	hub         *Hub
	relay       *Relay
	upgrader    websocket.Upgrader
	maxBodySize int64
	log         *zap.Logger
}

// NewHandlers wires the endpoints to hub, using cfg for the origin policy.
func NewHandlers(hub *Hub, cfg Config, log *zap.Logger) *Handlers {
	log = log.Named("http")
	policy := newOriginPolicy(cfg.AllowedOrigins, log)

	return &Handlers{
		hub:   hub,
		relay: NewRelay(hub, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		maxBodySize: cfg.MaxBodySize,
		log:         log,
	}
}

// WebSocket upgrades the request and registers the new connection with the
// hub, which starts its pumps and sends it its id.
func (h *Handlers) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, c.Request.RemoteAddr)

	select {
	case h.hub.register <- client:
	case <-h.hub.ctx.Done():
		_ = conn.Close()
	}
}

// PostMessage relays a chat message to everyone in the room.
func (h *Handlers) PostMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Debug("message submission too large", zap.Int64("limit", tooLarge.Limit))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Message is too large"})
			return
		}
		h.log.Debug("malformed message submission", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is invalid"})
		return
	}

	switch err := h.relay.Submit(req.Message, req.Name); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Message received!"})
	case errors.Is(err, ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is invalid"})
	case errors.Is(err, ErrHubClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Message could not be delivered"})
	}
}

// Health reports liveness and the current participant count.
func (h *Handlers) Health(c *gin.Context) {
	c.Header("X-Participants", strconv.Itoa(h.hub.ParticipantCount()))
	c.String(http.StatusOK, "roomchat server is running!")
}

// Index serves the browser client.
func (h *Handlers) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; display: flex; gap: 20px; }
        #chat { flex: 3; }
        #participants { flex: 1; border-left: 1px solid #ccc; padding-left: 10px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; background-color: #f9f9f9; }
        textarea { width: 100%; height: 60px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:disabled { background-color: #999; }
    </style>
</head>
<body>
    <div id="chat">
        <label>Your name <input type="text" id="name" value="Anonymous"></label>
        <textarea id="outgoingMessage" placeholder="Share something..."></textarea>
        <button id="send" disabled>Send</button>
        <div id="messages"></div>
    </div>
    <div id="participants"></div>

    <script>
        const nameInput = document.getElementById('name');
        const outgoing = document.getElementById('outgoingMessage');
        const sendButton = document.getElementById('send');
        const messages = document.getElementById('messages');
        const participants = document.getElementById('participants');
        let sessionId = '';

        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');

        function emit(event, data) {
            ws.send(JSON.stringify({ event: event, data: data }));
        }

        function label(p) {
            return p.name + (p.id === sessionId ? ' (You)' : '');
        }

        function renderRoster(list) {
            participants.textContent = '';
            for (const p of list) {
                const row = document.createElement('div');
                row.id = p.id;
                row.textContent = label(p);
                participants.appendChild(row);
            }
        }

        const handlers = {
            connect: function (data) {
                sessionId = data.id;
                emit('newUser', { id: sessionId, name: nameInput.value });
            },
            newConnection: function (data) { renderRoster(data.participants); },
            nameChanged: function (data) {
                const row = document.getElementById(data.id);
                if (row) { row.textContent = label(data); }
            },
            userDisconnected: function (data) {
                const row = document.getElementById(data.id);
                if (row) { row.remove(); }
            },
            incomingMessage: function (data) {
                const entry = document.createElement('div');
                const who = document.createElement('b');
                who.textContent = data.name;
                entry.appendChild(who);
                entry.appendChild(document.createElement('br'));
                entry.appendChild(document.createTextNode(data.message));
                entry.appendChild(document.createElement('hr'));
                messages.prepend(entry);
            }
        };

        ws.onmessage = function (event) {
            const env = JSON.parse(event.data);
            const handle = handlers[env.event];
            if (handle) { handle(env.data || {}); }
        };

        function sendMessage() {
            fetch('/message', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ message: outgoing.value, name: nameInput.value })
            });
            outgoing.value = '';
            sendButton.disabled = true;
        }

        outgoing.addEventListener('keyup', function () {
            sendButton.disabled = outgoing.value.trim().length === 0;
        });
        outgoing.addEventListener('keydown', function (e) {
            if (e.key === 'Enter') {
                e.preventDefault();
                if (outgoing.value.trim().length > 0) { sendMessage(); }
            }
        });
        sendButton.addEventListener('click', sendMessage);
        nameInput.addEventListener('focusout', function () {
            emit('nameChange', { id: sessionId, name: nameInput.value });
        });
    </script>
</body>
</html>`
