package server

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Event names exchanged over the WebSocket. They are the wire contract with
// the browser client and must not change.
const (
	EventConnect          = "connect"
	EventNewUser          = "newUser"
	EventNameChange       = "nameChange"
	EventNewConnection    = "newConnection"
	EventNameChanged      = "nameChanged"
	EventUserDisconnected = "userDisconnected"
	EventIncomingMessage  = "incomingMessage"
)

// systemSender marks notifications generated by the server itself.
const systemSender = "system"

// Envelope is the JSON frame carried by every WebSocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Participant is one connected client as shown in the roster.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Connected tells a freshly upgraded connection which id it was assigned.
type Connected struct {
	ID string `json:"id"`
}

// PresenceSubmission is the inbound payload of newUser and nameChange.
// ID is informational only; the connection id always wins.
type PresenceSubmission struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Roster is the full participant list sent after every join.
type Roster struct {
	Participants []Participant `json:"participants"`
}

// NameChanged announces a rename.
type NameChanged struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParticipantDisconnected announces that a connection went away.
type ParticipantDisconnected struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
}

// ChatMessage is a relayed chat line. It is never stored.
type ChatMessage struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// encodeEvent renders payload inside an Envelope ready to be queued.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", event)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s envelope", event)
	}
	return frame, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
