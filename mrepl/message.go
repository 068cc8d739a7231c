package mrepl

import "github.com/google/uuid"

// Reserved slot names. Every message carries SlotOp and SlotID; SlotSession
// is optional on requests and echoed on responses. All other slots are
// operation-specific and opaque to the core.
const (
	SlotOp      = "op"
	SlotID      = "id"
	SlotSession = "session"
	SlotStatus  = "status"
	SlotPrinter = "printer"
)

// Message is one protocol message: an open, extensible mapping of named
// slots. Requests and responses share the same shape.
type Message map[string]any

// NewMessage builds a request message for op with a fresh message id.
func NewMessage(op string) Message {
	return Message{SlotOp: op, SlotID: uuid.NewString()}
}

// Op returns the operation name, or "" if the slot is absent or not a string.
func (m Message) Op() string { return m.str(SlotOp) }

// ID returns the message identifier, or "".
func (m Message) ID() string { return m.str(SlotID) }

// Session returns the session identifier, or "" when the message is not
// bound to a session.
func (m Message) Session() string { return m.str(SlotSession) }

// StringSlot returns the named slot when it is present and a string.
func (m Message) StringSlot(name string) (string, bool) {
	v, ok := m[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m Message) str(name string) string {
	s, _ := m.StringSlot(name)
	return s
}

// Clone returns a shallow copy of the message. Slot values are shared;
// mutating the copy's slot set does not affect the original.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Statuses returns the status slot as a list of status strings. A bare
// string status is returned as a one-element list.
func (m Message) Statuses() []string {
	switch v := m[SlotStatus].(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasStatus reports whether the message's status slot contains status.
func (m Message) HasStatus(status string) bool {
	for _, s := range m.Statuses() {
		if s == status {
			return true
		}
	}
	return false
}

// Response builds a response message correlated to req: the request's id
// and session slots are carried over, nothing else.
func Response(req Message) Message {
	resp := Message{}
	if id := req.ID(); id != "" {
		resp[SlotID] = id
	}
	if sess := req.Session(); sess != "" {
		resp[SlotSession] = sess
	}
	return resp
}

// ResponseStatus builds a response carrying only the given statuses.
func ResponseStatus(req Message, statuses ...string) Message {
	resp := Response(req)
	resp[SlotStatus] = statuses
	return resp
}
