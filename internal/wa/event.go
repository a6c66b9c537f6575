package wa

import "github.com/lfcamargo/wadash/internal/store"

// Event is the closed set of notifications an Adapter delivers to its
// handler. Everything the rest of the daemon learns about the WhatsApp
// connection arrives as one of these; raw whatsmeow events never leave
// this package.
type Event interface {
	isEvent()
}

// PairingCode carries a fresh QR payload while the session is unpaired.
// A new code replaces the previous one; only the latest is valid.
type PairingCode struct {
	Code string
}

// ConnectionUp fires once the socket is open and authenticated.
type ConnectionUp struct {
	Identity string // own phone number, when known
}

// ConnectionDown fires when the socket drops for any recoverable reason.
type ConnectionDown struct {
	Reason string
}

// LoggedOut fires when the server invalidates the credentials. This is
// terminal: reconnecting with the same credentials cannot succeed.
type LoggedOut struct {
	Reason string
}

// Contact is a name mapping recovered from a history sync.
type Contact struct {
	JID  string
	Name string
}

// ChatSnapshot is per-chat metadata recovered from a history sync.
type ChatSnapshot struct {
	JID           string
	Name          string
	UnreadCount   int
	LastMessageAt int64
}

// HistoryBatch is one normalized history sync payload: contacts first,
// then chats, then messages, so consumers can apply them in order.
type HistoryBatch struct {
	Contacts []Contact
	Chats    []ChatSnapshot
	Messages []*store.Message
}

// LiveMessage is a single normalized incoming or echoed message.
type LiveMessage struct {
	Message  *store.Message
	ChatName string // push name of the sender, may be empty
}

// Receipt reports a delivery-state change for previously sent messages.
type Receipt struct {
	ChatJID    string
	MessageIDs []string
	Status     string // store.StatusDelivered or store.StatusRead
}

// Presence reports a contact going online or offline.
type Presence struct {
	ChatJID  string
	Online   bool
	LastSeen int64 // unix millis, only meaningful when Online is false
}

// ChatPresence reports typing state in a chat.
type ChatPresence struct {
	ChatJID string
	Typing  bool
}

func (PairingCode) isEvent()    {}
func (ConnectionUp) isEvent()   {}
func (ConnectionDown) isEvent() {}
func (LoggedOut) isEvent()      {}
func (HistoryBatch) isEvent()   {}
func (LiveMessage) isEvent()    {}
func (Receipt) isEvent()        {}
func (Presence) isEvent()       {}
func (ChatPresence) isEvent()   {}

// Handler receives adapter events. Called from whatsmeow's event
// goroutine; implementations must not block.
type Handler func(Event)
