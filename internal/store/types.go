package store

// Message content kinds.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentDocument = "document"
)

// Message delivery statuses.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Chat is the durable per-conversation record, keyed by JID.
type Chat struct {
	JID               string `json:"jid"`
	Name              string `json:"name"`
	UnreadCount       int    `json:"unreadCount"`
	LastMessageAt     int64  `json:"lastMessageTimestamp"`
	IsOnline          bool   `json:"isOnline"`
	IsTyping          bool   `json:"isTyping"`
	LastSeen          int64  `json:"lastSeen"`
	IsStarred         bool   `json:"isStarred"`
	IsMuted           bool   `json:"isMuted"`
	IsPinned          bool   `json:"isPinned"`
	IsGroup           bool   `json:"isGroup"`
	GroupDescription  string `json:"groupDescription"`
	LastMessageFromMe bool   `json:"lastMessageFromMe"`
}

// ChatUpsert is a partial chat write. Zero-value string fields and nil
// pointers mean "keep whatever is on file"; merge semantics live in
// mergeChat so both backends behave identically.
type ChatUpsert struct {
	JID               string
	Name              string
	UnreadCount       *int
	LastMessageAt     *int64
	IsOnline          *bool
	IsTyping          *bool
	LastSeen          *int64
	IsStarred         *bool
	IsMuted           *bool
	IsPinned          *bool
	IsGroup           *bool
	GroupDescription  string
	LastMessageFromMe *bool
}

// Message is a single chat message, keyed by the provider-assigned id.
type Message struct {
	ID          string `json:"id"`
	ChatJID     string `json:"chatJid"`
	SenderJID   string `json:"senderJid"`
	SenderName  string `json:"senderName"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	FromMe      bool   `json:"fromMe"`
	Status      string `json:"status"`
	IsStarred   bool   `json:"isStarred"`
}

// Settings is the singleton dashboard configuration record.
type Settings struct {
	AutoReplyEnabled bool   `json:"autoReplyEnabled"`
	AutoReplyMessage string `json:"autoReplyMessage"`
	BotPersona       string `json:"botPersona"`
}

// SettingsUpdate is a partial settings write; nil fields are left unchanged.
type SettingsUpdate struct {
	AutoReplyEnabled *bool   `json:"autoReplyEnabled"`
	AutoReplyMessage *string `json:"autoReplyMessage"`
	BotPersona       *string `json:"botPersona"`
}

// DefaultSettings returns the settings seeded on first read.
func DefaultSettings() Settings {
	return Settings{
		AutoReplyEnabled: true,
		AutoReplyMessage: "Hello! This is an automated message.",
		BotPersona:       "You are a helpful assistant.",
	}
}
