package store

import (
	"go.uber.org/zap"
)

// Store is the keyed state boundary for chats, messages and settings. All
// components access records through this interface; none keeps a private
// copy that can drift.
type Store interface {
	GetSettings() (Settings, error)
	UpdateSettings(SettingsUpdate) (Settings, error)

	ListChats() ([]Chat, error)
	GetChat(jid string) (*Chat, error)
	UpsertChat(ChatUpsert) (*Chat, error)

	ListMessages(chatJID string) ([]Message, error)
	GetMessage(id string) (*Message, error)
	UpsertMessage(*Message) error
	SetMessageStatus(id, status string) (bool, error)
	ToggleStar(id string, starred bool) (bool, error)
	DeleteMessage(id string) (bool, error)

	// Backend names the active strategy ("sqlite" or "memory").
	Backend() string
	Close() error
}

// Open selects the storage strategy once at startup: the durable SQLite
// backend when it can be opened and migrated, the in-memory fallback
// otherwise. Callers never branch per call; they just use the Store.
func Open(path string, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := OpenSQLite(path)
	if err != nil {
		logger.Warn("durable store unavailable, falling back to in-memory storage", zap.Error(err))
		return NewMemory()
	}
	result, err := db.Migrate()
	if err != nil {
		logger.Warn("store migration failed, falling back to in-memory storage", zap.Error(err))
		_ = db.Close()
		return NewMemory()
	}
	if result.Changed {
		logger.Info("store migrations applied", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", path))
	return db
}
