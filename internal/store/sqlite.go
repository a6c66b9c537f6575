package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migsqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lfcamargo/wadash/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the durable SQLite-backed Store.
type DB struct {
	db *sql.DB
}

// OpenSQLite opens the app database with WAL mode and recommended pragmas.
func OpenSQLite(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db: db}, nil
}

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending migrations on the database.
func (d *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := migsqlite.WithInstance(d.db, &migsqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}

// Backend names the active storage strategy.
func (d *DB) Backend() string { return "sqlite" }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// GetSettings returns the singleton settings row, seeding defaults on first read.
func (d *DB) GetSettings() (Settings, error) {
	var s Settings
	err := d.db.QueryRow(`
		SELECT auto_reply_enabled, auto_reply_message, bot_persona
		FROM settings WHERE id = 1`).
		Scan(&s.AutoReplyEnabled, &s.AutoReplyMessage, &s.BotPersona)
	if err == sql.ErrNoRows {
		s = DefaultSettings()
		_, err = d.db.Exec(`
			INSERT INTO settings (id, auto_reply_enabled, auto_reply_message, bot_persona)
			VALUES (1, ?, ?, ?)`,
			s.AutoReplyEnabled, s.AutoReplyMessage, s.BotPersona)
		if err != nil {
			return Settings{}, fmt.Errorf("seed settings: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// UpdateSettings applies a partial update and returns the merged settings.
func (d *DB) UpdateSettings(in SettingsUpdate) (Settings, error) {
	current, err := d.GetSettings()
	if err != nil {
		return Settings{}, err
	}
	merged := mergeSettings(current, in)
	_, err = d.db.Exec(`
		UPDATE settings SET auto_reply_enabled = ?, auto_reply_message = ?, bot_persona = ?
		WHERE id = 1`,
		merged.AutoReplyEnabled, merged.AutoReplyMessage, merged.BotPersona)
	if err != nil {
		return Settings{}, err
	}
	return merged, nil
}

// ListChats returns chats sorted by last message timestamp descending.
func (d *DB) ListChats() ([]Chat, error) {
	rows, err := d.db.Query(`
		SELECT jid, name, unread_count, last_message_at, is_online, is_typing, last_seen,
			is_starred, is_muted, is_pinned, is_group, group_description, last_message_from_me
		FROM chats
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.IsOnline,
			&c.IsTyping, &c.LastSeen, &c.IsStarred, &c.IsMuted, &c.IsPinned, &c.IsGroup,
			&c.GroupDescription, &c.LastMessageFromMe); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by JID, or nil if not found.
func (d *DB) GetChat(jid string) (*Chat, error) {
	var c Chat
	err := d.db.QueryRow(`
		SELECT jid, name, unread_count, last_message_at, is_online, is_typing, last_seen,
			is_starred, is_muted, is_pinned, is_group, group_description, last_message_from_me
		FROM chats WHERE jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.IsOnline,
			&c.IsTyping, &c.LastSeen, &c.IsStarred, &c.IsMuted, &c.IsPinned, &c.IsGroup,
			&c.GroupDescription, &c.LastMessageFromMe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertChat merges a partial write into the chat record (idempotent on jid).
func (d *DB) UpsertChat(in ChatUpsert) (*Chat, error) {
	existing, err := d.GetChat(in.JID)
	if err != nil {
		return nil, err
	}
	merged := mergeChat(existing, in)
	now := time.Now().UnixMilli()
	_, err = d.db.Exec(`
		INSERT INTO chats (jid, name, unread_count, last_message_at, is_online, is_typing,
			last_seen, is_starred, is_muted, is_pinned, is_group, group_description,
			last_message_from_me, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			is_online = excluded.is_online,
			is_typing = excluded.is_typing,
			last_seen = excluded.last_seen,
			is_starred = excluded.is_starred,
			is_muted = excluded.is_muted,
			is_pinned = excluded.is_pinned,
			is_group = excluded.is_group,
			group_description = excluded.group_description,
			last_message_from_me = excluded.last_message_from_me,
			updated_at = excluded.updated_at`,
		merged.JID, merged.Name, merged.UnreadCount, merged.LastMessageAt, merged.IsOnline,
		merged.IsTyping, merged.LastSeen, merged.IsStarred, merged.IsMuted, merged.IsPinned,
		merged.IsGroup, merged.GroupDescription, merged.LastMessageFromMe, now)
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// ListMessages returns all messages for a chat, newest first.
func (d *DB) ListMessages(chatJID string) ([]Message, error) {
	rows, err := d.db.Query(`
		SELECT id, chat_jid, sender_jid, sender_name, content, content_type, file_url,
			file_name, timestamp, from_me, status, is_starred
		FROM messages
		WHERE chat_jid = ?
		ORDER BY timestamp DESC`, chatJID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.SenderJID, &m.SenderName, &m.Content,
			&m.ContentType, &m.FileURL, &m.FileName, &m.Timestamp, &m.FromMe, &m.Status,
			&m.IsStarred); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by id, or nil if not found.
func (d *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := d.db.QueryRow(`
		SELECT id, chat_jid, sender_jid, sender_name, content, content_type, file_url,
			file_name, timestamp, from_me, status, is_starred
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ChatJID, &m.SenderJID, &m.SenderName, &m.Content, &m.ContentType,
			&m.FileURL, &m.FileName, &m.Timestamp, &m.FromMe, &m.Status, &m.IsStarred)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMessage inserts or updates a message in place (idempotent on id).
func (d *DB) UpsertMessage(in *Message) error {
	existing, err := d.GetMessage(in.ID)
	if err != nil {
		return err
	}
	merged := mergeMessage(existing, in)
	now := time.Now().UnixMilli()
	_, err = d.db.Exec(`
		INSERT INTO messages (id, chat_jid, sender_jid, sender_name, content, content_type,
			file_url, file_name, timestamp, from_me, status, is_starred, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			content_type = excluded.content_type,
			file_url = excluded.file_url,
			file_name = excluded.file_name,
			status = excluded.status,
			is_starred = excluded.is_starred`,
		merged.ID, merged.ChatJID, merged.SenderJID, merged.SenderName, merged.Content,
		merged.ContentType, merged.FileURL, merged.FileName, merged.Timestamp, merged.FromMe,
		merged.Status, merged.IsStarred, now)
	return err
}

// SetMessageStatus rewrites only the status field of an existing message.
// Returns false if the message is not present locally.
func (d *DB) SetMessageStatus(id, status string) (bool, error) {
	res, err := d.db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ToggleStar sets the starred flag on a message. Idempotent.
func (d *DB) ToggleStar(id string, starred bool) (bool, error) {
	res, err := d.db.Exec(`UPDATE messages SET is_starred = ? WHERE id = ?`, starred, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMessage removes a message record.
func (d *DB) DeleteMessage(id string) (bool, error) {
	res, err := d.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
