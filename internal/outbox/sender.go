package outbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lfcamargo/wadash/internal/bus"
	"github.com/lfcamargo/wadash/internal/store"
	"github.com/lfcamargo/wadash/internal/wa"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a send is attempted without a paired
// session. Nothing is queued; the caller retries once connected.
var ErrNotConnected = errors.New("session not connected")

// ErrNotFound is returned for operations on messages not on file.
var ErrNotFound = errors.New("message not found")

// Session provides the live adapter connection. Implemented by the
// lifecycle manager.
type Session interface {
	Paired() bool
	Conn() wa.Conn
}

// SendRequest describes one outbound message.
type SendRequest struct {
	ChatJID     string
	Content     string
	ContentType string // empty means text
	FileURL     string // data URI for media kinds
	FileName    string
}

// DeletedMessage is broadcast when a message is removed.
type DeletedMessage struct {
	ID      string `json:"id"`
	ChatJID string `json:"chatJid"`
	Deleted bool   `json:"deleted"`
}

// Sender is the outbound path: adapter dispatch first, then the same
// write-then-broadcast contract the inbound pipeline uses, so the sender
// sees their own message without waiting for the echo event.
type Sender struct {
	db      store.Store
	session Session
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSender creates the outbound sender.
func NewSender(db store.Store, session Session, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:      db,
		session: session,
		bus:     b,
		logger:  logger,
	}
}

// Send dispatches a message upstream and mirrors it into the store.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	conn := s.conn()
	if conn == nil {
		return nil, ErrNotConnected
	}

	kind := req.ContentType
	if kind == "" {
		kind = store.ContentText
	}

	var (
		id  string
		ts  int64
		err error
	)
	switch kind {
	case store.ContentText:
		id, ts, err = conn.SendText(ctx, req.ChatJID, req.Content)
	case store.ContentImage:
		var mime string
		var data []byte
		mime, data, err = parseDataURI(req.FileURL)
		if err == nil {
			id, ts, err = conn.SendImage(ctx, req.ChatJID, data, mime, req.Content)
		}
	case store.ContentDocument:
		var mime string
		var data []byte
		mime, data, err = parseDataURI(req.FileURL)
		if err == nil {
			id, ts, err = conn.SendDocument(ctx, req.ChatJID, data, mime, req.FileName)
		}
	default:
		return nil, fmt.Errorf("unsupported content type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", kind, err)
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	// The chat's known display name labels our own messages too; a
	// synthetic "me" would regress the chat's identity in the UI.
	senderName := ""
	if chat, err := s.db.GetChat(req.ChatJID); err == nil && chat != nil {
		senderName = chat.Name
	}

	senderJID := req.ChatJID
	if identity := conn.Identity(); identity != "" {
		senderJID = identity + "@s.whatsapp.net"
	}

	msg := &store.Message{
		ID:          id,
		ChatJID:     req.ChatJID,
		SenderJID:   senderJID,
		SenderName:  senderName,
		Content:     req.Content,
		ContentType: kind,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		Timestamp:   ts,
		FromMe:      true,
		Status:      store.StatusSent,
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return nil, fmt.Errorf("mirror message: %w", err)
	}

	fromMe := true
	if _, err := s.db.UpsertChat(store.ChatUpsert{
		JID:               req.ChatJID,
		LastMessageAt:     &ts,
		LastMessageFromMe: &fromMe,
	}); err != nil {
		s.logger.Error("chat update failed after send", zap.Error(err), zap.String("jid", req.ChatJID))
	}

	s.bus.Emit("ui.message_upsert", *msg)
	if chat, err := s.db.GetChat(req.ChatJID); err == nil && chat != nil {
		s.bus.Emit("ui.chat_update", *chat)
	}

	s.logger.Info("message sent",
		zap.String("jid", req.ChatJID),
		zap.String("id", id),
		zap.String("kind", kind))
	return msg, nil
}

// SendText sends a plain text message. Used directly by the auto-reply.
func (s *Sender) SendText(ctx context.Context, chatJID, content string) (*store.Message, error) {
	return s.Send(ctx, SendRequest{ChatJID: chatJID, Content: content})
}

// Delete removes a message locally, first asking the adapter to retract
// it upstream. The upstream revoke is best-effort: local removal
// proceeds regardless of its outcome.
func (s *Sender) Delete(ctx context.Context, msgID string) error {
	msg, err := s.db.GetMessage(msgID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}

	if msg.FromMe {
		if conn := s.conn(); conn != nil {
			if err := conn.Revoke(ctx, msg.ChatJID, msg.ID); err != nil {
				s.logger.Warn("upstream revoke failed", zap.Error(err), zap.String("id", msgID))
			}
		}
	}

	ok, err := s.db.DeleteMessage(msgID)
	if err != nil {
		return err
	}
	if ok {
		s.bus.Emit("ui.message_update", DeletedMessage{ID: msgID, ChatJID: msg.ChatJID, Deleted: true})
	}
	return nil
}

// Star flips only the local starred flag; there is no upstream call.
func (s *Sender) Star(msgID string, starred bool) (*store.Message, error) {
	ok, err := s.db.ToggleStar(msgID, starred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	msg, err := s.db.GetMessage(msgID)
	if err != nil {
		return nil, err
	}
	s.bus.Emit("ui.message_update", *msg)
	return msg, nil
}

// conn returns the live adapter only when the session is paired.
func (s *Sender) conn() wa.Conn {
	if s.session == nil || !s.session.Paired() {
		return nil
	}
	return s.session.Conn()
}

// parseDataURI decodes a base64 data URI into its media type and bytes.
func parseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("attachment reference is not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	mime, _, _ := strings.Cut(meta, ";")
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mime, data, nil
}
