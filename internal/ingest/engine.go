package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/lfcamargo/wadash/internal/bus"
	"github.com/lfcamargo/wadash/internal/store"
	"github.com/lfcamargo/wadash/internal/wa"
	"go.uber.org/zap"
)

// defaultReplyDelay emulates human response latency before an auto-reply
// goes out. Ingestion of later events is never blocked on it.
const defaultReplyDelay = time.Second

// replyTimeout bounds the external generation call.
const replyTimeout = 30 * time.Second

// Replier produces auto-reply text for an inbound message body.
type Replier interface {
	Reply(ctx context.Context, persona, message string) (string, error)
}

// Sender delivers an auto-reply through the normal outbound path.
type Sender interface {
	SendText(ctx context.Context, chatJID, content string) (*store.Message, error)
}

// Engine normalizes adapter events into store writes. It subscribes to
// "wa.*" on the bus and publishes "ui.*" events strictly after the
// corresponding write, so a client refetching on an event always
// observes a consistent store.
type Engine struct {
	db         store.Store
	bus        *bus.Bus
	replier    Replier
	sender     Sender
	logger     *zap.Logger
	cancel     context.CancelFunc
	replyDelay time.Duration
}

// NewEngine creates an ingestion engine. replier may be nil; auto-replies
// then always use the configured fallback text.
func NewEngine(db store.Store, b *bus.Bus, replier Replier, sender Sender, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		replier:    replier,
		sender:     sender,
		logger:     logger,
		replyDelay: defaultReplyDelay,
	}
}

// Start subscribes to adapter events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("wa.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case wa.HistoryBatch:
		e.IngestHistoryBatch(payload)
	case wa.LiveMessage:
		e.IngestLiveMessage(payload)
	case wa.Receipt:
		e.IngestReceipt(payload)
	case wa.Presence:
		e.IngestPresence(payload)
	case wa.ChatPresence:
		e.IngestChatPresence(payload)
	}
}

// IngestHistoryBatch applies one bulk history payload: contacts, then
// chats, then messages. Replaying the same batch is a no-op thanks to
// key-based upserts.
func (e *Engine) IngestHistoryBatch(batch wa.HistoryBatch) {
	touched := make(map[string]bool)

	for _, c := range batch.Contacts {
		if _, err := e.db.UpsertChat(store.ChatUpsert{
			JID:     c.JID,
			Name:    c.Name,
			IsGroup: boolPtr(wa.IsGroupJID(c.JID)),
		}); err != nil {
			e.logger.Error("contact upsert failed", zap.Error(err), zap.String("jid", c.JID))
			continue
		}
		touched[c.JID] = true
	}

	for _, c := range batch.Chats {
		up := store.ChatUpsert{
			JID:     c.JID,
			Name:    c.Name,
			IsGroup: boolPtr(wa.IsGroupJID(c.JID)),
		}
		if c.UnreadCount > 0 {
			up.UnreadCount = &c.UnreadCount
		}
		if c.LastMessageAt > 0 {
			up.LastMessageAt = &c.LastMessageAt
		}
		if _, err := e.db.UpsertChat(up); err != nil {
			e.logger.Error("chat upsert failed", zap.Error(err), zap.String("jid", c.JID))
			continue
		}
		touched[c.JID] = true
	}

	msgCount := 0
	for _, msg := range batch.Messages {
		if msg.Content == "" {
			continue
		}
		if err := e.db.UpsertMessage(msg); err != nil {
			e.logger.Error("history message upsert failed", zap.Error(err), zap.String("id", msg.ID))
			continue
		}
		msgCount++
	}

	for jid := range touched {
		e.broadcastChat(jid)
	}
	e.logger.Info("history batch ingested",
		zap.Int("contacts", len(batch.Contacts)),
		zap.Int("chats", len(batch.Chats)),
		zap.Int("messages", msgCount))
}

// IngestLiveMessage applies a single live message and, when warranted,
// arms the auto-reply.
func (e *Engine) IngestLiveMessage(live wa.LiveMessage) {
	msg := live.Message
	if msg == nil || wa.IsStatusBroadcast(msg.ChatJID) {
		return
	}
	if msg.Content == "" {
		return
	}

	existing, err := e.db.GetChat(msg.ChatJID)
	if err != nil {
		e.logger.Error("chat lookup failed", zap.Error(err), zap.String("jid", msg.ChatJID))
		return
	}

	// A name already on file wins over the message's ephemeral sender
	// tag; own messages never name the chat after ourselves.
	name := live.ChatName
	if msg.FromMe || (existing != nil && existing.Name != "") {
		name = ""
	}

	up := store.ChatUpsert{
		JID:               msg.ChatJID,
		Name:              name,
		LastMessageAt:     &msg.Timestamp,
		LastMessageFromMe: &msg.FromMe,
		IsGroup:           boolPtr(wa.IsGroupJID(msg.ChatJID)),
	}
	if !msg.FromMe {
		unread := 1
		if existing != nil {
			unread = existing.UnreadCount + 1
		}
		up.UnreadCount = &unread
	}

	if _, err := e.db.UpsertChat(up); err != nil {
		e.logger.Error("chat upsert failed", zap.Error(err), zap.String("jid", msg.ChatJID))
		return
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		e.logger.Error("message upsert failed", zap.Error(err), zap.String("id", msg.ID))
		return
	}

	e.bus.Emit("ui.message_upsert", *msg)
	e.broadcastChat(msg.ChatJID)

	if !msg.FromMe {
		e.maybeAutoReply(msg.ChatJID, msg.Content)
	}
}

// IngestReceipt rewrites delivery status for each referenced message.
// Messages not on file are skipped silently.
func (e *Engine) IngestReceipt(r wa.Receipt) {
	for _, id := range r.MessageIDs {
		ok, err := e.db.SetMessageStatus(id, r.Status)
		if err != nil {
			e.logger.Error("status update failed", zap.Error(err), zap.String("id", id))
			continue
		}
		if !ok {
			continue
		}
		if msg, err := e.db.GetMessage(id); err == nil && msg != nil {
			e.bus.Emit("ui.message_update", *msg)
		}
	}
}

// IngestPresence updates online state for a chat already on file;
// presence for unknown chats is discarded. lastSeen refreshes only on
// the transition to online.
func (e *Engine) IngestPresence(p wa.Presence) {
	chat, err := e.db.GetChat(p.ChatJID)
	if err != nil || chat == nil {
		return
	}

	up := store.ChatUpsert{JID: p.ChatJID, IsOnline: &p.Online}
	if p.Online && !chat.IsOnline {
		ls := p.LastSeen
		if ls == 0 {
			ls = time.Now().UnixMilli()
		}
		up.LastSeen = &ls
	}

	if _, err := e.db.UpsertChat(up); err != nil {
		e.logger.Error("presence upsert failed", zap.Error(err), zap.String("jid", p.ChatJID))
		return
	}
	e.broadcastChat(p.ChatJID)
}

// IngestChatPresence updates the typing flag for a known chat.
func (e *Engine) IngestChatPresence(p wa.ChatPresence) {
	chat, err := e.db.GetChat(p.ChatJID)
	if err != nil || chat == nil {
		return
	}
	if _, err := e.db.UpsertChat(store.ChatUpsert{JID: p.ChatJID, IsTyping: &p.Typing}); err != nil {
		e.logger.Error("typing upsert failed", zap.Error(err), zap.String("jid", p.ChatJID))
		return
	}
	e.broadcastChat(p.ChatJID)
}

// maybeAutoReply arms a deferred reply for an inbound message. It never
// replies to the configured fallback text itself, which is what keeps two
// instances from ping-ponging forever.
func (e *Engine) maybeAutoReply(chatJID, body string) {
	if e.sender == nil {
		return
	}
	settings, err := e.db.GetSettings()
	if err != nil {
		e.logger.Error("settings read failed", zap.Error(err))
		return
	}
	if !settings.AutoReplyEnabled {
		return
	}
	if strings.TrimSpace(body) == strings.TrimSpace(settings.AutoReplyMessage) {
		return
	}

	time.AfterFunc(e.replyDelay, func() {
		e.sendReply(chatJID, body, settings)
	})
}

func (e *Engine) sendReply(chatJID, body string, settings store.Settings) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	text := settings.AutoReplyMessage
	if e.replier != nil {
		generated, err := e.replier.Reply(ctx, settings.BotPersona, body)
		if err != nil || strings.TrimSpace(generated) == "" {
			e.logger.Warn("reply generation failed, using fallback", zap.Error(err))
		} else {
			text = generated
		}
	}

	if _, err := e.sender.SendText(ctx, chatJID, text); err != nil {
		e.logger.Error("auto-reply send failed", zap.Error(err), zap.String("jid", chatJID))
	}
}

// broadcastChat re-reads the chat and publishes it, so subscribers always
// see post-write state.
func (e *Engine) broadcastChat(jid string) {
	chat, err := e.db.GetChat(jid)
	if err != nil || chat == nil {
		return
	}
	e.bus.Emit("ui.chat_update", *chat)
}

func boolPtr(v bool) *bool { return &v }
