package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lfcamargo/wadash/internal/bus"
	"github.com/lfcamargo/wadash/internal/store"
	"github.com/lfcamargo/wadash/internal/wa"
	"go.uber.org/zap"
)

type fakeReplier struct {
	reply string
	err   error
}

func (f *fakeReplier) Reply(ctx context.Context, persona, message string) (string, error) {
	return f.reply, f.err
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string // "jid|content"
	calls chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: make(chan struct{}, 10)}
}

func (f *fakeSender) SendText(ctx context.Context, chatJID, content string) (*store.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, chatJID+"|"+content)
	f.mu.Unlock()
	f.calls <- struct{}{}
	return &store.Message{ID: "reply-id", ChatJID: chatJID, Content: content, FromMe: true}, nil
}

func (f *fakeSender) lastSent(t *testing.T) string {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(3 * time.Second):
		t.Fatal("no reply sent")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestEngine(t *testing.T, replier Replier, sender Sender) (*Engine, store.Store, *bus.Bus) {
	t.Helper()
	db := store.NewMemory()
	b := bus.New()
	e := NewEngine(db, b, replier, sender, zap.NewNop())
	e.replyDelay = 10 * time.Millisecond
	return e, db, b
}

func liveText(id, chatJID, content, pushName string, fromMe bool) wa.LiveMessage {
	return wa.LiveMessage{
		Message: &store.Message{
			ID:          id,
			ChatJID:     chatJID,
			SenderJID:   chatJID,
			SenderName:  pushName,
			Content:     content,
			ContentType: store.ContentText,
			Timestamp:   time.Now().UnixMilli(),
			FromMe:      fromMe,
			Status:      store.StatusDelivered,
		},
		ChatName: pushName,
	}
}

func TestIngestLiveMessage(t *testing.T) {
	e, db, b := newTestEngine(t, nil, nil)

	uiCh, unsub := b.Subscribe("ui.", 10)
	defer unsub()

	e.IngestLiveMessage(liveText("m1", "alice@s.whatsapp.net", "hi there", "Alice", false))

	chat, _ := db.GetChat("alice@s.whatsapp.net")
	if chat == nil {
		t.Fatal("chat not created")
	}
	if chat.Name != "Alice" {
		t.Errorf("name = %q, want Alice", chat.Name)
	}
	if chat.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", chat.UnreadCount)
	}
	if chat.LastMessageFromMe {
		t.Error("lastMessageFromMe should be false")
	}

	msg, _ := db.GetMessage("m1")
	if msg == nil {
		t.Fatal("message not stored")
	}

	// Both broadcasts arrive, and only after the writes above.
	kinds := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-uiCh:
			kinds[evt.Kind] = true
		case <-time.After(time.Second):
			t.Fatalf("missing ui broadcast, got %v", kinds)
		}
	}
	if !kinds["ui.message_upsert"] || !kinds["ui.chat_update"] {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestLiveMessageDoesNotRegressChatName(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)
	_, _ = db.UpsertChat(store.ChatUpsert{JID: "a@s.whatsapp.net", Name: "Alice"})

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "yo", "ally-2041", false))

	chat, _ := db.GetChat("a@s.whatsapp.net")
	if chat.Name != "Alice" {
		t.Errorf("name = %q, want Alice (store name wins over push name)", chat.Name)
	}
}

func TestOwnMessageDoesNotNameChatOrBumpUnread(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "sent from phone", "My Own Name", true))

	chat, _ := db.GetChat("a@s.whatsapp.net")
	if chat == nil {
		t.Fatal("chat not created")
	}
	if chat.Name != "" {
		t.Errorf("name = %q, own push name must not name the chat", chat.Name)
	}
	if chat.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for own message", chat.UnreadCount)
	}
	if !chat.LastMessageFromMe {
		t.Error("lastMessageFromMe should be true")
	}
}

func TestEmptyContentSkipped(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "", "Alice", false))

	if chat, _ := db.GetChat("a@s.whatsapp.net"); chat != nil {
		t.Error("chat created for message with no content")
	}
	if msg, _ := db.GetMessage("m1"); msg != nil {
		t.Error("empty message stored")
	}
}

func TestStatusBroadcastSkipped(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestLiveMessage(liveText("m1", "status@broadcast", "a status post", "Alice", false))

	if chat, _ := db.GetChat("status@broadcast"); chat != nil {
		t.Error("status pseudo-chat stored")
	}
}

func TestUnreadAccumulates(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "one", "Alice", false))
	e.IngestLiveMessage(liveText("m2", "a@s.whatsapp.net", "two", "Alice", false))

	chat, _ := db.GetChat("a@s.whatsapp.net")
	if chat.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", chat.UnreadCount)
	}
}

func historyBatch() wa.HistoryBatch {
	return wa.HistoryBatch{
		Contacts: []wa.Contact{
			{JID: "alice@s.whatsapp.net", Name: "Alice"},
		},
		Chats: []wa.ChatSnapshot{
			{JID: "alice@s.whatsapp.net", UnreadCount: 2, LastMessageAt: 1000},
			{JID: "12036@g.us", Name: "Family", LastMessageAt: 900},
		},
		Messages: []*store.Message{
			{ID: "h1", ChatJID: "alice@s.whatsapp.net", Content: "old msg", Timestamp: 1000, Status: store.StatusRead},
			{ID: "h2", ChatJID: "12036@g.us", Content: "", Timestamp: 900},
		},
	}
}

func TestIngestHistoryBatch(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestHistoryBatch(historyBatch())

	alice, _ := db.GetChat("alice@s.whatsapp.net")
	if alice == nil || alice.Name != "Alice" || alice.UnreadCount != 2 {
		t.Errorf("alice = %+v", alice)
	}
	if alice.IsGroup {
		t.Error("user chat flagged as group")
	}

	group, _ := db.GetChat("12036@g.us")
	if group == nil || !group.IsGroup {
		t.Errorf("group = %+v, want IsGroup", group)
	}

	if msg, _ := db.GetMessage("h1"); msg == nil || msg.Status != store.StatusRead {
		t.Errorf("h1 = %+v", msg)
	}
	if msg, _ := db.GetMessage("h2"); msg != nil {
		t.Error("empty-body history message stored")
	}
}

func TestIngestHistoryBatchIdempotent(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestHistoryBatch(historyBatch())
	e.IngestHistoryBatch(historyBatch())

	chats, _ := db.ListChats()
	if len(chats) != 2 {
		t.Errorf("chats = %d, want 2 after replay", len(chats))
	}
	msgs, _ := db.ListMessages("alice@s.whatsapp.net")
	if len(msgs) != 1 {
		t.Errorf("messages = %d, want 1 after replay", len(msgs))
	}
}

func TestIngestReceipt(t *testing.T) {
	e, db, b := newTestEngine(t, nil, nil)
	_ = db.UpsertMessage(&store.Message{ID: "m1", ChatJID: "a@s", Content: "hi", Status: store.StatusSent})

	uiCh, unsub := b.Subscribe("ui.message_update", 10)
	defer unsub()

	e.IngestReceipt(wa.Receipt{ChatJID: "a@s", MessageIDs: []string{"m1", "unknown"}, Status: store.StatusRead})

	msg, _ := db.GetMessage("m1")
	if msg.Status != store.StatusRead {
		t.Errorf("status = %q, want read", msg.Status)
	}

	select {
	case evt := <-uiCh:
		if evt.Payload.(store.Message).ID != "m1" {
			t.Error("wrong message broadcast")
		}
	case <-time.After(time.Second):
		t.Fatal("no ui.message_update broadcast")
	}

	// Unknown id produced no second broadcast.
	select {
	case evt := <-uiCh:
		t.Errorf("unexpected broadcast for unknown id: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestPresence(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)
	_, _ = db.UpsertChat(store.ChatUpsert{JID: "a@s", Name: "Alice"})

	e.IngestPresence(wa.Presence{ChatJID: "a@s", Online: true})
	chat, _ := db.GetChat("a@s")
	if !chat.IsOnline {
		t.Error("not marked online")
	}
	if chat.LastSeen == 0 {
		t.Error("lastSeen not refreshed on transition to online")
	}
	seen := chat.LastSeen

	// Staying online does not refresh lastSeen.
	e.IngestPresence(wa.Presence{ChatJID: "a@s", Online: true})
	chat, _ = db.GetChat("a@s")
	if chat.LastSeen != seen {
		t.Error("lastSeen refreshed without a transition")
	}

	e.IngestPresence(wa.Presence{ChatJID: "a@s", Online: false})
	chat, _ = db.GetChat("a@s")
	if chat.IsOnline {
		t.Error("still marked online")
	}
	if chat.LastSeen != seen {
		t.Error("lastSeen changed on going offline")
	}
}

func TestPresenceForUnknownChatDiscarded(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)

	e.IngestPresence(wa.Presence{ChatJID: "ghost@s", Online: true})

	if chat, _ := db.GetChat("ghost@s"); chat != nil {
		t.Error("presence created a chat")
	}
}

func TestIngestChatPresence(t *testing.T) {
	e, db, _ := newTestEngine(t, nil, nil)
	_, _ = db.UpsertChat(store.ChatUpsert{JID: "a@s", Name: "Alice"})

	e.IngestChatPresence(wa.ChatPresence{ChatJID: "a@s", Typing: true})
	if chat, _ := db.GetChat("a@s"); !chat.IsTyping {
		t.Error("not marked typing")
	}
	e.IngestChatPresence(wa.ChatPresence{ChatJID: "a@s", Typing: false})
	if chat, _ := db.GetChat("a@s"); chat.IsTyping {
		t.Error("still marked typing")
	}
}

func TestAutoReplyGenerated(t *testing.T) {
	sender := newFakeSender()
	e, _, _ := newTestEngine(t, &fakeReplier{reply: "generated answer"}, sender)

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "hello?", "Alice", false))

	if got := sender.lastSent(t); got != "a@s.whatsapp.net|generated answer" {
		t.Errorf("sent = %q", got)
	}
}

func TestAutoReplyFallbackOnGenerationError(t *testing.T) {
	sender := newFakeSender()
	e, _, _ := newTestEngine(t, &fakeReplier{err: errors.New("upstream down")}, sender)

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "hello?", "Alice", false))

	want := "a@s.whatsapp.net|" + store.DefaultSettings().AutoReplyMessage
	if got := sender.lastSent(t); got != want {
		t.Errorf("sent = %q, want fallback", got)
	}
}

func TestAutoReplyLoopPrevention(t *testing.T) {
	sender := newFakeSender()
	e, _, _ := newTestEngine(t, &fakeReplier{reply: "x"}, sender)

	// Receiving the fallback text itself must never trigger a reply, or
	// two instances would ping-pong forever.
	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", store.DefaultSettings().AutoReplyMessage, "Alice", false))

	time.Sleep(100 * time.Millisecond)
	if sender.sentCount() != 0 {
		t.Error("auto-replied to the fallback text")
	}
}

func TestAutoReplyDisabled(t *testing.T) {
	sender := newFakeSender()
	e, db, _ := newTestEngine(t, &fakeReplier{reply: "x"}, sender)
	_, _ = db.UpdateSettings(store.SettingsUpdate{AutoReplyEnabled: boolPtr(false)})

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "hello?", "Alice", false))

	time.Sleep(100 * time.Millisecond)
	if sender.sentCount() != 0 {
		t.Error("auto-replied while disabled")
	}
}

func TestNoAutoReplyToOwnMessages(t *testing.T) {
	sender := newFakeSender()
	e, _, _ := newTestEngine(t, &fakeReplier{reply: "x"}, sender)

	e.IngestLiveMessage(liveText("m1", "a@s.whatsapp.net", "from my phone", "Me", true))

	time.Sleep(100 * time.Millisecond)
	if sender.sentCount() != 0 {
		t.Error("auto-replied to own message")
	}
}

func TestEngineStartSubscribesToBus(t *testing.T) {
	sender := newFakeSender()
	e, db, b := newTestEngine(t, nil, sender)

	e.Start(context.Background())
	defer e.Stop()

	b.Emit("wa.message", liveText("m1", "a@s.whatsapp.net", "via bus", "Alice", false))

	deadline := time.After(time.Second)
	for {
		if msg, _ := db.GetMessage("m1"); msg != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("bus event not ingested")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
