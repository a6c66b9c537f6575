package wa

import (
	"strings"

	"github.com/lfcamargo/wadash/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// statusBroadcastJID is WhatsApp's pseudo-chat for status posts. Its
// traffic never belongs in the dashboard.
const statusBroadcastJID = "status@broadcast"

// NormalizeJID strips device and agent suffixes so that live messages and
// history sync produce the same key for the same contact
// ("55999:3@s.whatsapp.net" and "55999@s.whatsapp.net" are one chat).
func NormalizeJID(jid string) string {
	if jid == "" {
		return ""
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return parsed.ToNonAD().String()
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// IsStatusBroadcast reports whether the JID is the status pseudo-chat.
func IsStatusBroadcast(jid string) bool {
	return jid == statusBroadcastJID
}

func extractBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectContentType(msg *waE2E.Message) string {
	if msg == nil {
		return store.ContentText
	}
	switch {
	case msg.GetImageMessage() != nil:
		return store.ContentImage
	case msg.GetDocumentMessage() != nil:
		return store.ContentDocument
	default:
		return store.ContentText
	}
}

func extractFileName(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName()
	}
	return ""
}

// historyStatus maps a history record's ack level onto the stored delivery
// state. Anything below delivered collapses to sent.
func historyStatus(s waWeb.WebMessageInfo_Status) string {
	switch s {
	case waWeb.WebMessageInfo_READ:
		return store.StatusRead
	case waWeb.WebMessageInfo_DELIVERY_ACK:
		return store.StatusDelivered
	default:
		return store.StatusSent
	}
}

// parseLiveMessage normalizes a live whatsmeow message event into a store
// record plus the sender's push name.
func parseLiveMessage(evt *events.Message) (*store.Message, string) {
	chatJID := NormalizeJID(evt.Info.Chat.String())
	senderJID := NormalizeJID(evt.Info.Sender.String())

	status := store.StatusSent
	if !evt.Info.IsFromMe {
		status = store.StatusDelivered
	}

	return &store.Message{
		ID:          evt.Info.ID,
		ChatJID:     chatJID,
		SenderJID:   senderJID,
		SenderName:  evt.Info.PushName,
		Content:     extractBody(evt.Message),
		ContentType: detectContentType(evt.Message),
		FileName:    extractFileName(evt.Message),
		Timestamp:   evt.Info.Timestamp.UnixMilli(),
		FromMe:      evt.Info.IsFromMe,
		Status:      status,
	}, evt.Info.PushName
}

// parseHistorySync flattens one history sync payload into a batch of
// contacts, chat snapshots and messages. The status pseudo-chat is
// dropped here so no consumer ever sees it.
func parseHistorySync(data *waHistorySync.HistorySync) *HistoryBatch {
	if data == nil {
		return nil
	}

	batch := &HistoryBatch{}

	for _, pn := range data.GetPushnames() {
		jid := NormalizeJID(pn.GetID())
		name := pn.GetPushname()
		if jid == "" || name == "" || IsStatusBroadcast(jid) {
			continue
		}
		batch.Contacts = append(batch.Contacts, Contact{JID: jid, Name: name})
	}

	for _, conv := range data.GetConversations() {
		chatJID := NormalizeJID(conv.GetID())
		if chatJID == "" || IsStatusBroadcast(chatJID) {
			continue
		}

		snapshot := ChatSnapshot{
			JID:           chatJID,
			Name:          conv.GetName(),
			UnreadCount:   int(conv.GetUnreadCount()),
			LastMessageAt: int64(conv.GetConversationTimestamp()) * 1000,
		}

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			key := wmsg.GetKey()
			ts := int64(wmsg.GetMessageTimestamp()) * 1000

			senderJID := NormalizeJID(key.GetParticipant())
			if senderJID == "" {
				senderJID = chatJID
			}

			msg := &store.Message{
				ID:          key.GetID(),
				ChatJID:     chatJID,
				SenderJID:   senderJID,
				SenderName:  wmsg.GetPushName(),
				Content:     extractBody(wmsg.GetMessage()),
				ContentType: detectContentType(wmsg.GetMessage()),
				FileName:    extractFileName(wmsg.GetMessage()),
				Timestamp:   ts,
				FromMe:      key.GetFromMe(),
				Status:      historyStatus(wmsg.GetStatus()),
			}
			batch.Messages = append(batch.Messages, msg)

			if ts > snapshot.LastMessageAt {
				snapshot.LastMessageAt = ts
			}
		}

		batch.Chats = append(batch.Chats, snapshot)
	}

	if len(batch.Contacts) == 0 && len(batch.Chats) == 0 && len(batch.Messages) == 0 {
		return nil
	}
	return batch
}
