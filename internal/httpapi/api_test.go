package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/lfcamargo/wadash/internal/lifecycle"
	"github.com/lfcamargo/wadash/internal/outbox"
	"github.com/lfcamargo/wadash/internal/status"
	"github.com/lfcamargo/wadash/internal/store"
	"go.uber.org/zap"
)

type fakeSession struct {
	snap        lifecycle.Snapshot
	resets      int
	wipes       int
	reconnects  int
	startCalled int
}

func (f *fakeSession) Status() lifecycle.Snapshot { return f.snap }
func (f *fakeSession) Start() error               { f.startCalled++; return nil }
func (f *fakeSession) ForceReset(wipe bool) {
	f.resets++
	if wipe {
		f.wipes++
	}
}
func (f *fakeSession) Reconnect() { f.reconnects++ }

type fakeMessageSender struct {
	sendErr error
	sent    []outbox.SendRequest
	deleted []string
	db      store.Store
}

func (f *fakeMessageSender) Send(ctx context.Context, req outbox.SendRequest) (*store.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	return &store.Message{ID: "srv-1", ChatJID: req.ChatJID, Content: req.Content, FromMe: true}, nil
}

func (f *fakeMessageSender) Delete(ctx context.Context, msgID string) error {
	if msg, _ := f.db.GetMessage(msgID); msg == nil {
		return outbox.ErrNotFound
	}
	f.deleted = append(f.deleted, msgID)
	_, _ = f.db.DeleteMessage(msgID)
	return nil
}

func (f *fakeMessageSender) Star(msgID string, starred bool) (*store.Message, error) {
	ok, err := f.db.ToggleStar(msgID, starred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, outbox.ErrNotFound
	}
	return f.db.GetMessage(msgID)
}

func newTestAPI(t *testing.T) (*fiber.App, *fakeSession, *fakeMessageSender, store.Store) {
	t.Helper()
	session := &fakeSession{snap: lifecycle.Snapshot{Status: status.PublicConnected, Identity: "5585999"}}
	db := store.NewMemory()
	sender := &fakeMessageSender{db: db}
	app := fiber.New()
	New(session, db, sender, nil, zap.NewNop()).Register(app)
	return app, session, sender, db
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reqBody = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestGetStatus(t *testing.T) {
	app, _, _, _ := newTestAPI(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap lifecycle.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Status != status.PublicConnected || snap.Identity != "5585999" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	app, _, _, _ := newTestAPI(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var settings store.Settings
	_ = json.Unmarshal(body, &settings)
	if !settings.AutoReplyEnabled {
		t.Error("defaults not seeded")
	}

	resp, body = doJSON(t, app, http.MethodPatch, "/api/settings", map[string]any{"autoReplyEnabled": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	_ = json.Unmarshal(body, &settings)
	if settings.AutoReplyEnabled {
		t.Error("update not applied")
	}
	if settings.AutoReplyMessage == "" {
		t.Error("partial update wiped other fields")
	}
}

func TestListChatsEmptyIsArray(t *testing.T) {
	app, _, _, _ := newTestAPI(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/chats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(body) != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestListMessages(t *testing.T) {
	app, _, _, db := newTestAPI(t)
	_ = db.UpsertMessage(&store.Message{ID: "m1", ChatJID: "a@s", Content: "hi"})

	resp, body := doJSON(t, app, http.MethodGet, "/api/chats/a@s/messages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msgs []store.Message
	_ = json.Unmarshal(body, &msgs)
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestPatchChatFlags(t *testing.T) {
	app, _, _, db := newTestAPI(t)
	_, _ = db.UpsertChat(store.ChatUpsert{JID: "a@s", Name: "Alice"})

	resp, body := doJSON(t, app, http.MethodPatch, "/api/chats/a@s", map[string]any{
		"isPinned":    true,
		"unreadCount": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	chat, _ := db.GetChat("a@s")
	if !chat.IsPinned {
		t.Error("pin not applied")
	}
	if chat.Name != "Alice" {
		t.Error("flags patch touched the name")
	}

	resp, _ = doJSON(t, app, http.MethodPatch, "/api/chats/ghost@s", map[string]any{"isPinned": true})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d for unknown chat, want 404", resp.StatusCode)
	}
}

func TestSendMessage(t *testing.T) {
	app, _, sender, _ := newTestAPI(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/messages", map[string]any{
		"jid":     "a@s.whatsapp.net",
		"content": "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatJID != "a@s.whatsapp.net" {
		t.Errorf("sent = %+v", sender.sent)
	}
}

func TestSendMessageValidation(t *testing.T) {
	app, _, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing jid", map[string]any{"content": "hi"}},
		{"text without content", map[string]any{"jid": "a@s"}},
		{"bad content type", map[string]any{"jid": "a@s", "content": "x", "contentType": "video"}},
		{"image without fileUrl", map[string]any{"jid": "a@s", "contentType": "image"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, app, http.MethodPost, "/api/messages", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSendMessageNotConnected(t *testing.T) {
	app, _, sender, _ := newTestAPI(t)
	sender.sendErr = outbox.ErrNotConnected

	resp, _ := doJSON(t, app, http.MethodPost, "/api/messages", map[string]any{
		"jid":     "a@s",
		"content": "hello",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStarMessage(t *testing.T) {
	app, _, _, db := newTestAPI(t)
	_ = db.UpsertMessage(&store.Message{ID: "m1", ChatJID: "a@s", Content: "hi"})

	resp, body := doJSON(t, app, http.MethodPost, "/api/messages/m1/star", map[string]any{"starred": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var msg store.Message
	_ = json.Unmarshal(body, &msg)
	if !msg.IsStarred {
		t.Error("not starred")
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/api/messages/ghost/star", map[string]any{"starred": true})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d for unknown message, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/api/messages/m1/star", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d for missing starred field, want 400", resp.StatusCode)
	}
}

func TestDeleteMessage(t *testing.T) {
	app, _, sender, db := newTestAPI(t)
	_ = db.UpsertMessage(&store.Message{ID: "m1", ChatJID: "a@s", Content: "hi"})

	resp, _ := doJSON(t, app, http.MethodDelete, "/api/messages/m1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(sender.deleted) != 1 {
		t.Error("delete not dispatched")
	}

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/messages/m1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d on second delete, want 404", resp.StatusCode)
	}
}

func TestLifecycleControls(t *testing.T) {
	app, session, _, _ := newTestAPI(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/session/disconnect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if session.resets != 1 || session.wipes != 0 {
		t.Errorf("resets = %d wipes = %d, want plain reset", session.resets, session.wipes)
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/api/session/reconnect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if session.reconnects != 1 {
		t.Errorf("reconnects = %d", session.reconnects)
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/api/session/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if session.startCalled != 1 {
		t.Errorf("start calls = %d", session.startCalled)
	}
}
