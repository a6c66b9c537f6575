package wa

import (
	"context"
	"fmt"
	"os"

	"github.com/lfcamargo/wadash/internal/session"
	"github.com/lfcamargo/wadash/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Conn is the connection surface the lifecycle manager drives. One Conn
// corresponds to one connection attempt; it is closed and replaced on
// every retry.
type Conn interface {
	HasCredentials() bool
	Identity() string
	Connect(ctx context.Context) error
	Close()
	Logout(ctx context.Context) error

	SendText(ctx context.Context, chatJID, text string) (string, int64, error)
	SendImage(ctx context.Context, chatJID string, data []byte, mimeType, caption string) (string, int64, error)
	SendDocument(ctx context.Context, chatJID string, data []byte, mimeType, fileName string) (string, int64, error)
	Revoke(ctx context.Context, chatJID, msgID string) error
}

// Factory builds a Conn for a session, delivering events to handler.
type Factory func(ctx context.Context, sessionName string, handler Handler, logger *zap.Logger) (Conn, error)

// Adapter wraps the whatsmeow client and translates its event stream
// into the closed Event set.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	handler   Handler
	logger    *zap.Logger
	session   string
}

var _ Conn = (*Adapter)(nil)

// NewAdapter opens the credential store for the session and prepares a
// client. The connection is not opened until Connect.
func NewAdapter(ctx context.Context, sessionName string, handler Handler, logger *zap.Logger) (Conn, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("WADash", [3]uint32{0, 1, 0})

	dbPath := session.CredentialDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		handler:   handler,
		logger:    logger,
		session:   sessionName,
	}
	a.client.AddEventHandler(a.translate)
	return a, nil
}

// HasCredentials reports whether the session has paired before.
func (a *Adapter) HasCredentials() bool {
	return a.client.Store.ID != nil
}

// Identity returns the own phone number, or empty when unpaired.
func (a *Adapter) Identity() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// Connect opens the socket. For an unpaired session it also starts the
// QR flow, delivering each fresh code as a PairingCode event; a QR
// timeout surfaces as ConnectionDown so the caller can retry.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.HasCredentials() {
		a.logger.Info("connecting with stored credentials")
		return a.client.Connect()
	}

	// GetQRChannel must be called before Connect.
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	a.logger.Info("connecting unpaired, starting QR flow")
	if err := a.client.Connect(); err != nil {
		return err
	}

	go func() {
		for item := range qrChan {
			switch item.Event {
			case "code":
				a.handler(PairingCode{Code: item.Code})
			case "success":
				return
			case "timeout":
				a.handler(ConnectionDown{Reason: "pairing timed out"})
				return
			default:
				if item.Error != nil {
					a.handler(ConnectionDown{Reason: item.Error.Error()})
					return
				}
			}
		}
	}()

	return nil
}

// Close detaches the event handler and drops the socket. Safe to call
// more than once.
func (a *Adapter) Close() {
	a.client.RemoveEventHandlers()
	a.client.Disconnect()
}

// Logout invalidates the credentials on the server side.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// SendText sends a plain text message. Returns the server-assigned
// message ID and timestamp in unix millis.
func (a *Adapter) SendText(ctx context.Context, chatJID, text string) (string, int64, error) {
	to, err := types.ParseJID(chatJID)
	if err != nil {
		return "", 0, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", 0, fmt.Errorf("send message: %w", err)
	}
	return resp.ID, resp.Timestamp.UnixMilli(), nil
}

// SendImage uploads the image bytes and sends them with an optional caption.
func (a *Adapter) SendImage(ctx context.Context, chatJID string, data []byte, mimeType, caption string) (string, int64, error) {
	to, err := types.ParseJID(chatJID)
	if err != nil {
		return "", 0, fmt.Errorf("parse JID: %w", err)
	}
	up, err := a.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return "", 0, fmt.Errorf("upload image: %w", err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mimeType),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", 0, fmt.Errorf("send image: %w", err)
	}
	return resp.ID, resp.Timestamp.UnixMilli(), nil
}

// SendDocument uploads the file bytes and sends them as a document.
func (a *Adapter) SendDocument(ctx context.Context, chatJID string, data []byte, mimeType, fileName string) (string, int64, error) {
	to, err := types.ParseJID(chatJID)
	if err != nil {
		return "", 0, fmt.Errorf("parse JID: %w", err)
	}
	up, err := a.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return "", 0, fmt.Errorf("upload document: %w", err)
	}
	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		FileName:      proto.String(fileName),
		Mimetype:      proto.String(mimeType),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", 0, fmt.Errorf("send document: %w", err)
	}
	return resp.ID, resp.Timestamp.UnixMilli(), nil
}

// Revoke retracts one of our own messages for everyone in the chat.
func (a *Adapter) Revoke(ctx context.Context, chatJID, msgID string) error {
	to, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	if _, err := a.client.SendMessage(ctx, to, a.client.BuildRevoke(to, types.EmptyJID, msgID)); err != nil {
		return fmt.Errorf("revoke message: %w", err)
	}
	return nil
}

// translate is the whatsmeow event handler. It normalizes everything
// into the closed Event set; raw events stop here.
func (a *Adapter) translate(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.handler(ConnectionUp{Identity: a.Identity()})
	case *events.Disconnected:
		a.handler(ConnectionDown{Reason: "socket closed"})
	case *events.LoggedOut:
		a.handler(LoggedOut{Reason: evt.Reason.String()})
	case *events.HistorySync:
		if batch := parseHistorySync(evt.Data); batch != nil {
			a.handler(*batch)
		}
	case *events.Message:
		msg, pushName := parseLiveMessage(evt)
		a.handler(LiveMessage{Message: msg, ChatName: pushName})
	case *events.Receipt:
		if r := translateReceipt(evt); r != nil {
			a.handler(*r)
		}
	case *events.Presence:
		p := Presence{
			ChatJID: NormalizeJID(evt.From.String()),
			Online:  !evt.Unavailable,
		}
		if !evt.LastSeen.IsZero() {
			p.LastSeen = evt.LastSeen.UnixMilli()
		}
		a.handler(p)
	case *events.ChatPresence:
		a.handler(ChatPresence{
			ChatJID: NormalizeJID(evt.Chat.String()),
			Typing:  evt.State == types.ChatPresenceComposing,
		})
	}
}

func translateReceipt(evt *events.Receipt) *Receipt {
	var status string
	switch evt.Type {
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		status = store.StatusRead
	case types.ReceiptTypeDelivered:
		status = store.StatusDelivered
	default:
		return nil
	}
	if len(evt.MessageIDs) == 0 {
		return nil
	}
	return &Receipt{
		ChatJID:    NormalizeJID(evt.Chat.String()),
		MessageIDs: evt.MessageIDs,
		Status:     status,
	}
}

// ClearCredentials removes the stored pairing credentials for a session.
// The next connection attempt starts a fresh QR flow. Call only with no
// adapter open on the files.
func ClearCredentials(sessionName string) error {
	base := session.CredentialDBPath(sessionName)
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
