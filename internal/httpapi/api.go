package httpapi

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/lfcamargo/wadash/internal/hub"
	"github.com/lfcamargo/wadash/internal/lifecycle"
	"github.com/lfcamargo/wadash/internal/outbox"
	"github.com/lfcamargo/wadash/internal/store"
	"go.uber.org/zap"
)

// SessionControl is the lifecycle surface the API exposes. Implemented
// by the lifecycle manager.
type SessionControl interface {
	Status() lifecycle.Snapshot
	Start() error
	ForceReset(wipeCredentials bool)
	Reconnect()
}

// MessageSender is the outbound surface. Implemented by outbox.Sender.
type MessageSender interface {
	Send(ctx context.Context, req outbox.SendRequest) (*store.Message, error)
	Delete(ctx context.Context, msgID string) error
	Star(msgID string, starred bool) (*store.Message, error)
}

type sendMessageRequest struct {
	JID         string `json:"jid" validate:"required"`
	Content     string `json:"content"`
	ContentType string `json:"contentType" validate:"omitempty,oneof=text image document"`
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
}

type starRequest struct {
	Starred *bool `json:"starred" validate:"required"`
}

type chatFlagsRequest struct {
	UnreadCount *int  `json:"unreadCount" validate:"omitempty,gte=0"`
	IsStarred   *bool `json:"isStarred"`
	IsMuted     *bool `json:"isMuted"`
	IsPinned    *bool `json:"isPinned"`
}

// API is the REST and websocket surface of the dashboard.
type API struct {
	session  SessionControl
	db       store.Store
	sender   MessageSender
	hub      *hub.Hub
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates the API. hub may be nil in tests that skip the websocket.
func New(session SessionControl, db store.Store, sender MessageSender, h *hub.Hub, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		session:  session,
		db:       db,
		sender:   sender,
		hub:      h,
		logger:   logger,
		validate: validator.New(),
	}
}

// Register mounts all routes on the app.
func (a *API) Register(app *fiber.App) {
	api := app.Group("/api")

	api.Get("/status", a.getStatus)

	api.Get("/settings", a.getSettings)
	api.Patch("/settings", a.patchSettings)

	api.Get("/chats", a.listChats)
	api.Get("/chats/:jid/messages", a.listMessages)
	api.Patch("/chats/:jid", a.patchChat)

	api.Post("/messages", a.sendMessage)
	api.Post("/messages/:id/star", a.starMessage)
	api.Delete("/messages/:id", a.deleteMessage)

	api.Post("/session/start", a.startSession)
	api.Post("/session/disconnect", a.disconnect)
	api.Post("/session/reconnect", a.reconnect)

	if a.hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(a.serveWS))
	}
}

func (a *API) serveWS(conn *websocket.Conn) {
	client := a.hub.Register(conn)
	go client.WritePump()
	client.ReadPump()
}

func (a *API) getStatus(c *fiber.Ctx) error {
	return c.JSON(a.session.Status())
}

func (a *API) getSettings(c *fiber.Ctx) error {
	settings, err := a.db.GetSettings()
	if err != nil {
		return a.internalError(c, "read settings", err)
	}
	return c.JSON(settings)
}

func (a *API) patchSettings(c *fiber.Ctx) error {
	var update store.SettingsUpdate
	if err := c.BodyParser(&update); err != nil {
		return badRequest(c, "malformed body")
	}
	settings, err := a.db.UpdateSettings(update)
	if err != nil {
		return a.internalError(c, "update settings", err)
	}
	return c.JSON(settings)
}

func (a *API) listChats(c *fiber.Ctx) error {
	chats, err := a.db.ListChats()
	if err != nil {
		return a.internalError(c, "list chats", err)
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	return c.JSON(chats)
}

func (a *API) listMessages(c *fiber.Ctx) error {
	msgs, err := a.db.ListMessages(c.Params("jid"))
	if err != nil {
		return a.internalError(c, "list messages", err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(msgs)
}

func (a *API) patchChat(c *fiber.Ctx) error {
	jid := c.Params("jid")
	existing, err := a.db.GetChat(jid)
	if err != nil {
		return a.internalError(c, "read chat", err)
	}
	if existing == nil {
		return notFound(c, "chat not found")
	}

	var req chatFlagsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	chat, err := a.db.UpsertChat(store.ChatUpsert{
		JID:         jid,
		UnreadCount: req.UnreadCount,
		IsStarred:   req.IsStarred,
		IsMuted:     req.IsMuted,
		IsPinned:    req.IsPinned,
	})
	if err != nil {
		return a.internalError(c, "update chat", err)
	}
	if a.hub != nil {
		a.hub.Broadcast("chat_update", *chat)
	}
	return c.JSON(chat)
}

func (a *API) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	if (req.ContentType == "" || req.ContentType == store.ContentText) && req.Content == "" {
		return badRequest(c, "content is required for text messages")
	}
	if (req.ContentType == store.ContentImage || req.ContentType == store.ContentDocument) && req.FileURL == "" {
		return badRequest(c, "fileUrl is required for media messages")
	}

	msg, err := a.sender.Send(c.Context(), outbox.SendRequest{
		ChatJID:     req.JID,
		Content:     req.Content,
		ContentType: req.ContentType,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
	})
	if err != nil {
		if errors.Is(err, outbox.ErrNotConnected) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"message": "not connected"})
		}
		return a.internalError(c, "send message", err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (a *API) starMessage(c *fiber.Ctx) error {
	var req starRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "malformed body")
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	msg, err := a.sender.Star(c.Params("id"), *req.Starred)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			return notFound(c, "message not found")
		}
		return a.internalError(c, "star message", err)
	}
	return c.JSON(msg)
}

func (a *API) deleteMessage(c *fiber.Ctx) error {
	if err := a.sender.Delete(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			return notFound(c, "message not found")
		}
		return a.internalError(c, "delete message", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *API) startSession(c *fiber.Ctx) error {
	if err := a.session.Start(); err != nil {
		return a.internalError(c, "start session", err)
	}
	return c.JSON(a.session.Status())
}

func (a *API) disconnect(c *fiber.Ctx) error {
	a.session.ForceReset(false)
	return c.JSON(a.session.Status())
}

func (a *API) reconnect(c *fiber.Ctx) error {
	a.session.Reconnect()
	return c.JSON(a.session.Status())
}

func (a *API) internalError(c *fiber.Ctx, op string, err error) error {
	a.logger.Error(op, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "internal error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": msg})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": msg})
}
