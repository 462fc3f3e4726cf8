package messages

import (
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/auth"
	"github.com/ageniuscoder/roomtalk/backend/internal/chat"
	"github.com/ageniuscoder/roomtalk/backend/internal/httpx"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Service struct {
	Store  storage.Store
	Router *chat.Router
	Log    *zap.Logger
}

type sendReq struct {
	Content string             `json:"content" binding:"required"`
	Type    models.MessageType `json:"type" binding:"omitempty,oneof=text image file"`
}

type pageReq struct {
	Before time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" binding:"omitempty,min=1,max=200"`
}

type readReq struct {
	ConversationID string   `json:"conversationId" binding:"required"`
	MessageIDs     []string `json:"messageIds" binding:"required,min=1,dive,required"`
}

type reactReq struct {
	Emoji string `json:"emoji" binding:"required,max=32"`
}

func Register(rg *gin.RouterGroup, store storage.Store, router *chat.Router, log *zap.Logger) {
	s := Service{
		Store:  store,
		Router: router,
		Log:    log.Named("messages"),
	}
	rg.GET("/conversations/:id/messages", s.list)
	rg.POST("/conversations/:id/messages", s.send)
	rg.GET("/conversations/:id/unread", s.unread)
	rg.POST("/messages/read", s.markRead)
	rg.PATCH("/messages/:id/reactions", s.react)
	rg.DELETE("/messages/:id", s.remove)
}

func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}
	if err := models.ValidateContent(req.Content, req.Type); err != nil {
		httpx.Error(c, err)
		return
	}

	// authorize participant
	conv, err := storage.Participant(ctx, s.Store, c.Param("id"), uid)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	msg, err := s.Store.CreateMessage(ctx, models.NewMessage(conv.ID, uid, req.Content, req.Type))
	if err != nil {
		s.Log.Error("create message", zap.String("conversation_id", conv.ID), zap.Error(err))
		httpx.Error(c, storage.Wrap("create message", err))
		return
	}

	// fanout via router, the sender's sockets included
	s.Router.MessageCreated(ctx, msg)
	httpx.Created(c, msg)
}

// list returns a newest-first page; pass the oldest createdAt seen as
// ?before= to walk back.
func (s Service) list(c *gin.Context) {
	ctx := c.Request.Context()
	var q pageReq
	if err := c.ShouldBindQuery(&q); err != nil {
		httpx.BindErr(c, err)
		return
	}
	conv, err := storage.Participant(ctx, s.Store, c.Param("id"), auth.MustUserID(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}

	list, err := s.Store.ListMessages(ctx, conv.ID, storage.Page{Before: q.Before, Limit: q.Limit})
	if err != nil {
		s.Log.Error("list messages", zap.String("conversation_id", conv.ID), zap.Error(err))
		httpx.Error(c, storage.Wrap("list messages", err))
		return
	}
	if list == nil {
		list = []models.Message{}
	}
	httpx.OK(c, gin.H{"messages": list})
}

func (s Service) unread(c *gin.Context) {
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	conv, err := storage.Participant(ctx, s.Store, c.Param("id"), uid)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	n, err := s.Store.UnreadCount(ctx, conv.ID, uid)
	if err != nil {
		httpx.Error(c, storage.Wrap("unread count", err))
		return
	}
	httpx.OK(c, gin.H{"count": n})
}

func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	if _, err := storage.Participant(ctx, s.Store, req.ConversationID, uid); err != nil {
		httpx.Error(c, err)
		return
	}

	// Notify other participants via router
	updated, err := s.Router.MessagesRead(ctx, req.ConversationID, uid, req.MessageIDs)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	httpx.OK(c, gin.H{"messages": updated})
}

func (s Service) react(c *gin.Context) {
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	var req reactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	msg, err := s.member(c, uid)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	updated, err := s.Store.ToggleReaction(ctx, msg.ID, req.Emoji, uid)
	if err != nil {
		s.Log.Error("toggle reaction", zap.String("message_id", msg.ID), zap.Error(err))
		httpx.Error(c, storage.Wrap("toggle reaction", err))
		return
	}
	s.Router.ReactionUpdated(ctx, updated, uid, req.Emoji)
	httpx.OK(c, updated)
}

func (s Service) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	msg, err := s.member(c, uid)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if msg.SenderID != uid {
		httpx.Error(c, apperr.Forbidden("delete message", "only the sender can delete a message"))
		return
	}

	deleted, err := s.Store.DeleteMessage(ctx, msg.ID)
	if err != nil {
		httpx.Error(c, storage.Wrap("delete message", err))
		return
	}
	s.Router.MessageDeleted(ctx, deleted, uid)
	httpx.OK(c, gin.H{"ok": true})
}

// member loads the :id message for a participant of its conversation.
func (s Service) member(c *gin.Context, uid string) (*models.Message, error) {
	ctx := c.Request.Context()
	msg, err := s.Store.GetMessage(ctx, c.Param("id"))
	if err != nil {
		return nil, storage.Wrap("message", err)
	}
	if _, err := storage.Participant(ctx, s.Store, msg.ConversationID, uid); err != nil {
		return nil, err
	}
	return msg, nil
}
