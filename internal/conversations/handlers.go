package conversations

import (
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

type createReq struct {
	Type         models.ConversationType `json:"type" binding:"omitempty,oneof=direct group"`
	Participants []string                `json:"participants" binding:"required,min=1,dive,required"`
	Name         string                  `json:"name" binding:"max=100"`
}

type addReq struct {
	UserID string `json:"userId" binding:"required"`
}

func Register(rg *gin.RouterGroup, store storage.Store, router *chat.Router, log *zap.Logger) {
	s := Service{
		Store:  store,
		Router: router,
		Log:    log.Named("conversations"),
	}
	rg.POST("/conversations", s.create)
	rg.GET("/conversations", s.listMine)
	rg.GET("/conversations/:id", s.get)
	rg.DELETE("/conversations/:id", s.remove)
	rg.POST("/conversations/:id/participants", s.addParticipant)
	rg.DELETE("/conversations/:id/participants/:userId", s.removeParticipant)
}

// create returns the existing conversation for a direct pair instead of
// making a second one.
func (s Service) create(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	conv := &models.Conversation{
		Type:         req.Type,
		Participants: append([]string{uid}, req.Participants...),
		Name:         req.Name,
	}
	conv.Normalize()
	if err := conv.Validate(); err != nil {
		httpx.Error(c, err)
		return
	}

	saved, created, err := s.Store.CreateConversation(c.Request.Context(), conv)
	if err != nil {
		s.Log.Error("create conversation", zap.String("user_id", uid), zap.Error(err))
		httpx.Error(c, storage.Wrap("create conversation", err))
		return
	}
	if !created {
		httpx.OK(c, saved)
		return
	}
	s.Router.ConversationCreated(c.Request.Context(), saved, uid)
	httpx.Created(c, saved)
}

func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()

	list, err := s.Store.ListConversations(ctx, uid)
	if err != nil {
		s.Log.Error("list conversations", zap.String("user_id", uid), zap.Error(err))
		httpx.Error(c, storage.Wrap("list conversations", err))
		return
	}
	for i := range list {
		n, err := s.Store.UnreadCount(ctx, list[i].ID, uid)
		if err != nil {
			// a missing count is not worth failing the whole list
			s.Log.Warn("unread count", zap.String("conversation_id", list[i].ID), zap.Error(err))
			continue
		}
		list[i].UnreadCount = n
	}
	models.SortByActivity(list)
	if list == nil {
		list = []models.Conversation{}
	}
	httpx.OK(c, gin.H{"conversations": list})
}

func (s Service) get(c *gin.Context) {
	conv, err := storage.Participant(c.Request.Context(), s.Store, c.Param("id"), auth.MustUserID(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	httpx.OK(c, conv)
}

func (s Service) remove(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := storage.Participant(ctx, s.Store, c.Param("id"), auth.MustUserID(c))
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if err := s.Store.DeleteConversation(ctx, conv.ID); err != nil {
		httpx.Error(c, storage.Wrap("delete conversation", err))
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) addParticipant(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := s.group(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	var req addReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	updated, err := s.Store.AddParticipant(ctx, conv.ID, req.UserID)
	if err != nil {
		httpx.Error(c, storage.Wrap("add participant", err))
		return
	}
	if !conv.HasParticipant(req.UserID) {
		s.Router.ParticipantAdded(updated, req.UserID)
	}
	httpx.OK(c, updated)
}

func (s Service) removeParticipant(c *gin.Context) {
	conv, err := s.group(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	updated, err := s.Store.RemoveParticipant(c.Request.Context(), conv.ID, c.Param("userId"))
	if err != nil {
		httpx.Error(c, storage.Wrap("remove participant", err))
		return
	}
	httpx.OK(c, updated)
}

// group loads the :id conversation for a member and refuses direct ones,
// whose membership is fixed.
func (s Service) group(c *gin.Context) (*models.Conversation, error) {
	conv, err := storage.Participant(c.Request.Context(), s.Store, c.Param("id"), auth.MustUserID(c))
	if err != nil {
		return nil, err
	}
	if conv.Type != models.ConversationGroup {
		return nil, apperr.Validation("participants", "direct conversations have fixed participants")
	}
	return conv, nil
}
