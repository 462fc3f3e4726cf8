package feature

import (
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/httpx"
	"github.com/ageniuscoder/roomtalk/backend/internal/presence"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Service struct {
	Presence presence.Tracker
	Log      *zap.Logger
}

func Register(rg *gin.RouterGroup, tracker presence.Tracker, log *zap.Logger) {
	s := Service{
		Presence: tracker,
		Log:      log.Named("feature"),
	}
	rg.GET("/users/:id/presence", s.getPresence)
}

func (s Service) getPresence(c *gin.Context) {
	userID := c.Param("id")
	ctx := c.Request.Context()

	online, err := s.Presence.Online(ctx, userID)
	if err != nil {
		s.Log.Error("presence lookup", zap.String("user_id", userID), zap.Error(err))
		httpx.Err(c, 500, "presence lookup failed")
		return
	}
	out := gin.H{"userId": userID, "online": online}

	lastSeen, err := s.Presence.LastSeen(ctx, userID)
	if err != nil {
		s.Log.Warn("last seen lookup", zap.String("user_id", userID), zap.Error(err))
	} else if !lastSeen.IsZero() {
		out["lastSeen"] = lastSeen.UTC().Format(time.RFC3339)
	}
	httpx.OK(c, out)
}
