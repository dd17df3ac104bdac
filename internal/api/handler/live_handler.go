package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/response"
)

// stream 以 SSE 推送 live query：先推一次快照，之后每次变更推送完整结果
// 实时消息快照只带最近这么多条，更早的走分页接口
const liveMessageWindow = 500

func (h *Handler) stream(c *gin.Context, topics []string, load func(context.Context) (any, error)) {
	ctx := c.Request.Context()
	sub, err := h.live.Subscribe(ctx, topics...)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)

	err = realtime.Stream(ctx, sub, load, func(v any) error {
		c.SSEvent("snapshot", v)
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("live stream ended", zap.Strings("topics", topics), zap.Error(err))
		c.SSEvent("error", err.Error())
		c.Writer.Flush()
	}
}

// LiveFeed 动态流的实时订阅
// @Summary 实时动态流
// @Tags 实时
// @Produce text/event-stream
// @Security BearerAuth
// @Param limit query int false "数量" default(20)
// @Router /api/v1/live/feed [get]
func (h *Handler) LiveFeed(c *gin.Context) {
	_, limit, _ := cursorParams(c)
	viewer := currentUser(c).ID
	h.stream(c, []string{realtime.TopicFeed}, func(ctx context.Context) (any, error) {
		return h.feedService.ListFeed(ctx, viewer, nil, limit)
	})
}

// LiveConversations 会话列表的实时订阅
// @Summary 实时会话列表
// @Tags 实时
// @Produce text/event-stream
// @Security BearerAuth
// @Router /api/v1/live/conversations [get]
func (h *Handler) LiveConversations(c *gin.Context) {
	me := currentUser(c).ID
	h.stream(c, []string{realtime.ConversationsTopic(me)}, func(ctx context.Context) (any, error) {
		return h.msgService.ListConversations(ctx, me, 50)
	})
}

// LiveMessages 单个会话消息的实时订阅
// @Summary 实时消息
// @Tags 实时
// @Produce text/event-stream
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Router /api/v1/live/conversations/{id}/messages [get]
func (h *Handler) LiveMessages(c *gin.Context) {
	me := currentUser(c).ID
	convID := c.Param("id")
	if _, err := h.msgService.GetConversation(c.Request.Context(), convID, me); err != nil {
		fail(c, err)
		return
	}
	h.stream(c, []string{realtime.MessagesTopic(convID)}, func(ctx context.Context) (any, error) {
		return h.msgService.RecentMessages(ctx, convID, me, liveMessageWindow)
	})
}

// LiveNotifications 通知的实时订阅
// @Summary 实时通知
// @Tags 实时
// @Produce text/event-stream
// @Security BearerAuth
// @Router /api/v1/live/notifications [get]
func (h *Handler) LiveNotifications(c *gin.Context) {
	me := currentUser(c).ID
	h.stream(c, []string{realtime.NotificationsTopic(me)}, func(ctx context.Context) (any, error) {
		list, err := h.notifyService.List(ctx, me, 1, 50)
		if err != nil {
			return nil, err
		}
		unread, err := h.notifyService.UnreadCount(ctx, me)
		if err != nil {
			return nil, err
		}
		return gin.H{"list": list, "unread": unread}, nil
	})
}
