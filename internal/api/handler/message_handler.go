package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/connectnow/pkg/response"
)

type openConversationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required,max=4000"`
}

// OpenConversation 打开或创建与某用户的会话
// @Summary 打开会话
// @Tags 私信
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body openConversationRequest true "对方用户"
// @Success 200 {object} response.Response{data=model.Conversation}
// @Router /api/v1/conversations [post]
func (h *Handler) OpenConversation(c *gin.Context) {
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	conv, err := h.msgService.OpenOrCreate(c.Request.Context(), currentUser(c).ID, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, conv)
}

// ListConversations 会话列表，按最近活动倒序
// @Summary 会话列表
// @Tags 私信
// @Security BearerAuth
// @Param limit query int false "数量" default(50)
// @Success 200 {object} response.Response{data=[]service.ConversationSummary}
// @Router /api/v1/conversations [get]
func (h *Handler) ListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.msgService.ListConversations(c.Request.Context(), currentUser(c).ID, limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, list)
}

// ListMessages 会话消息，按时间正序
// @Summary 消息列表
// @Tags 私信
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(200)
// @Success 200 {object} response.Response{data=[]model.Message}
// @Failure 403 {object} response.Response
// @Router /api/v1/conversations/{id}/messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	page, pageSize := pageParams(c, 200)
	list, err := h.msgService.ListMessages(c.Request.Context(), c.Param("id"), currentUser(c).ID, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, list)
}

// SendMessage 发送消息
// @Summary 发送消息
// @Tags 私信
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body sendMessageRequest true "消息"
// @Success 201 {object} response.Response{data=model.Message}
// @Failure 403 {object} response.Response
// @Router /api/v1/conversations/{id}/messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msg, err := h.msgService.SendMessage(c.Request.Context(), c.Param("id"), currentUser(c).ID, req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, msg)
}
