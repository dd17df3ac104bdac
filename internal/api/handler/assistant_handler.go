package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/connectnow/internal/ai"
	"github.com/d60-Lab/connectnow/pkg/response"
)

type chatReplyRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Message        string `json:"message" binding:"required,max=4000"`
}

type profileSuggestionsRequest struct {
	PhotoDataURI string `json:"photo_data_uri" binding:"required"`
	Description  string `json:"description" binding:"required,max=2000"`
	Audience     string `json:"audience" binding:"required,max=500"`
	Industry     string `json:"industry" binding:"required,max=200"`
}

type reelRequest struct {
	Prompt string `json:"prompt" binding:"required,max=2000"`
}

// ChatReply 以对方的身份生成一条回复
// @Summary AI 代答
// @Description 生成服务失败时 data.success=false，HTTP 状态仍为 200
// @Tags AI
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body chatReplyRequest true "会话与新消息"
// @Success 200 {object} response.Response{data=service.Result[ai.Reply]}
// @Failure 403 {object} response.Response
// @Router /api/v1/ai/chat [post]
func (h *Handler) ChatReply(c *gin.Context) {
	var req chatReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.assistant.ChatReply(c.Request.Context(), req.ConversationID, currentUser(c).ID, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

// ProfileSuggestions 主页优化建议
// @Summary AI 主页建议
// @Tags AI
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body profileSuggestionsRequest true "主页信息"
// @Success 200 {object} response.Response{data=service.Result[ai.Suggestions]}
// @Router /api/v1/ai/profile-suggestions [post]
func (h *Handler) ProfileSuggestions(c *gin.Context) {
	var req profileSuggestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res := h.assistant.AnalyzeProfile(c.Request.Context(), ai.ProfileInput{
		PhotoDataURI: req.PhotoDataURI,
		Description:  req.Description,
		Audience:     req.Audience,
		Industry:     req.Industry,
	})
	response.Success(c, res)
}

// CreateReel 根据描述生成短视频，返回 data URI
// @Summary AI 短视频
// @Tags AI
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body reelRequest true "视频描述"
// @Success 200 {object} response.Response{data=service.Result[string]}
// @Router /api/v1/ai/reels [post]
func (h *Handler) CreateReel(c *gin.Context) {
	var req reelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, h.assistant.CreateReel(c.Request.Context(), req.Prompt))
}
