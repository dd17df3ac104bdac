package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/response"
)

type createPostRequest struct {
	Content   string `json:"content" binding:"max=5000"`
	MediaURL  string `json:"media_url" binding:"omitempty,url"`
	MediaType string `json:"media_type" binding:"omitempty,oneof=image video"`
	Song      string `json:"song" binding:"max=255"`
}

type commentRequest struct {
	Text string `json:"text" binding:"required,max=2000"`
}

// CreatePost 发布动态
// @Summary 发布动态
// @Tags 动态
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createPostRequest true "动态内容"
// @Success 201 {object} response.Response{data=model.Post}
// @Failure 400 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	post, err := h.feedService.CreatePost(c.Request.Context(), currentUser(c).ID, service.CreatePostInput{
		Content:   req.Content,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
		Song:      req.Song,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, post)
}

// Feed 全站动态，按发布时间倒序
// @Summary 动态流
// @Tags 动态
// @Security BearerAuth
// @Param before query string false "游标（RFC3339）"
// @Param limit query int false "数量" default(20)
// @Success 200 {object} response.Response{data=[]service.PostView}
// @Router /api/v1/feed [get]
func (h *Handler) Feed(c *gin.Context) {
	before, limit, err := cursorParams(c)
	if err != nil {
		response.BadRequest(c, "invalid before cursor")
		return
	}
	posts, err := h.feedService.ListFeed(c.Request.Context(), currentUser(c).ID, before, limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, posts)
}

// UserPosts 某用户的动态
// @Summary 用户动态
// @Tags 动态
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Param before query string false "游标（RFC3339）"
// @Param limit query int false "数量" default(20)
// @Success 200 {object} response.Response{data=[]service.PostView}
// @Router /api/v1/users/{user_id}/posts [get]
func (h *Handler) UserPosts(c *gin.Context) {
	before, limit, err := cursorParams(c)
	if err != nil {
		response.BadRequest(c, "invalid before cursor")
		return
	}
	posts, err := h.feedService.ListByAuthor(c.Request.Context(), c.Param("user_id"), currentUser(c).ID, before, limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, posts)
}

// GetPost 单条动态
// @Summary 动态详情
// @Tags 动态
// @Security BearerAuth
// @Param post_id path string true "动态ID"
// @Success 200 {object} response.Response{data=service.PostView}
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{post_id} [get]
func (h *Handler) GetPost(c *gin.Context) {
	post, err := h.feedService.GetPost(c.Request.Context(), c.Param("post_id"), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, post)
}

// ToggleLike 点赞/取消点赞
// @Summary 切换点赞
// @Tags 动态
// @Security BearerAuth
// @Param post_id path string true "动态ID"
// @Success 200 {object} response.Response{data=service.LikeResult}
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{post_id}/like [post]
func (h *Handler) ToggleLike(c *gin.Context) {
	res, err := h.feedService.ToggleLike(c.Request.Context(), c.Param("post_id"), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, res)
}

// AddComment 发表评论
// @Summary 发表评论
// @Tags 动态
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param post_id path string true "动态ID"
// @Param request body commentRequest true "评论"
// @Success 201 {object} response.Response{data=service.CommentView}
// @Router /api/v1/posts/{post_id}/comments [post]
func (h *Handler) AddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	comment, err := h.feedService.AddComment(c.Request.Context(), c.Param("post_id"), currentUser(c).ID, req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, comment)
}

// ListComments 评论列表，按时间正序
// @Summary 评论列表
// @Tags 动态
// @Security BearerAuth
// @Param post_id path string true "动态ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(50)
// @Success 200 {object} response.Response{data=[]service.CommentView}
// @Router /api/v1/posts/{post_id}/comments [get]
func (h *Handler) ListComments(c *gin.Context) {
	page, pageSize := pageParams(c, 50)
	list, err := h.feedService.ListComments(c.Request.Context(), c.Param("post_id"), page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, list)
}
