package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/connectnow/internal/api/middleware"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/response"
)

type signupRequest struct {
	Name      string `json:"name" binding:"required,max=100"`
	Username  string `json:"username" binding:"required,handle"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8,max=72"`
	AvatarURL string `json:"avatar_url" binding:"omitempty,url"`
	Bio       string `json:"bio" binding:"max=500"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequest struct {
	Name      *string `json:"name" binding:"omitempty,min=1,max=100"`
	Username  *string `json:"username" binding:"omitempty,handle"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,url"`
	Bio       *string `json:"bio" binding:"omitempty,max=500"`
}

// Signup 注册并创建会话
// @Summary 注册
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body signupRequest true "注册信息"
// @Success 201 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/auth/signup [post]
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.sessionService.Signup(c.Request.Context(), service.SignupInput{
		Name:      req.Name,
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, gin.H{"user": user, "token": token})
}

// Login 登录
// @Summary 登录
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 401 {object} response.Response
// @Router /api/v1/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.sessionService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"user": user, "token": token})
}

// Logout 清除当前会话槽
// @Summary 退出登录
// @Tags 会话
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessionService.Logout(c.Request.Context(), middleware.SessionToken(c)); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Me 当前会话用户
// @Summary 当前用户
// @Tags 会话
// @Security BearerAuth
// @Success 200 {object} response.Response{data=model.User}
// @Router /api/v1/auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	response.Success(c, currentUser(c))
}

// GetUser 用户主页
// @Summary 查询用户
// @Tags 用户
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=model.User}
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{user_id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.sessionService.GetUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, user)
}

// SearchUsers 按姓名或用户名搜索，不含自己
// @Summary 搜索用户
// @Tags 用户
// @Security BearerAuth
// @Param q query string false "关键字"
// @Param limit query int false "数量" default(50)
// @Success 200 {object} response.Response{data=[]model.User}
// @Router /api/v1/users [get]
func (h *Handler) SearchUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	users, err := h.sessionService.SearchUsers(c.Request.Context(), currentUser(c).ID, c.Query("q"), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, users)
}

// UpdateProfile 修改自己的资料
// @Summary 修改资料
// @Tags 用户
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body updateProfileRequest true "资料"
// @Success 200 {object} response.Response{data=model.User}
// @Failure 409 {object} response.Response
// @Router /api/v1/users/me [patch]
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.sessionService.UpdateProfile(c.Request.Context(), currentUser(c).ID, service.ProfilePatch{
		Name:      req.Name,
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, user)
}

// DeleteAccount 删除自己的账号及全部数据
// @Summary 注销账号
// @Tags 用户
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/users/me [delete]
func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.sessionService.DeleteUser(c.Request.Context(), currentUser(c).ID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}
