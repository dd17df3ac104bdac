package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/ai"
	"github.com/d60-Lab/connectnow/internal/api/middleware"
	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/response"
)

// Services 构造 Handler 所需的全部依赖
type Services struct {
	Session      service.SessionService
	Relationship service.RelationshipService
	Feed         service.FeedService
	Messaging    service.MessagingService
	Notification service.NotificationService
	Assistant    service.AssistantService
	Live         *realtime.Broadcaster
	DB           *gorm.DB
	Redis        *redis.Client
}

type Handler struct {
	sessionService service.SessionService
	relService     service.RelationshipService
	feedService    service.FeedService
	msgService     service.MessagingService
	notifyService  service.NotificationService
	assistant      service.AssistantService
	live           *realtime.Broadcaster
	db             *gorm.DB
	rdb            *redis.Client
}

func New(s Services) *Handler {
	return &Handler{
		sessionService: s.Session,
		relService:     s.Relationship,
		feedService:    s.Feed,
		msgService:     s.Messaging,
		notifyService:  s.Notification,
		assistant:      s.Assistant,
		live:           s.Live,
		db:             s.DB,
		rdb:            s.Redis,
	}
}

// fail 把业务错误映射为 HTTP 状态
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrPostNotFound),
		errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrNotificationNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrMessageSelf),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, ai.ErrInvalidPhoto):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrDuplicateUser):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrSessionExpired):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotParticipant):
		response.Forbidden(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

func currentUser(c *gin.Context) *model.User {
	return middleware.CurrentUser(c)
}

func pageParams(c *gin.Context, defaultSize int) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultSize)))
	return page, pageSize
}

// cursorParams 解析 before(RFC3339) 与 limit
func cursorParams(c *gin.Context) (*time.Time, int, error) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	raw := c.Query("before")
	if raw == "" {
		return nil, limit, nil
	}
	before, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, 0, err
	}
	before = before.UTC()
	return &before, limit, nil
}
