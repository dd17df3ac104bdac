package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

// SessionClaims JWT 载荷，jti 指向 Redis 中保存当前用户的会话槽
type SessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

type SignupInput struct {
	Name      string
	Username  string
	Email     string
	Password  string
	AvatarURL string
	Bio       string
}

// ProfilePatch 只更新非 nil 字段
type ProfilePatch struct {
	Name      *string
	Username  *string
	AvatarURL *string
	Bio       *string
}

// SessionService 会话与用户资料
type SessionService interface {
	Signup(ctx context.Context, in SignupInput) (*model.User, string, error)
	Login(ctx context.Context, email, password string) (*model.User, string, error)
	Current(ctx context.Context, token string) (*model.User, error)
	Logout(ctx context.Context, token string) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*model.User, error)
	SearchUsers(ctx context.Context, viewerID, term string, limit int) ([]*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type sessionService struct {
	db       *gorm.DB
	users    repository.UserRepository
	rdb      *redis.Client
	cache    *relcache.Cache
	cascader *Cascader
	cfg      config.JWTConfig
}

func NewSessionService(db *gorm.DB, users repository.UserRepository, rdb *redis.Client, cache *relcache.Cache, cascader *Cascader, cfg config.JWTConfig) SessionService {
	if cfg.TTL <= 0 {
		cfg.TTL = 72 * time.Hour
	}
	return &sessionService{db: db, users: users, rdb: rdb, cache: cache, cascader: cascader, cfg: cfg}
}

func sessionKey(jti string) string { return "session:" + jti }

func userSessionsKey(userID string) string { return "sessions:" + userID }

func (s *sessionService) Signup(ctx context.Context, in SignupInput) (*model.User, string, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)

	taken, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email, "")
	if err != nil {
		return nil, "", err
	}
	if taken {
		return nil, "", ErrDuplicateUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Username:  in.Username,
		Email:     in.Email,
		Password:  string(hash),
		AvatarURL: in.AvatarURL,
		Bio:       in.Bio,
	}
	if err := s.users.Create(ctx, u); err != nil {
		// 并发注册同名账号时，查重之后仍可能撞上唯一索引
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", ErrDuplicateUser
		}
		return nil, "", err
	}
	metrics.Observe("signup", nil)

	token, err := s.issue(ctx, u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *sessionService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issue(ctx, u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// issue 签发 token 并把序列化后的用户写入会话槽
func (s *sessionService) issue(ctx context.Context, u *model.User) (string, error) {
	now := time.Now()
	jti := uuid.New().String()
	claims := SessionClaims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	if err := s.saveSlot(ctx, jti, u); err != nil {
		return "", err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, userSessionsKey(u.ID), jti)
	pipe.Expire(ctx, userSessionsKey(u.ID), s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("index session: %w", err)
	}
	return token, nil
}

func (s *sessionService) saveSlot(ctx context.Context, jti string, u *model.User) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, sessionKey(jti), payload, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *sessionService) parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

func (s *sessionService) Current(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, sessionKey(claims.ID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		logger.Warn("corrupt session slot", zap.String("jti", claims.ID), zap.Error(err))
		return nil, ErrSessionExpired
	}
	return &u, nil
}

func (s *sessionService) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(claims.ID))
	pipe.SRem(ctx, userSessionsKey(claims.UserID), claims.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *sessionService) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *sessionService) UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*model.User, error) {
	if _, err := s.GetUser(ctx, id); err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if patch.Name != nil {
		fields["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Username != nil {
		username := strings.TrimSpace(*patch.Username)
		taken, err := s.users.ExistsByUsernameOrEmail(ctx, username, "", id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateUser
		}
		fields["username"] = username
	}
	if patch.AvatarURL != nil {
		fields["avatar_url"] = *patch.AvatarURL
	}
	if patch.Bio != nil {
		fields["bio"] = *patch.Bio
	}
	if len(fields) > 0 {
		if err := s.users.Update(ctx, id, fields); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrDuplicateUser
			}
			return nil, err
		}
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.InvalidateUser(ctx, id)
	}
	s.refreshSlots(ctx, u)
	return u, nil
}

// refreshSlots 资料变更后同步该用户所有会话槽里的快照
func (s *sessionService) refreshSlots(ctx context.Context, u *model.User) {
	jtis, err := s.rdb.SMembers(ctx, userSessionsKey(u.ID)).Result()
	if err != nil {
		logger.Warn("list sessions failed", zap.String("user", u.ID), zap.Error(err))
		return
	}
	for _, jti := range jtis {
		ttl, err := s.rdb.TTL(ctx, sessionKey(jti)).Result()
		if err != nil || ttl <= 0 {
			continue
		}
		payload, err := json.Marshal(u)
		if err != nil {
			return
		}
		_ = s.rdb.Set(ctx, sessionKey(jti), payload, ttl).Err()
	}
}

func (s *sessionService) SearchUsers(ctx context.Context, viewerID, term string, limit int) ([]*model.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.users.Search(ctx, term, viewerID, limit)
}

// DeleteUser 级联删除该用户的全部数据，并使其会话失效
func (s *sessionService) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.cascader.DeleteUser(ctx, id); err != nil {
		return err
	}
	jtis, err := s.rdb.SMembers(ctx, userSessionsKey(id)).Result()
	if err == nil {
		keys := []string{userSessionsKey(id)}
		for _, jti := range jtis {
			keys = append(keys, sessionKey(jti))
		}
		_ = s.rdb.Del(ctx, keys...).Err()
	}
	metrics.Observe("delete_user", nil)
	return nil
}
