// 文件: pkg/authz/authz.go
// 管理员鉴权 - MySQL 角色表 + Redis 旁路缓存
//
// 人工结算裁定只允许管理员操作。角色读多写少，
// 走缓存 + 显式 TTL，改角色时主动失效。

package authz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormclause "gorm.io/gorm/clause"
)

var ErrNotAdmin = errors.New("admin privilege required")

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	roleCacheTTL = 10 * time.Minute
	roleKeyFmt   = "authz:role:%d"
	// 角色表无此用户时缓存的占位值，挡住缓存穿透
	roleNone = "__none__"
)

// UserRole 角色表
type UserRole struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;uniqueIndex"`
	Role      string    `gorm:"column:role;type:varchar(16)"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

// =============================================================================
// Service
// =============================================================================

type Service struct {
	db    *gorm.DB
	redis *redis.Client // 可为 nil，降级为纯 DB 查询
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{db: db, redis: rdb}
}

// RequireAdmin 校验管理员身份，非管理员返回 ErrNotAdmin
func (s *Service) RequireAdmin(ctx context.Context, userID int64) error {
	role, err := s.role(ctx, userID)
	if err != nil {
		return err
	}
	if role != RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

func (s *Service) role(ctx context.Context, userID int64) (string, error) {
	key := fmt.Sprintf(roleKeyFmt, userID)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, key).Result()
		if err == nil {
			if cached == roleNone {
				return "", nil
			}
			return cached, nil
		}
		if err != redis.Nil {
			log.Printf("[Authz] cache read failed, fallthrough to db: user_id=%d, err=%v", userID, err)
		}
	}

	var row UserRole
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	role := row.Role
	if errors.Is(err, gorm.ErrRecordNotFound) {
		role, err = "", nil
	}
	if err != nil {
		return "", err
	}

	if s.redis != nil {
		cacheVal := role
		if cacheVal == "" {
			cacheVal = roleNone
		}
		if err := s.redis.Set(ctx, key, cacheVal, roleCacheTTL).Err(); err != nil {
			log.Printf("[Authz] cache write failed: user_id=%d, err=%v", userID, err)
		}
	}
	return role, nil
}

// SetRole 设置角色并主动失效缓存
func (s *Service) SetRole(ctx context.Context, userID int64, role string) error {
	row := UserRole{UserID: userID, Role: role, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(gormclause.OnConflict{
			Columns:   []gormclause.Column{{Name: "user_id"}},
			DoUpdates: gormclause.Assignments(map[string]any{"role": role, "updated_at": row.UpdatedAt}),
		}).
		Create(&row).Error
	if err != nil {
		return err
	}
	s.InvalidateUser(ctx, userID)
	return nil
}

// InvalidateUser 删除用户的角色缓存
func (s *Service) InvalidateUser(ctx context.Context, userID int64) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf(roleKeyFmt, userID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		log.Printf("[Authz] cache invalidate failed: user_id=%d, err=%v", userID, err)
	}
}
