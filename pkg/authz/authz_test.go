// 文件: pkg/authz/authz_test.go
// 管理员鉴权集成测试 (需要本地 MySQL，Redis 缺省时走纯 DB 路径)

package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testDSN = "root:123456@tcp(127.0.0.1:3307)/hbx_test?charset=utf8mb4&parseTime=True&loc=Local"

func setupService(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("mysql not available: %v", err)
	}
	require.NoError(t, db.AutoMigrate(&UserRole{}))
	return NewService(db, nil), db
}

func TestRequireAdmin(t *testing.T) {
	svc, db := setupService(t)
	admin, user, nobody := int64(9401), int64(9402), int64(9403)
	db.Exec("DELETE FROM user_roles WHERE user_id IN ?", []int64{admin, user, nobody})
	defer db.Exec("DELETE FROM user_roles WHERE user_id IN ?", []int64{admin, user, nobody})

	ctx := context.Background()
	require.NoError(t, svc.SetRole(ctx, admin, RoleAdmin))
	require.NoError(t, svc.SetRole(ctx, user, RoleUser))

	assert.NoError(t, svc.RequireAdmin(ctx, admin))
	assert.ErrorIs(t, svc.RequireAdmin(ctx, user), ErrNotAdmin)
	// 角色表无记录同样拒绝
	assert.ErrorIs(t, svc.RequireAdmin(ctx, nobody), ErrNotAdmin)
}

func TestSetRole_Upsert(t *testing.T) {
	svc, db := setupService(t)
	userID := int64(9404)
	db.Exec("DELETE FROM user_roles WHERE user_id = ?", userID)
	defer db.Exec("DELETE FROM user_roles WHERE user_id = ?", userID)

	ctx := context.Background()
	require.NoError(t, svc.SetRole(ctx, userID, RoleUser))
	require.ErrorIs(t, svc.RequireAdmin(ctx, userID), ErrNotAdmin)

	// 升级为管理员: 覆盖而不是新增
	require.NoError(t, svc.SetRole(ctx, userID, RoleAdmin))
	require.NoError(t, svc.RequireAdmin(ctx, userID))

	var count int64
	db.Model(&UserRole{}).Where("user_id = ?", userID).Count(&count)
	assert.Equal(t, int64(1), count)
}
