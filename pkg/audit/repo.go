// 文件: pkg/audit/repo.go
package audit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

// NewRepo 创建审计仓库
// 结算引擎在事务内用事务句柄构造，保证审计行和状态翻转一起提交
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert 追加一条审计记录
func (r *Repo) Insert(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(e).Error
}

// ListByWager 查询某个期权单的全部审计记录 (时间正序)
func (r *Repo) ListByWager(ctx context.Context, wagerID int64) ([]*Entry, error) {
	var entries []*Entry
	err := r.db.WithContext(ctx).
		Where("wager_id = ?", wagerID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// CountByWager 审计行数 (正常情况下恰好为 1)
func (r *Repo) CountByWager(ctx context.Context, wagerID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Entry{}).
		Where("wager_id = ?", wagerID).
		Count(&count).Error
	return count, err
}
