// 文件: pkg/wallet/repo.go
// 钱包账本 - 存储层 (GORM 实现)
//
// 【并发模型】
// 读后写的余额操作必须走 LockForUpdate (SELECT ... FOR UPDATE)，
// 并且整个操作在一个事务内完成。互斥靠数据库行锁，不靠进程内锁，
// 多进程部署下依然安全。
//
// 【约束】持有行锁期间禁止等待外部 I/O (行情查询等)，
// 外部数据在进入事务前取好。
//
// 变更方法返回更新后的余额和流水，调用方在事务提交后
// 把它们交给事件总线发布。

package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo 钱包仓库
// db 可以是根连接，也可以是事务句柄 (Transaction 内部传入)
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Transaction 在一个数据库事务内执行 fn
// fn 内的所有仓库操作共享同一事务与行锁
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// DB 返回底层句柄 (同事务内操作其他表时使用)
func (r *Repo) DB() *gorm.DB {
	return r.db
}

// =============================================================================
// 查询
// =============================================================================

// Get 查询余额 (无锁读，供展示层使用)
// 不存在返回 (nil, nil)
func (r *Repo) Get(ctx context.Context, userID int64, asset string) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND asset = ?", userID, asset).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetAll 查询用户所有资产余额
func (r *Repo) GetAll(ctx context.Context, userID int64) ([]*Wallet, error) {
	var ws []*Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("asset ASC").
		Find(&ws).Error
	return ws, err
}

// LockForUpdate 加行锁读取余额，必须在事务内调用
// 并发下第二个调用方会在这里等待，拿到锁后看到最新余额
func (r *Repo) LockForUpdate(ctx context.Context, userID int64, asset string) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND asset = ?", userID, asset).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// =============================================================================
// 余额变更 (均需在事务内调用)
// =============================================================================

// Reserve 冻结: available -= amount, locked += amount
// 余额不足返回 ErrInsufficientBalance，不产生任何变更
func (r *Repo) Reserve(ctx context.Context, userID int64, asset string, amount int64, biz BizType, bizID string) (*Wallet, *JournalEntry, error) {
	return r.mutate(ctx, userID, asset, amount, ChangeTypeReserve, biz, bizID,
		func(w *Wallet) error {
			if w.Available < amount {
				return ErrInsufficientBalance
			}
			w.Available -= amount
			w.Locked += amount
			return nil
		})
}

// Release 解冻: locked -= amount, available += amount
func (r *Repo) Release(ctx context.Context, userID int64, asset string, amount int64, biz BizType, bizID string) (*Wallet, *JournalEntry, error) {
	return r.mutate(ctx, userID, asset, amount, ChangeTypeRelease, biz, bizID,
		func(w *Wallet) error {
			if w.Locked < amount {
				return ErrInsufficientLocked
			}
			w.Locked -= amount
			w.Available += amount
			return nil
		})
}

// DebitLocked 扣除冻结: locked -= amount (成交付款/输单没收)
func (r *Repo) DebitLocked(ctx context.Context, userID int64, asset string, amount int64, biz BizType, bizID string) (*Wallet, *JournalEntry, error) {
	return r.mutate(ctx, userID, asset, amount, ChangeTypeDebit, biz, bizID,
		func(w *Wallet) error {
			if w.Locked < amount {
				return ErrInsufficientLocked
			}
			w.Locked -= amount
			return nil
		})
}

// CreditAvailable 入账: available += amount (成交收款/赢单派彩)
// 钱包行不存在时自动创建
func (r *Repo) CreditAvailable(ctx context.Context, userID int64, asset string, amount int64, biz BizType, bizID string) (*Wallet, *JournalEntry, error) {
	return r.mutateOrCreate(ctx, userID, asset, amount, ChangeTypeCredit, biz, bizID)
}

// Deposit 充值: available += amount
// 首次充值创建钱包行 (账户生命周期的起点)，内部自带事务
func (r *Repo) Deposit(ctx context.Context, userID int64, asset string, amount int64, depositID string) (*Wallet, *JournalEntry, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	var (
		outW *Wallet
		outE *JournalEntry
	)
	err := r.Transaction(ctx, func(tx *Repo) error {
		w, e, err := tx.mutateOrCreate(ctx, userID, asset, amount, ChangeTypeDeposit, BizTypeDeposit, depositID)
		if err != nil {
			return err
		}
		outW, outE = w, e
		return nil
	})
	return outW, outE, err
}

// =============================================================================
// 内部实现
// =============================================================================

// mutate 锁行 → 应用变更 → 校验不变量 → 落库 → 写流水
func (r *Repo) mutate(ctx context.Context, userID int64, asset string, amount int64,
	change ChangeType, biz BizType, bizID string, apply func(w *Wallet) error) (*Wallet, *JournalEntry, error) {

	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	w, err := r.LockForUpdate(ctx, userID, asset)
	if err != nil {
		return nil, nil, err
	}

	availBefore, lockBefore := w.Available, w.Locked
	if err := apply(w); err != nil {
		return nil, nil, err
	}
	if w.Available < 0 || w.Locked < 0 {
		// 提交点不变量，apply 的余额检查应当已经拦住
		return nil, nil, ErrInsufficientBalance
	}

	w.Version++
	w.UpdatedAt = time.Now()

	err = r.db.WithContext(ctx).Model(&Wallet{}).
		Where("id = ?", w.ID).
		Updates(map[string]any{
			"available":  w.Available,
			"locked":     w.Locked,
			"version":    w.Version,
			"updated_at": w.UpdatedAt,
		}).Error
	if err != nil {
		return nil, nil, err
	}

	entry, err := r.insertJournal(ctx, w, change, amount, availBefore, lockBefore, biz, bizID)
	if err != nil {
		return nil, nil, err
	}
	return w, entry, nil
}

// mutateOrCreate 入账专用: 行不存在则创建后重试
func (r *Repo) mutateOrCreate(ctx context.Context, userID int64, asset string, amount int64,
	change ChangeType, biz BizType, bizID string) (*Wallet, *JournalEntry, error) {

	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	w, err := r.LockForUpdate(ctx, userID, asset)
	if errors.Is(err, ErrWalletNotFound) {
		// 首次入账，先占位再锁 (OnConflict 应对并发创建)
		seed := &Wallet{UserID: userID, Asset: asset, UpdatedAt: time.Now()}
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(seed).Error; err != nil {
			return nil, nil, err
		}
		w, err = r.LockForUpdate(ctx, userID, asset)
	}
	if err != nil {
		return nil, nil, err
	}

	availBefore, lockBefore := w.Available, w.Locked
	w.Available += amount
	w.Version++
	w.UpdatedAt = time.Now()

	err = r.db.WithContext(ctx).Model(&Wallet{}).
		Where("id = ?", w.ID).
		Updates(map[string]any{
			"available":  w.Available,
			"version":    w.Version,
			"updated_at": w.UpdatedAt,
		}).Error
	if err != nil {
		return nil, nil, err
	}

	entry, err := r.insertJournal(ctx, w, change, amount, availBefore, lockBefore, biz, bizID)
	if err != nil {
		return nil, nil, err
	}
	return w, entry, nil
}

func (r *Repo) insertJournal(ctx context.Context, w *Wallet, change ChangeType, amount int64,
	availBefore, lockBefore int64, biz BizType, bizID string) (*JournalEntry, error) {

	entry := &JournalEntry{
		EventID:         fmt.Sprintf("%s_%s_%d_%s", change, bizID, w.UserID, w.Asset),
		UserID:          w.UserID,
		Asset:           w.Asset,
		ChangeType:      change,
		Amount:          amount,
		AvailableBefore: availBefore,
		AvailableAfter:  w.Available,
		LockedBefore:    lockBefore,
		LockedAfter:     w.Locked,
		BizType:         biz,
		BizID:           bizID,
		CreatedAt:       time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// ListJournals 查询用户流水 (时间倒序)
func (r *Repo) ListJournals(ctx context.Context, userID int64, asset string, limit, offset int) ([]*JournalEntry, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if asset != "" {
		query = query.Where("asset = ?", asset)
	}

	var entries []*JournalEntry
	err := query.Find(&entries).Error
	return entries, err
}
