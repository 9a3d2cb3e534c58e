// 文件: pkg/pair/mysql_repo.go
package pair

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var _ Repository = (*MySQLRepository)(nil)

type MySQLRepository struct {
	db *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Create(ctx context.Context, p *Pair) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Pair{}).
		Where("symbol = ?", p.Symbol).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrPairExists
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *MySQLRepository) GetByID(ctx context.Context, id int64) (*Pair, error) {
	var p Pair
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPairNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MySQLRepository) GetBySymbol(ctx context.Context, symbol string) (*Pair, error) {
	var p Pair
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPairNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MySQLRepository) List(ctx context.Context) ([]*Pair, error) {
	var pairs []*Pair
	err := r.db.WithContext(ctx).Order("symbol ASC").Find(&pairs).Error
	return pairs, err
}

func (r *MySQLRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	result := r.db.WithContext(ctx).Model(&Pair{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPairNotFound
	}
	return nil
}
