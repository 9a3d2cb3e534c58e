// 文件: pkg/pair/repository.go
// 交易对存储接口
//
// Repository Pattern: 业务层只依赖接口，
// 可以在 MySQL 实现外面套 Redis 缓存装饰器

package pair

import "context"

// Repository 交易对存储接口
type Repository interface {
	// Create 创建交易对，symbol 已存在返回 ErrPairExists
	Create(ctx context.Context, p *Pair) error

	// GetByID 按内部 ID 查询，不存在返回 ErrPairNotFound
	GetByID(ctx context.Context, id int64) (*Pair, error)

	// GetBySymbol 按符号精确查询，不存在返回 ErrPairNotFound
	GetBySymbol(ctx context.Context, symbol string) (*Pair, error)

	// List 列出所有交易对
	List(ctx context.Context) ([]*Pair, error)

	// UpdateStatus 更新状态
	UpdateStatus(ctx context.Context, id int64, status Status) error
}
