// 文件: pkg/pair/cache_repo.go
// 交易对 Redis 缓存层
//
// 装饰器模式: 包装底层 Repository，透明添加缓存
// 读: 先查 Redis，miss 则查底层并回填
// 写: 先写底层，成功后删除缓存 (Cache Aside)

package pair

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Repository = (*CachedRepository)(nil)

const (
	cacheKeyByID     = "pair:id:%d"
	cacheKeyBySymbol = "pair:symbol:%s"
	cacheKeyList     = "pair:all"

	cacheTTL     = 24 * time.Hour
	listCacheTTL = 5 * time.Minute // 列表可能随上新变化，TTL 较短
)

type CachedRepository struct {
	repo  Repository
	redis *redis.Client
}

func NewCachedRepository(repo Repository, rds *redis.Client) *CachedRepository {
	return &CachedRepository{repo: repo, redis: rds}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

func (r *CachedRepository) GetByID(ctx context.Context, id int64) (*Pair, error) {
	return r.getCached(ctx, fmt.Sprintf(cacheKeyByID, id), func() (*Pair, error) {
		return r.repo.GetByID(ctx, id)
	})
}

func (r *CachedRepository) GetBySymbol(ctx context.Context, symbol string) (*Pair, error) {
	return r.getCached(ctx, fmt.Sprintf(cacheKeyBySymbol, symbol), func() (*Pair, error) {
		return r.repo.GetBySymbol(ctx, symbol)
	})
}

func (r *CachedRepository) getCached(ctx context.Context, key string, load func() (*Pair, error)) (*Pair, error) {
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var p Pair
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := load()
	if err != nil {
		return nil, err
	}

	// 异步回填，不阻塞主流程
	go r.setCache(context.Background(), key, p, cacheTTL)
	return p, nil
}

func (r *CachedRepository) List(ctx context.Context) ([]*Pair, error) {
	data, err := r.redis.Get(ctx, cacheKeyList).Bytes()
	if err == nil {
		var pairs []*Pair
		if json.Unmarshal(data, &pairs) == nil {
			return pairs, nil
		}
	}

	pairs, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(pairs); err == nil {
		r.redis.Set(ctx, cacheKeyList, raw, listCacheTTL)
	}
	return pairs, nil
}

// =============================================================================
// 写操作 (写底层 + 删缓存)
// =============================================================================

func (r *CachedRepository) Create(ctx context.Context, p *Pair) error {
	if err := r.repo.Create(ctx, p); err != nil {
		return err
	}
	r.redis.Del(ctx, cacheKeyList)
	return nil
}

func (r *CachedRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	if err := r.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	// 删缓存需要 symbol，按 ID 反查一次
	if p, err := r.repo.GetByID(ctx, id); err == nil {
		r.redis.Del(ctx,
			fmt.Sprintf(cacheKeyByID, id),
			fmt.Sprintf(cacheKeyBySymbol, p.Symbol),
			cacheKeyList,
		)
	}
	return nil
}

func (r *CachedRepository) setCache(ctx context.Context, key string, p *Pair, ttl time.Duration) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}
