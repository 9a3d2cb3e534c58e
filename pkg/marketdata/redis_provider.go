// 文件: pkg/marketdata/redis_provider.go
// Redis 价格提供者
//
// 外部行情协作方把报价写进 Redis:
//   price:last:{asset}  当前参考价
//   price:final:{asset} 结算价 (到期窗口均价，由行情方计算)
// 结算价缺失时退化为参考价

package marketdata

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	lastPriceKey  = "price:last:%s"
	finalPriceKey = "price:final:%s"
)

type RedisProvider struct {
	client *redis.Client
}

var _ PriceProvider = (*RedisProvider)(nil)

func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

func (p *RedisProvider) LastPrice(ctx context.Context, asset string) (int64, error) {
	return p.getPrice(ctx, fmt.Sprintf(lastPriceKey, asset))
}

func (p *RedisProvider) FinalPrice(ctx context.Context, asset string) (int64, error) {
	price, err := p.getPrice(ctx, fmt.Sprintf(finalPriceKey, asset))
	if err == nil {
		return price, nil
	}
	return p.LastPrice(ctx, asset)
}

// SetLastPrice 写入最新参考价，供行情事件订阅方缓存
// 不设 TTL: 过期的旧价仍然好于无价，新报价到达即覆盖
func (p *RedisProvider) SetLastPrice(ctx context.Context, asset string, price int64) error {
	return p.client.Set(ctx, fmt.Sprintf(lastPriceKey, asset), strconv.FormatInt(price, 10), 0).Err()
}

func (p *RedisProvider) getPrice(ctx context.Context, key string) (int64, error) {
	raw, err := p.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, ErrPriceUnavailable
	}
	if err != nil {
		return 0, err
	}

	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}
