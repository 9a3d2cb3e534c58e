// 文件: pkg/marketdata/provider.go
// 行情边界 - 价格提供者接口
//
// 行情接入是外部协作方的职责，核心层只依赖这个接口。
// 结算/市价单预估用的价格必须在进入数据库事务之前取好，
// 持有行锁期间不做任何外部 I/O。

package marketdata

import (
	"context"
	"errors"
	"sync"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// PriceProvider 价格提供者
// 价格为定点数 (1e8)
type PriceProvider interface {
	// LastPrice 当前参考价 (市价单预估冻结用)
	LastPrice(ctx context.Context, asset string) (int64, error)

	// FinalPrice 结算价 (二元期权到期结算用)
	FinalPrice(ctx context.Context, asset string) (int64, error)
}

// =============================================================================
// MemoryProvider - 进程内实现 (测试/模拟用)
// =============================================================================

// MemoryProvider 内存价格表，由外部推送更新
type MemoryProvider struct {
	mu     sync.RWMutex
	prices map[string]int64
}

var _ PriceProvider = (*MemoryProvider)(nil)

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{prices: make(map[string]int64)}
}

// SetPrice 推送价格更新
func (p *MemoryProvider) SetPrice(asset string, price int64) {
	p.mu.Lock()
	p.prices[asset] = price
	p.mu.Unlock()
}

// Clear 撤掉某个标的的报价 (模拟行情中断)
func (p *MemoryProvider) Clear(asset string) {
	p.mu.Lock()
	delete(p.prices, asset)
	p.mu.Unlock()
}

func (p *MemoryProvider) LastPrice(_ context.Context, asset string) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[asset]
	if !ok || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

func (p *MemoryProvider) FinalPrice(ctx context.Context, asset string) (int64, error) {
	return p.LastPrice(ctx, asset)
}
