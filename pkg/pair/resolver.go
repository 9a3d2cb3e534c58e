// 文件: pkg/pair/resolver.go
// 交易对符号解析
//
// API 边界的便利功能: 精确匹配优先，失败后退化为子串匹配
// (用户输入 "BTC" 也能找到 "BTC_USDT")
// 模糊匹配只是查询便利，撮合引擎本身永远只认内部 pair ID

package pair

import (
	"context"
	"strings"
)

// Resolver 符号解析器
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve 把用户输入的符号解析成交易对
//
// 顺序:
// 1. 精确匹配 (大小写不敏感，统一转大写)
// 2. 子串匹配，命中多个时取符号字典序最小的，保证确定性
//
// 找不到返回 ErrPairNotFound
func (r *Resolver) Resolve(ctx context.Context, symbol string) (*Pair, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrPairNotFound
	}

	// 1. 精确匹配
	p, err := r.repo.GetBySymbol(ctx, symbol)
	if err == nil {
		return p, nil
	}
	if err != ErrPairNotFound {
		return nil, err
	}

	// 2. 子串匹配
	pairs, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var best *Pair
	for _, candidate := range pairs {
		if !strings.Contains(candidate.Symbol, symbol) {
			continue
		}
		if best == nil || candidate.Symbol < best.Symbol {
			best = candidate
		}
	}
	if best == nil {
		return nil, ErrPairNotFound
	}
	return best, nil
}
