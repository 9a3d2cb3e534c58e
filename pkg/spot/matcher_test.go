// 文件: pkg/spot/matcher_test.go
// 撮合规则单元测试 (纯逻辑，不依赖数据库)

package spot

import "testing"

const px = int64(100_000_000) // 1.0 的定点表示

func limitOrder(id int64, side Side, price, amount, createdAt int64) *Order {
	return &Order{
		OrderID:   id,
		Side:      side,
		OrderType: OrderTypeLimit,
		Price:     price,
		Amount:    amount,
		Status:    StatusOpen,
		Triggered: true,
		CreatedAt: createdAt,
	}
}

func marketOrder(id int64, side Side, amount, createdAt int64) *Order {
	return &Order{
		OrderID:   id,
		Side:      side,
		OrderType: OrderTypeMarket,
		Amount:    amount,
		Status:    StatusOpen,
		Triggered: true,
		CreatedAt: createdAt,
	}
}

// =============================================================================
// 盘口交叉
// =============================================================================

func TestCrosses(t *testing.T) {
	tests := []struct {
		name string
		bid  *Order
		ask  *Order
		want bool
	}{
		{"买价高于卖价 交叉", limitOrder(1, SideBuy, 101*px, px, 1), limitOrder(2, SideSell, 100*px, px, 2), true},
		{"买卖同价 交叉", limitOrder(1, SideBuy, 100*px, px, 1), limitOrder(2, SideSell, 100*px, px, 2), true},
		{"买价低于卖价 不交叉", limitOrder(1, SideBuy, 99*px, px, 1), limitOrder(2, SideSell, 100*px, px, 2), false},
		{"市价买 总是交叉", marketOrder(1, SideBuy, px, 1), limitOrder(2, SideSell, 100*px, px, 2), true},
		{"市价卖 总是交叉", limitOrder(1, SideBuy, 1*px, px, 1), marketOrder(2, SideSell, px, 2), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := crosses(tt.bid, tt.ask); got != tt.want {
				t.Errorf("crosses() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// 成交定价: 先到的一方 (maker) 说了算
// =============================================================================

func TestExecPrice_MakerWins(t *testing.T) {
	// 买单先挂 102，卖单后到 100 → 按挂单价 102 成交
	bid := limitOrder(1, SideBuy, 102*px, px, 10)
	ask := limitOrder(2, SideSell, 100*px, px, 20)

	price, ok := execPrice(bid, ask)
	if !ok || price != 102*px {
		t.Errorf("execPrice() = (%d, %v), want (%d, true)", price, ok, 102*px)
	}

	// 卖单先挂 100，买单后到 102 → 按挂单价 100 成交
	bid2 := limitOrder(3, SideBuy, 102*px, px, 20)
	ask2 := limitOrder(4, SideSell, 100*px, px, 10)

	price, ok = execPrice(bid2, ask2)
	if !ok || price != 100*px {
		t.Errorf("execPrice() = (%d, %v), want (%d, true)", price, ok, 100*px)
	}
}

func TestExecPrice_MarketMakerUsesTakerPrice(t *testing.T) {
	// 市价买单先挂 (无流动性时留在盘口)，限价卖单后到 → 用卖单价
	bid := marketOrder(1, SideBuy, px, 10)
	ask := limitOrder(2, SideSell, 100*px, px, 20)

	price, ok := execPrice(bid, ask)
	if !ok || price != 100*px {
		t.Errorf("execPrice() = (%d, %v), want (%d, true)", price, ok, 100*px)
	}
}

func TestExecPrice_BothMarket(t *testing.T) {
	bid := marketOrder(1, SideBuy, px, 10)
	ask := marketOrder(2, SideSell, px, 20)

	if _, ok := execPrice(bid, ask); ok {
		t.Error("two market orders have no price source, expected ok=false")
	}
}

func TestMakerOf_Tiebreak(t *testing.T) {
	// 同一毫秒提交: OrderID 小的算先到
	bid := limitOrder(5, SideBuy, 100*px, px, 10)
	ask := limitOrder(9, SideSell, 100*px, px, 10)

	if makerOf(bid, ask) != bid {
		t.Error("expected lower order id to be maker on timestamp tie")
	}
}

// =============================================================================
// 盘口排序
// =============================================================================

func TestBetter_PriceTimePriority(t *testing.T) {
	// 买盘: 价高优先
	if !better(limitOrder(1, SideBuy, 101*px, px, 10), limitOrder(2, SideBuy, 100*px, px, 5), SideBuy) {
		t.Error("higher bid price should rank first")
	}
	// 卖盘: 价低优先
	if !better(limitOrder(1, SideSell, 99*px, px, 10), limitOrder(2, SideSell, 100*px, px, 5), SideSell) {
		t.Error("lower ask price should rank first")
	}
	// 同价: 时间早优先
	if !better(limitOrder(1, SideBuy, 100*px, px, 5), limitOrder(2, SideBuy, 100*px, px, 10), SideBuy) {
		t.Error("earlier order should rank first at equal price")
	}
	// 市价单排最前
	if !better(marketOrder(1, SideBuy, px, 99), limitOrder(2, SideBuy, 999*px, px, 1), SideBuy) {
		t.Error("market order should rank before any limit order")
	}
	// 同价同时刻: OrderID 小的优先
	if !better(limitOrder(1, SideSell, 100*px, px, 10), limitOrder(2, SideSell, 100*px, px, 10), SideSell) {
		t.Error("lower order id should rank first on full tie")
	}
}

// =============================================================================
// 定点数换算
// =============================================================================

func TestQuoteCost(t *testing.T) {
	// 50000 × 0.5 = 25000
	if got := QuoteCost(50_000*px, px/2); got != 25_000*px {
		t.Errorf("QuoteCost = %d, want %d", got, 25_000*px)
	}

	// 中间积超出 int64 也不溢出: 1e6 价格 × 1e4 数量
	big := QuoteCost(1_000_000*px, 10_000*px)
	if big != 10_000_000_000*px {
		t.Errorf("QuoteCost overflow: got %d", big)
	}

	// 粉尘: 0.1 价格 × 1 satoshi 向下取整为 0，撮合按粉尘单处理
	if got := QuoteCost(px/10, 1); got != 0 {
		t.Errorf("QuoteCost dust = %d, want 0", got)
	}
}

func TestBaseAmount(t *testing.T) {
	// 25000 / 50000 = 0.5
	if got := BaseAmount(25_000*px, 50_000*px); got != px/2 {
		t.Errorf("BaseAmount = %d, want %d", got, px/2)
	}
	// 除不尽向下取整: 100 / 3 = 33.33333333
	if got := BaseAmount(100*px, 3*px); got != 3_333_333_333 {
		t.Errorf("BaseAmount = %d, want 3333333333", got)
	}
}

// =============================================================================
// 订单辅助方法
// =============================================================================

func TestOrder_Eligible(t *testing.T) {
	o := limitOrder(1, SideBuy, 100*px, 2*px, 1)
	if !o.Eligible() {
		t.Error("open limit order should be eligible")
	}

	o.Filled = 2 * px
	if o.Eligible() {
		t.Error("fully filled order should not be eligible")
	}

	stop := &Order{OrderID: 2, Side: SideBuy, OrderType: OrderTypeStopLimit,
		Price: 100 * px, TriggerPrice: 105 * px, Amount: px, Status: StatusOpen}
	if stop.Eligible() {
		t.Error("untriggered stop order should not be eligible")
	}
	stop.Triggered = true
	if !stop.Eligible() {
		t.Error("triggered stop order should be eligible")
	}
}
