// 文件: pkg/spot/matcher.go
// 撮合引擎 - 价格优先、时间优先
//
// 一次撮合是一个可串行化数据库事务: 锁住该交易对所有在盘订单，
// 循环消除全部交叉盘口，成交、订单更新、钱包划转一起提交。
// 幂等: 无交叉盘口时再跑一遍是空操作。
//
// 【前置条件】同一交易对的撮合调用必须由调用方串行化
// (MatchWorker 单 goroutine 消费 pair.dirty)，引擎本身不做并发防护。

package spot

import (
	"context"
	"sort"
	"strconv"

	"gorm.io/gorm/clause"

	"hbx.com/pkg/ident"
	"hbx.com/pkg/pair"
	"hbx.com/pkg/stream"
	"hbx.com/pkg/wallet"
)

// =============================================================================
// MatchEngine - 撮合引擎
// =============================================================================

type MatchEngine struct {
	wallets *wallet.Repo
	pairs   pair.Repository
	bus     *stream.Bus
}

func NewMatchEngine(wallets *wallet.Repo, pairs pair.Repository, bus *stream.Bus) *MatchEngine {
	return &MatchEngine{wallets: wallets, pairs: pairs, bus: bus}
}

// matchState 一次撮合事务的累积结果，提交后统一发布
type matchState struct {
	executions []Execution
	changed    map[int64]*Order          // OrderID -> 最新状态
	balances   map[string]*wallet.Wallet // user|asset -> 最新余额
	journals   []*wallet.JournalEntry
}

func newMatchState() *matchState {
	return &matchState{
		changed:  make(map[int64]*Order),
		balances: make(map[string]*wallet.Wallet),
	}
}

func (st *matchState) balance(w *wallet.Wallet, e *wallet.JournalEntry) {
	if w != nil {
		st.balances[strconv.FormatInt(w.UserID, 10)+"|"+w.Asset] = w
	}
	if e != nil {
		st.journals = append(st.journals, e)
	}
}

// =============================================================================
// 撮合入口
// =============================================================================

// MatchOrders 消除该交易对当前全部交叉盘口，返回本次产生的成交
func (e *MatchEngine) MatchOrders(ctx context.Context, pairID int64) ([]Execution, error) {
	p, err := e.pairs.GetByID(ctx, pairID)
	if err != nil {
		return nil, err
	}

	st := newMatchState()
	err = e.wallets.Transaction(ctx, func(tx *wallet.Repo) error {
		buys, sells, err := e.loadBook(ctx, tx, pairID)
		if err != nil {
			return err
		}
		return e.cross(ctx, tx, p, buys, sells, st)
	})
	if err != nil {
		return nil, err
	}

	// 提交后发布
	for i := range st.executions {
		ex := &st.executions[i]
		e.bus.TradeExecuted(ex.ExecutionID, pairID, ex.BuyOrderID, ex.SellOrderID, ex.Price, ex.Amount)
	}
	for _, o := range st.changed {
		if o.Status == StatusCancelled {
			e.bus.OrderCancelled(o.OrderID, o.UserID, pairID)
		} else {
			e.bus.OrderFilled(o.OrderID, o.UserID, pairID, o.Filled, o.Status.String())
		}
	}
	for _, w := range st.balances {
		e.bus.BalanceChanged(w)
	}
	for _, j := range st.journals {
		e.bus.Journal(j)
	}

	return st.executions, nil
}

// loadBook 加行锁加载在盘订单
// 排序在内存里做: 市价单优先，然后价格，然后提交时间，
// 最后 OrderID 兜底，保证相同输入的撮合结果完全确定
func (e *MatchEngine) loadBook(ctx context.Context, tx *wallet.Repo, pairID int64) (buys, sells []*Order, err error) {
	active := []OrderStatus{StatusOpen, StatusPartial}

	load := func(side Side) ([]*Order, error) {
		var orders []*Order
		err := tx.DB().WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pair_id = ? AND side = ? AND status IN ?", pairID, side, active).
			Where("order_type <> ? OR triggered = ?", OrderTypeStopLimit, true).
			Order("created_at ASC, order_id ASC").
			Find(&orders).Error
		return orders, err
	}

	if buys, err = load(SideBuy); err != nil {
		return nil, nil, err
	}
	if sells, err = load(SideSell); err != nil {
		return nil, nil, err
	}

	sort.SliceStable(buys, func(i, j int) bool {
		return better(buys[i], buys[j], SideBuy)
	})
	sort.SliceStable(sells, func(i, j int) bool {
		return better(sells[i], sells[j], SideSell)
	})
	return buys, sells, nil
}

// better 盘口优先级: 市价单 > 价格优 > 时间早 > OrderID 小
func better(a, b *Order, side Side) bool {
	am, bm := a.OrderType == OrderTypeMarket, b.OrderType == OrderTypeMarket
	if am != bm {
		return am
	}
	if !am && a.Price != b.Price {
		if side == SideBuy {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.OrderID < b.OrderID
}

// =============================================================================
// 交叉消除循环
// =============================================================================

func (e *MatchEngine) cross(ctx context.Context, tx *wallet.Repo, p *pair.Pair, buys, sells []*Order, st *matchState) error {
	bi, si := 0, 0
	for {
		for bi < len(buys) && !buys[bi].Eligible() {
			bi++
		}
		for si < len(sells) && !sells[si].Eligible() {
			si++
		}
		if bi >= len(buys) || si >= len(sells) {
			break
		}

		bid, ask := buys[bi], sells[si]
		if !crosses(bid, ask) {
			break
		}

		price, ok := execPrice(bid, ask)
		if !ok {
			// 双方都是市价单，无价可依，留在盘口等限价单
			break
		}

		qty := min64(bid.Remaining(), ask.Remaining())
		cost := QuoteCost(price, qty)

		// 粉尘单: 成交额向下取整后为 0，报价资产无法划转。
		// 把余量小的一方撤掉 (解冻余量)，否则这对交叉盘口永远消不掉
		if cost == 0 {
			dust := ask
			if bid.Remaining() <= ask.Remaining() {
				dust = bid
			}
			if err := e.cancelInPass(ctx, tx, p, dust, st); err != nil {
				return err
			}
			continue
		}

		// 市价买单冻结的是预估额，按实际成交价可能不够付
		// 买得起多少成交多少，剩余部分撤掉 (资金耗尽语义)
		if bid.OrderType == OrderTypeMarket && cost > bid.LockedRemaining {
			affordable := BaseAmount(bid.LockedRemaining, price)
			if affordable <= 0 {
				if err := e.cancelInPass(ctx, tx, p, bid, st); err != nil {
					return err
				}
				continue
			}
			qty = min64(qty, affordable)
			cost = QuoteCost(price, qty)
		}

		if err := e.fill(ctx, tx, p, bid, ask, price, qty, cost, st); err != nil {
			return err
		}
	}
	return e.persistOrders(ctx, tx, st)
}

// crosses 盘口是否交叉
// 市价单总是可成交 (对手有价即可)
func crosses(bid, ask *Order) bool {
	if bid.OrderType == OrderTypeMarket || ask.OrderType == OrderTypeMarket {
		return true
	}
	return bid.Price >= ask.Price
}

// execPrice 成交价 = 挂单方 (maker，先到的一方) 的价格
// maker 是市价单时用 taker 的价格，双方都是市价单则无法定价
func execPrice(bid, ask *Order) (int64, bool) {
	maker, taker := bid, ask
	if makerOf(bid, ask) == ask {
		maker, taker = ask, bid
	}
	if maker.OrderType != OrderTypeMarket {
		return maker.Price, true
	}
	if taker.OrderType != OrderTypeMarket {
		return taker.Price, true
	}
	return 0, false
}

// makerOf 先提交的一方是 maker
func makerOf(bid, ask *Order) *Order {
	if bid.CreatedAt != ask.CreatedAt {
		if bid.CreatedAt < ask.CreatedAt {
			return bid
		}
		return ask
	}
	if bid.OrderID < ask.OrderID {
		return bid
	}
	return ask
}

// =============================================================================
// 单笔成交
// =============================================================================

// fill 撮合一笔: 成交记录 + 双边订单进度 + 四次钱包划转
// 买方: 冻结报价资产扣 cost，基础资产入账 qty
// 卖方: 冻结基础资产扣 qty，报价资产入账 cost
func (e *MatchEngine) fill(ctx context.Context, tx *wallet.Repo, p *pair.Pair,
	bid, ask *Order, price, qty, cost int64, st *matchState) error {

	execID := ident.GenerateID()
	bizID := strconv.FormatInt(execID, 10)

	exec := Execution{
		ExecutionID: execID,
		PairID:      p.ID,
		BuyOrderID:  bid.OrderID,
		SellOrderID: ask.OrderID,
		Price:       price,
		Amount:      qty,
		ExecutedAt:  nowMilli(),
	}
	if err := tx.DB().WithContext(ctx).Create(&exec).Error; err != nil {
		return err
	}
	st.executions = append(st.executions, exec)

	// 买方
	w, j, err := tx.DebitLocked(ctx, bid.UserID, p.Quote, cost, wallet.BizTypeTrade, bizID)
	if err != nil {
		return err
	}
	st.balance(w, j)
	bid.LockedRemaining -= cost

	w, j, err = tx.CreditAvailable(ctx, bid.UserID, p.Base, qty, wallet.BizTypeTrade, bizID)
	if err != nil {
		return err
	}
	st.balance(w, j)

	// 卖方
	w, j, err = tx.DebitLocked(ctx, ask.UserID, p.Base, qty, wallet.BizTypeTrade, bizID)
	if err != nil {
		return err
	}
	st.balance(w, j)
	ask.LockedRemaining -= qty

	w, j, err = tx.CreditAvailable(ctx, ask.UserID, p.Quote, cost, wallet.BizTypeTrade, bizID)
	if err != nil {
		return err
	}
	st.balance(w, j)

	// 订单进度
	bid.Filled += qty
	ask.Filled += qty
	if err := e.advance(ctx, tx, p, bid, st); err != nil {
		return err
	}
	return e.advance(ctx, tx, p, ask, st)
}

// advance 更新订单状态，完全成交时解冻残余
// 残余来源: 限价买单吃到更优价、市价单预估价偏高
func (e *MatchEngine) advance(ctx context.Context, tx *wallet.Repo, p *pair.Pair, o *Order, st *matchState) error {
	if o.Filled >= o.Amount {
		o.Status = StatusFilled
		if o.LockedRemaining > 0 {
			asset := p.Quote
			if o.Side == SideSell {
				asset = p.Base
			}
			w, j, err := tx.Release(ctx, o.UserID, asset, o.LockedRemaining,
				wallet.BizTypeOrder, strconv.FormatInt(o.OrderID, 10))
			if err != nil {
				return err
			}
			st.balance(w, j)
			o.LockedRemaining = 0
		}
	} else if o.Filled > 0 {
		o.Status = StatusPartial
	}
	st.changed[o.OrderID] = o
	return nil
}

// cancelInPass 撮合中途撤单 (市价买单资金耗尽 / 粉尘单)
// 买单解冻报价资产，卖单解冻基础资产
func (e *MatchEngine) cancelInPass(ctx context.Context, tx *wallet.Repo, p *pair.Pair, o *Order, st *matchState) error {
	if o.LockedRemaining > 0 {
		asset := p.Quote
		if o.Side == SideSell {
			asset = p.Base
		}
		w, j, err := tx.Release(ctx, o.UserID, asset, o.LockedRemaining,
			wallet.BizTypeOrder, strconv.FormatInt(o.OrderID, 10))
		if err != nil {
			return err
		}
		st.balance(w, j)
		o.LockedRemaining = 0
	}
	o.Status = StatusCancelled
	st.changed[o.OrderID] = o
	return nil
}

// persistOrders 把本次撮合改动的订单写回
func (e *MatchEngine) persistOrders(ctx context.Context, tx *wallet.Repo, st *matchState) error {
	for _, o := range st.changed {
		err := tx.DB().WithContext(ctx).Model(&Order{}).
			Where("order_id = ?", o.OrderID).
			Updates(map[string]any{
				"filled":           o.Filled,
				"status":           o.Status,
				"locked_remaining": o.LockedRemaining,
				"updated_at":       nowMilli(),
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 止损单触发
// =============================================================================

// TriggerStops 按最新价触发止损限价单
// 买入止损: 价格涨到触发价; 卖出止损: 价格跌到触发价
// 有触发时发 pair dirty，让 worker 再跑一次撮合
func (e *MatchEngine) TriggerStops(ctx context.Context, pairID, lastPrice int64) (int64, error) {
	result := e.wallets.DB().WithContext(ctx).Model(&Order{}).
		Where("pair_id = ? AND order_type = ? AND triggered = ? AND status IN ?",
			pairID, OrderTypeStopLimit, false, []OrderStatus{StatusOpen, StatusPartial}).
		Where("(side = ? AND trigger_price <= ?) OR (side = ? AND trigger_price >= ?)",
			SideBuy, lastPrice, SideSell, lastPrice).
		Updates(map[string]any{
			"triggered":  true,
			"updated_at": nowMilli(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		e.bus.PairDirty(pairID)
	}
	return result.RowsAffected, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
