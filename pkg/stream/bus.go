// 文件: pkg/stream/bus.go
// 事件总线 - 核心服务的出口
//
// 事务提交成功后各服务调用这里发布变更事件:
//   NATS  → 协作方实时刷新 (UI/通知)
//   Kafka → 流水/审计下游落仓
//
// 发布失败只记日志，不影响已提交的事务 (状态以数据库为准，
// 协作方的兜底是 "提交后可查询")

package stream

import (
	"log"

	"hbx.com/pkg/wallet"
)

// Bus 事件总线
// nats/kafka 允许为 nil (测试或降级运行)，所有方法空安全
type Bus struct {
	nats  *NatsConn
	kafka *KafkaProducer
}

func NewBus(nats *NatsConn, kafka *KafkaProducer) *Bus {
	return &Bus{nats: nats, kafka: kafka}
}

// NewNoopBus 空总线 (测试用)
func NewNoopBus() *Bus {
	return &Bus{}
}

func (b *Bus) publish(subject string, event any) {
	if b == nil || b.nats == nil {
		return
	}
	if err := b.nats.Publish(subject, event); err != nil {
		log.Printf("[Bus] publish failed: subject=%s, err=%v", subject, err)
	}
}

// =============================================================================
// 订单事件
// =============================================================================

func (b *Bus) OrderPlaced(orderID, userID, pairID int64, status string) {
	b.publish(SubjectOrderPlaced, OrderEvent{
		OrderID: orderID, UserID: userID, PairID: pairID, Status: status, At: now(),
	})
}

func (b *Bus) OrderFilled(orderID, userID, pairID, filled int64, status string) {
	b.publish(SubjectOrderFilled, OrderEvent{
		OrderID: orderID, UserID: userID, PairID: pairID, Status: status, Filled: filled, At: now(),
	})
}

func (b *Bus) OrderCancelled(orderID, userID, pairID int64) {
	b.publish(SubjectOrderCancelled, OrderEvent{
		OrderID: orderID, UserID: userID, PairID: pairID, Status: "CANCELLED", At: now(),
	})
}

func (b *Bus) TradeExecuted(executionID, pairID, buyOrderID, sellOrderID, price, amount int64) {
	b.publish(SubjectTradeExecuted, TradeEvent{
		ExecutionID: executionID,
		PairID:      pairID,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Price:       price,
		Amount:      amount,
		At:          now(),
	})
}

// PairDirty 通知撮合 worker 该交易对需要撮合
func (b *Bus) PairDirty(pairID int64) {
	b.publish(SubjectPairDirty, PairDirtyEvent{PairID: pairID})
}

// =============================================================================
// 二元期权事件
// =============================================================================

func (b *Bus) WagerPlaced(wagerID, userID int64, asset string) {
	b.publish(SubjectWagerPlaced, WagerEvent{
		WagerID: wagerID, UserID: userID, Asset: asset, Status: "OPEN", At: now(),
	})
}

// WagerSettled 结算事件: NATS 实时事件 + Kafka 审计管道
func (b *Bus) WagerSettled(wagerID, userID int64, asset, outcome string, finalPrice, payout int64, adminID *int64) {
	b.publish(SubjectWagerSettled, WagerEvent{
		WagerID:    wagerID,
		UserID:     userID,
		Asset:      asset,
		Status:     outcome,
		FinalPrice: finalPrice,
		Payout:     payout,
		At:         now(),
	})

	b.sendKafka(&SettlementMessage{
		WagerID:    wagerID,
		Outcome:    outcome,
		FinalPrice: finalPrice,
		AdminID:    adminID,
		SettledAt:  now(),
	})
}

// =============================================================================
// 余额事件
// =============================================================================

// BalanceChanged 余额变更事件 + 流水入 Kafka
func (b *Bus) BalanceChanged(w *wallet.Wallet) {
	if w == nil {
		return
	}
	b.publish(SubjectBalanceChanged, BalanceEvent{
		UserID:    w.UserID,
		Asset:     w.Asset,
		Available: w.Available,
		Locked:    w.Locked,
		At:        now(),
	})
}

// Journal 流水记录进 Kafka 下游管道
func (b *Bus) Journal(entry *wallet.JournalEntry) {
	if entry == nil {
		return
	}
	payload, err := entry.ToJSON()
	if err != nil {
		log.Printf("[Bus] journal serialize failed: event_id=%s, err=%v", entry.EventID, err)
		return
	}
	b.sendKafka(NewJournalMessage(entry.UserID, entry.EventID, payload))
}

func (b *Bus) sendKafka(msg Message) {
	if b == nil || b.kafka == nil {
		return
	}
	if err := b.kafka.Send(msg); err != nil {
		log.Printf("[Bus] kafka send failed: topic=%s, err=%v", msg.Topic(), err)
	}
}
