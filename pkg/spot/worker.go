// 文件: pkg/spot/worker.go
// 撮合 worker - 单 goroutine 串行消费脏交易对
//
// 撮合的并发模型: 同一交易对的撮合必须串行。实现上所有 pair.dirty
// 通知汇聚到这一个 goroutine，天然串行，引擎里不需要再加锁。
// 通知去重: 同一交易对在排队中只记一次，撮合本身是幂等的，
// 丢通知最多晚一拍，下一次下单会再触发。

package spot

import (
	"context"
	"log"
	"sync"
)

const notifyBuffer = 256

type MatchWorker struct {
	engine *MatchEngine

	mu      sync.Mutex
	pending map[int64]bool // 排队中的交易对
	queue   chan int64

	stopOnce sync.Once
	done     chan struct{}
}

func NewMatchWorker(engine *MatchEngine) *MatchWorker {
	return &MatchWorker{
		engine:  engine,
		pending: make(map[int64]bool),
		queue:   make(chan int64, notifyBuffer),
		done:    make(chan struct{}),
	}
}

// Notify 标记交易对需要撮合，重复通知合并
func (w *MatchWorker) Notify(pairID int64) {
	w.mu.Lock()
	if w.pending[pairID] {
		w.mu.Unlock()
		return
	}
	w.pending[pairID] = true
	w.mu.Unlock()

	select {
	case w.queue <- pairID:
	default:
		// 队列满时放弃本次通知，撤销去重标记让下一次通知能进来
		log.Printf("[MatchWorker] queue full, dropping notify: pair_id=%d", pairID)
		w.mu.Lock()
		delete(w.pending, pairID)
		w.mu.Unlock()
	}
}

// Start 启动消费循环，ctx 取消或 Stop 时退出
func (w *MatchWorker) Start(ctx context.Context) {
	go func() {
		log.Println("[MatchWorker] started")
		for {
			select {
			case <-ctx.Done():
				log.Println("[MatchWorker] stopped:", ctx.Err())
				return
			case <-w.done:
				log.Println("[MatchWorker] stopped")
				return
			case pairID := <-w.queue:
				w.mu.Lock()
				delete(w.pending, pairID)
				w.mu.Unlock()

				execs, err := w.engine.MatchOrders(ctx, pairID)
				if err != nil {
					// 死锁回滚等瞬时错误: 不重试，下一次通知会再跑
					log.Printf("[MatchWorker] match failed: pair_id=%d, err=%v", pairID, err)
					continue
				}
				if len(execs) > 0 {
					log.Printf("[MatchWorker] matched: pair_id=%d, executions=%d", pairID, len(execs))
				}
			}
		}
	}()
}

func (w *MatchWorker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
