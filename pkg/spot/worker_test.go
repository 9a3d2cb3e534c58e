// 文件: pkg/spot/worker_test.go
// 撮合 worker 通知去重测试

package spot

import "testing"

func TestMatchWorker_NotifyDedup(t *testing.T) {
	w := NewMatchWorker(nil) // 不启动消费，只验证入队

	w.Notify(1)
	w.Notify(1)
	w.Notify(1)
	w.Notify(2)

	// 同一交易对排队中只记一次
	if got := len(w.queue); got != 2 {
		t.Errorf("queue length = %d, want 2", got)
	}
}

func TestMatchWorker_StopIdempotent(t *testing.T) {
	w := NewMatchWorker(nil)
	w.Stop()
	w.Stop() // 重复 Stop 不 panic
}
