// 文件: pkg/stream/nats.go
// NATS 连接封装 - 变更事件的发布与订阅

package stream

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// MessageHandler 订阅回调
type MessageHandler func(subject string, data []byte) error

// NatsConn NATS 连接
type NatsConn struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// ConnectNats 建立 NATS 连接
func ConnectNats(url string) (*NatsConn, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NatsConn{conn: conn}, nil
}

// Publish 发布 JSON 消息
func (n *NatsConn) Publish(subject string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return n.conn.Publish(subject, raw)
}

// Subscribe 普通订阅 (每个订阅者都收到)
func (n *NatsConn) Subscribe(handler MessageHandler, subjects ...string) error {
	for _, subject := range subjects {
		sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
			if err := handler(msg.Subject, msg.Data); err != nil {
				log.Printf("[NATS] handle error: subject=%s, err=%v", msg.Subject, err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		n.subs = append(n.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (组内负载均衡，单实例消费)
func (n *NatsConn) SubscribeQueue(subject, queue string, handler MessageHandler) error {
	sub, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		if err := handler(msg.Subject, msg.Data); err != nil {
			log.Printf("[NATS] handle error: subject=%s, err=%v", msg.Subject, err)
		}
	})
	if err != nil {
		return err
	}
	n.subs = append(n.subs, sub)
	return nil
}

// Close 关闭连接
func (n *NatsConn) Close() {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.conn.Close()
}

// Decode 反序列化 JSON 消息
func Decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
