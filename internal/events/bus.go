package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Subscription 单个全局流订阅者
// 入队不设上限，Publish 永不阻塞在慢消费者上
// （内存无界是接受的折衷；消费者断开即退订，泄漏窗口只有一次请求的生命周期）
type Subscription struct {
	mu     sync.Mutex
	queue  []any
	notify chan struct{}
	closed bool
}

func newSubscription() *Subscription {
	return &Subscription{notify: make(chan struct{}, 1)}
}

func (s *Subscription) push(event any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next 阻塞等待下一个事件；订阅被关闭或 ctx 取消时返回错误
func (s *Subscription) Next(ctx context.Context) (any, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return event, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, context.Canceled
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus 不区分用户的全局事件通道（跨用户/管理观察者用）
// 与按用户投递的 ws.Registry 相互独立，两者之间不保证全局顺序
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   map[*Subscription]struct{}{},
		logger: logger,
	}
}

// Subscribe 登记一个新订阅者
func (b *Bus) Subscribe() *Subscription {
	s := newSubscription()
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe 注销订阅者并唤醒其挂起的 Next
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.close()
}

// Publish 把事件放入每个当前订阅者的队列
func (b *Bus) Publish(event any) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(event)
	}
}

// SubscriberCount 当前订阅者数量（健康检查用）
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
